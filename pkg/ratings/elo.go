// Package ratings maintains long-lived Elo records per persona and category,
// fed by pairwise outcomes derived from judge scores.
package ratings

import "math"

// Rating parameters. Novice personas move faster so new entrants converge
// quickly; established ratings are harder to shift.
const (
	InitialElo      = 1500.0
	KNovice         = 32.0
	KEstablished    = 24.0
	NoviceThreshold = 15
	wilsonZ         = 1.96
)

// ExpectedScore returns the probability that a beats b under the Elo model.
func ExpectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/400.0))
}

// kFactor picks the update step: fast while either side is a novice.
func kFactor(matchesA, matchesB int) float64 {
	if matchesA < NoviceThreshold || matchesB < NoviceThreshold {
		return KNovice
	}
	return KEstablished
}

// UpdatePair applies one match outcome (scoreA = 1 win, 0 loss, 0.5 draw)
// and returns the new ratings.
func UpdatePair(ratingA, ratingB float64, matchesA, matchesB int, scoreA float64) (float64, float64) {
	k := kFactor(matchesA, matchesB)
	ea := ExpectedScore(ratingA, ratingB)
	newA := ratingA + k*(scoreA-ea)
	newB := ratingB + k*((1-scoreA)-(1-ea))
	return newA, newB
}

// WilsonInterval returns the 95% confidence bounds for a win rate observed
// over n matches.
func WilsonInterval(wins, n int) (low, high float64) {
	if n == 0 {
		return 0, 0
	}
	p := float64(wins) / float64(n)
	z := wilsonZ
	z2 := z * z
	nf := float64(n)

	denom := 1 + z2/nf
	center := (p + z2/(2*nf)) / denom
	margin := z * math.Sqrt(p*(1-p)/nf+z2/(4*nf*nf)) / denom

	low = center - margin
	high = center + margin
	if low < 0 {
		low = 0
	}
	if high > 1 {
		high = 1
	}
	return low, high
}
