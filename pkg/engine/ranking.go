package engine

import (
	"sort"

	"github.com/arbiterlabs/arbiter/pkg/models"
)

// RankingResult is the aggregated outcome of the judge stage.
type RankingResult struct {
	Rankings  []string           // personas, best first
	Means     map[string]float64 // arithmetic mean across judges
	Borda     map[string]int
	Condorcet map[string]int
}

// ComputeRankings fuses Borda and Condorcet tallies over judge scores.
//
// Personas are first ordered by mean score (ties by declared panel
// position), giving Borda points n-i-1 for position i. Condorcet counts,
// for each persona, the opponents it beats in per-judge pairwise
// comparison. The final order sorts by (borda+condorcet, borda, condorcet)
// descending, position ascending as the last resort — deterministic for
// identical inputs regardless of score arrival order.
func ComputeRankings(scores []*models.Score, positions map[string]int) RankingResult {
	means := make(map[string]float64)
	counts := make(map[string]int)
	byJudge := make(map[string]map[string]float64)
	for _, sc := range scores {
		means[sc.Persona] += sc.Score
		counts[sc.Persona]++
		if byJudge[sc.Judge] == nil {
			byJudge[sc.Judge] = make(map[string]float64)
		}
		byJudge[sc.Judge][sc.Persona] = sc.Score
	}
	personas := make([]string, 0, len(means))
	for p := range means {
		means[p] /= float64(counts[p])
		personas = append(personas, p)
	}

	// Borda: order by mean desc, panel position asc.
	sort.Slice(personas, func(i, j int) bool {
		a, b := personas[i], personas[j]
		if means[a] != means[b] {
			return means[a] > means[b]
		}
		return positions[a] < positions[b]
	})
	n := len(personas)
	borda := make(map[string]int, n)
	for i, p := range personas {
		borda[p] = n - i - 1
	}

	// Condorcet: pairwise dominance across judges.
	condorcet := make(map[string]int, n)
	for _, p := range personas {
		condorcet[p] = 0
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := personas[i], personas[j]
			winsA, winsB := 0, 0
			for _, js := range byJudge {
				sa, oka := js[a]
				sb, okb := js[b]
				if !oka || !okb {
					continue
				}
				switch {
				case sa > sb:
					winsA++
				case sb > sa:
					winsB++
				}
			}
			if winsA > winsB {
				condorcet[a]++
			} else if winsB > winsA {
				condorcet[b]++
			}
		}
	}

	ranked := make([]string, len(personas))
	copy(ranked, personas)
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		fa, fb := borda[a]+condorcet[a], borda[b]+condorcet[b]
		if fa != fb {
			return fa > fb
		}
		if borda[a] != borda[b] {
			return borda[a] > borda[b]
		}
		if condorcet[a] != condorcet[b] {
			return condorcet[a] > condorcet[b]
		}
		return positions[a] < positions[b]
	})

	return RankingResult{Rankings: ranked, Means: means, Borda: borda, Condorcet: condorcet}
}

// voteResult renders the ranking as the persisted Vote payload.
func (r RankingResult) voteResult() map[string]any {
	fused := make(map[string]any, len(r.Rankings))
	for _, p := range r.Rankings {
		fused[p] = map[string]any{
			"borda":     r.Borda[p],
			"condorcet": r.Condorcet[p],
			"mean":      r.Means[p],
		}
	}
	return fused
}
