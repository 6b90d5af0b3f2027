package models

import "time"

// Score is one judge's rating of a persona under the rubric.
// Scores are clamped to [0, 10] at parse time.
type Score struct {
	DebateID  string
	Persona   string
	Judge     string
	Score     float64
	Rationale string
	Meta      map[string]any
	CreatedAt time.Time
}

// VoteMethodBordaCondorcet is the fused rank-aggregation method the engine
// produces for every scored debate.
const VoteMethodBordaCondorcet = "borda+condorcet"

// Vote is the aggregated ranking result for a debate.
type Vote struct {
	DebateID  string
	Method    string
	Rankings  []string
	Weights   map[string]float64
	Result    map[string]any
	CreatedAt time.Time
}

// PairwiseVote records one judge-derived pairwise outcome, the input to the
// Elo update.
type PairwiseVote struct {
	DebateID   string
	Category   string
	CandidateA string
	CandidateB string
	Winner     string
	JudgeID    string
	UserID     string
	CreatedAt  time.Time
}
