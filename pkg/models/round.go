package models

import "time"

// RoundLabel names an executed pipeline phase.
type RoundLabel string

const (
	RoundDraft    RoundLabel = "draft"
	RoundCritique RoundLabel = "critique"
	RoundJudge    RoundLabel = "judge"
	RoundExplore  RoundLabel = "explore"
	RoundRebuttal RoundLabel = "rebuttal"
	RoundConverge RoundLabel = "converge"
	RoundSpeak    RoundLabel = "speak"
	RoundVerdict  RoundLabel = "verdict"
	RoundSynth    RoundLabel = "synthesis"
)

// Round is one executed phase of a debate pipeline. Indices are 1-based and
// strictly increasing per debate.
type Round struct {
	DebateID  string
	Index     int
	Label     RoundLabel
	Note      string
	StartedAt time.Time
	EndedAt   *time.Time
}

// MessageRole identifies the producer of a message.
type MessageRole string

const (
	RoleCandidate   MessageRole = "candidate"
	RoleRevised     MessageRole = "revised"
	RoleSeat        MessageRole = "seat"
	RoleJudge       MessageRole = "judge"
	RoleSynthesizer MessageRole = "synthesizer"
	RoleScribe      MessageRole = "scribe"
)

// Message is one utterance by a seat or stage.
type Message struct {
	DebateID   string
	RoundIndex int
	Role       MessageRole
	Persona    string
	Content    string
	Meta       map[string]any
	CreatedAt  time.Time
}
