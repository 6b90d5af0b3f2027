package models

import "time"

// Checkpoint is the durable resume marker for a debate. One row per debate;
// it advances monotonically until the debate is terminal.
type Checkpoint struct {
	DebateID         string
	Step             string
	StepIndex        int
	RoundIndex       int
	Status           DebateStatus
	AttemptCount     int
	ResumeToken      string
	ResumeClaimedAt  *time.Time
	LastCheckpointAt time.Time
	LastEventAt      *time.Time
	ContextMeta      map[string]any
}

// Terminal reports whether the checkpoint records a finished run.
func (c *Checkpoint) Terminal() bool {
	return c.Status.IsTerminal()
}

// LastEventSeq returns the event sequence recorded at checkpoint time.
// context_meta round-trips through JSON, so the value may arrive as a
// float64.
func (c *Checkpoint) LastEventSeq() int64 {
	switch v := c.ContextMeta["last_event_seq"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}
