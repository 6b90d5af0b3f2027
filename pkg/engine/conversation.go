package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arbiterlabs/arbiter/pkg/events"
	"github.com/arbiterlabs/arbiter/pkg/models"
)

// runConversation executes conversation mode: seats speak in declared order
// each round, a scribe condenses every round, and a facilitator closes with
// a synthesis. Unlike the adversarial modes there is no judging; the value
// is the transcript and the final summary.
func (e *Engine) runConversation(ctx context.Context, d *models.Debate, st *debateState, pub *events.Publisher) (models.DebateStatus, *models.UsageAccumulator) {
	log := slog.With("debate_id", d.ID, "mode", d.Mode)

	rounds := d.Config.MaxRounds
	if rounds <= 0 || rounds > e.cfg.ConversationMaxRounds {
		rounds = e.cfg.ConversationMaxRounds
	}
	log.Info("Conversation starting", "rounds", rounds, "seats", len(d.Panel.Seats))

	var transcript strings.Builder
	abort := func(s stage, err error) (models.DebateStatus, *models.UsageAccumulator) {
		return e.finishAbnormal(ctx, d, st, pub, s, err), st.usage
	}

	for r := 1; r <= rounds; r++ {
		speakStage := stage{label: models.RoundSpeak}
		if err := ctx.Err(); err != nil {
			return abort(speakStage, err)
		}

		st.roundIndex++
		if err := e.store.StartRound(ctx, d.ID, st.roundIndex, models.RoundSpeak, ""); err != nil {
			return abort(speakStage, fmt.Errorf("start round %d: %w", st.roundIndex, err))
		}
		pub.RoundStarted(ctx, st.roundIndex, string(models.RoundSpeak))

		spoke := 0
		for _, spec := range d.Panel.Seats {
			phaseContext := conversationContext(r, transcript.String())
			res, err := e.runner.Speak(ctx, d.ID, spec, modelFor(d, spec), d.Prompt, phaseContext, st.usage)
			if err != nil {
				if ctx.Err() != nil {
					return abort(speakStage, err)
				}
				st.failed = append(st.failed, spec.SeatID)
				log.Warn("Seat failed to speak", "round", st.roundIndex, "seat_id", spec.SeatID, "error", err)
				continue
			}
			spoke++
			content := res.Envelope.Content
			fmt.Fprintf(&transcript, "\n[round %d] %s: %s\n", r, spec.DisplayName, content)

			msg := &models.Message{
				DebateID:   d.ID,
				RoundIndex: st.roundIndex,
				Role:       models.RoleSeat,
				Persona:    spec.DisplayName,
				Content:    content,
				Meta:       map[string]any{"seat_id": spec.SeatID, "phase": "speak"},
			}
			if err := e.store.AddMessage(ctx, msg); err != nil {
				return abort(speakStage, fmt.Errorf("persist utterance: %w", err))
			}
			pub.SeatMessage(ctx, st.roundIndex, "speak", map[string]any{
				"seat_id": spec.SeatID, "persona": spec.DisplayName, "content": content,
			})
		}

		if spoke == 0 {
			e.endRound(ctx, d, st, pub)
			return abort(speakStage, &fatalError{
				Reason:       fmt.Sprintf("no seat spoke in round %d", r),
				FailureCount: len(d.Panel.Seats),
			})
		}

		if summary, err := e.scribeRound(ctx, d, st, pub, r, transcript.String()); err != nil {
			log.Warn("Scribe failed, round left unsummarized", "round", st.roundIndex, "error", err)
		} else {
			// The running summary doubles as the degraded-result fallback.
			st.candidates = []candidate{{SeatID: "scribe", Persona: "Scribe", Content: summary}}
		}

		e.endRound(ctx, d, st, pub)
		if err := e.checkpoint(ctx, d, st, pub, string(models.RoundSpeak), r-1); err != nil {
			log.Warn("Failed to write checkpoint", "round", st.roundIndex, "error", err)
		}

		if err := e.conversationBudget(d, st); err != nil {
			return abort(speakStage, err)
		}
	}

	// Closing synthesis by the facilitator.
	synthStage := stage{label: models.RoundSynth}
	st.roundIndex++
	if err := e.store.StartRound(ctx, d.ID, st.roundIndex, models.RoundSynth, ""); err != nil {
		return abort(synthStage, fmt.Errorf("start synthesis round: %w", err))
	}
	pub.RoundStarted(ctx, st.roundIndex, string(models.RoundSynth))

	instructions := "As facilitator, close this conversation. Summarize the main threads, name the " +
		"points of agreement and open disagreements, and state the practical takeaways.\n\nQuestion:\n" + d.Prompt
	err := e.composeFinal(ctx, d, st, pub, "facilitator", instructions, models.RoleSynthesizer)
	e.endRound(ctx, d, st, pub)
	if err != nil {
		return abort(synthStage, err)
	}

	meta := e.finalMeta(st, map[string]any{"rounds": rounds})
	e.finalize(d, pub, models.StatusCompleted, st.finalContent, meta)
	log.Info("Conversation completed", "rounds", st.roundIndex, "tokens", st.usage.TotalTokens())
	return models.StatusCompleted, st.usage
}

// scribeRound condenses the transcript so far into a running summary.
func (e *Engine) scribeRound(ctx context.Context, d *models.Debate, st *debateState, pub *events.Publisher, round int, transcript string) (string, error) {
	spec := e.scribeSpec(d)
	instructions := fmt.Sprintf("As scribe, condense rounds 1-%d of this conversation into a brief "+
		"running summary: positions taken, agreements reached, questions still open.", round)

	summary, err := e.runner.Compose(ctx, spec, modelFor(d, spec), instructions, transcript, st.usage)
	if err != nil {
		return "", err
	}
	msg := &models.Message{
		DebateID:   d.ID,
		RoundIndex: st.roundIndex,
		Role:       models.RoleScribe,
		Persona:    spec.DisplayName,
		Content:    summary,
		Meta:       map[string]any{"seat_id": spec.SeatID},
	}
	if err := e.store.AddMessage(ctx, msg); err != nil {
		return "", err
	}
	pub.Message(ctx, st.roundIndex, map[string]any{"phase": "scribe", "summary": summary})
	return summary, nil
}

func (e *Engine) scribeSpec(d *models.Debate) models.SeatSpec {
	base := d.Panel.Seats[0]
	return models.SeatSpec{
		SeatID:      "scribe",
		DisplayName: "Scribe",
		ProviderKey: base.ProviderKey,
		Model:       base.Model,
		RoleProfile: "scribe",
		Temperature: 0.2,
	}
}

// conversationBudget layers the mode-wide token ceiling over the debate's
// own budget.
func (e *Engine) conversationBudget(d *models.Debate, st *debateState) error {
	if err := checkBudget(d.Config.Budget, st.usage); err != nil {
		return err
	}
	if e.cfg.ConversationMaxTokens > 0 && st.usage.TotalTokens() >= e.cfg.ConversationMaxTokens {
		return &budgetError{TruncateReason: "token_budget_exceeded"}
	}
	return nil
}

func (e *Engine) endRound(ctx context.Context, d *models.Debate, st *debateState, pub *events.Publisher) {
	if err := e.store.EndRound(ctx, d.ID, st.roundIndex); err != nil {
		slog.Warn("Failed to end round", "debate_id", d.ID, "round", st.roundIndex, "error", err)
	}
	pub.RoundEnded(ctx, st.roundIndex)
}

func conversationContext(round int, transcript string) string {
	if strings.TrimSpace(transcript) == "" {
		return "Phase: conversation, round 1. Open the discussion from your role's perspective. " +
			"Respond to the question directly; later rounds will build on what is said here."
	}
	return fmt.Sprintf("Phase: conversation, round %d. Transcript so far:\n%s\n\n"+
		"Respond to what has been said: build on it, challenge it, or redirect it.", round, transcript)
}
