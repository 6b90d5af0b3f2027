package ratings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/arbiterlabs/arbiter/pkg/models"
	"github.com/arbiterlabs/arbiter/pkg/store"
)

// Store is the persistence surface the ratings service needs.
type Store interface {
	GetRating(ctx context.Context, persona, category string) (*models.RatingPersona, error)
	UpsertRating(ctx context.Context, r *models.RatingPersona) error
	InsertPairwiseVote(ctx context.Context, v *models.PairwiseVote) error
}

// Service converts judge scores into pairwise outcomes and Elo updates.
type Service struct {
	store Store
}

// NewService creates the ratings service.
func NewService(st Store) *Service {
	return &Service{store: st}
}

// RecordDebate derives pairwise winners from each judge's scores and applies
// Elo updates. Equal scores are skipped. Failures are logged, not fatal:
// ratings are ancillary to the debate outcome.
func (s *Service) RecordDebate(ctx context.Context, debateID, category, userID string, scores []*models.Score) {
	if category == "" {
		category = "general"
	}

	byJudge := make(map[string][]*models.Score)
	for _, sc := range scores {
		byJudge[sc.Judge] = append(byJudge[sc.Judge], sc)
	}

	judges := make([]string, 0, len(byJudge))
	for j := range byJudge {
		judges = append(judges, j)
	}
	sort.Strings(judges)

	for _, judge := range judges {
		js := byJudge[judge]
		sort.Slice(js, func(i, k int) bool { return js[i].Persona < js[k].Persona })
		for i := 0; i < len(js); i++ {
			for k := i + 1; k < len(js); k++ {
				a, b := js[i], js[k]
				if a.Persona == b.Persona || a.Score == b.Score {
					continue
				}
				winner := a.Persona
				if b.Score > a.Score {
					winner = b.Persona
				}
				if err := s.applyPair(ctx, debateID, category, userID, judge, a.Persona, b.Persona, winner); err != nil {
					slog.Warn("Failed to apply rating update",
						"debate_id", debateID, "judge", judge, "error", err)
				}
			}
		}
	}
}

func (s *Service) applyPair(ctx context.Context, debateID, category, userID, judge, personaA, personaB, winner string) error {
	if err := s.store.InsertPairwiseVote(ctx, &models.PairwiseVote{
		DebateID:   debateID,
		Category:   category,
		CandidateA: personaA,
		CandidateB: personaB,
		Winner:     winner,
		JudgeID:    judge,
		UserID:     userID,
	}); err != nil {
		return err
	}

	ra, err := s.rating(ctx, personaA, category)
	if err != nil {
		return err
	}
	rb, err := s.rating(ctx, personaB, category)
	if err != nil {
		return err
	}

	scoreA := 0.0
	if winner == personaA {
		scoreA = 1.0
	}
	newA, newB := UpdatePair(ra.Elo, rb.Elo, ra.NMatches, rb.NMatches, scoreA)

	if err := s.commit(ctx, ra, newA, scoreA == 1.0); err != nil {
		return err
	}
	return s.commit(ctx, rb, newB, scoreA == 0.0)
}

func (s *Service) rating(ctx context.Context, persona, category string) (*models.RatingPersona, error) {
	r, err := s.store.GetRating(ctx, persona, category)
	if errors.Is(err, store.ErrNotFound) {
		return &models.RatingPersona{Persona: persona, Category: category, Elo: InitialElo}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load rating %s/%s: %w", persona, category, err)
	}
	return r, nil
}

func (s *Service) commit(ctx context.Context, r *models.RatingPersona, newElo float64, won bool) error {
	wins := int(math.Round(r.WinRate * float64(r.NMatches)))
	if won {
		wins++
	}
	r.NMatches++
	r.Elo = newElo
	r.WinRate = float64(wins) / float64(r.NMatches)
	r.CILow, r.CIHigh = WilsonInterval(wins, r.NMatches)
	return s.store.UpsertRating(ctx, r)
}
