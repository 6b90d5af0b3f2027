package ratings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/arbiter/pkg/models"
	"github.com/arbiterlabs/arbiter/pkg/store"
)

type memRatingStore struct {
	ratings map[string]*models.RatingPersona
	votes   []*models.PairwiseVote
}

func newMemRatingStore() *memRatingStore {
	return &memRatingStore{ratings: make(map[string]*models.RatingPersona)}
}

func (m *memRatingStore) GetRating(_ context.Context, persona, category string) (*models.RatingPersona, error) {
	r, ok := m.ratings[persona+"/"+category]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRatingStore) UpsertRating(_ context.Context, r *models.RatingPersona) error {
	cp := *r
	m.ratings[r.Persona+"/"+r.Category] = &cp
	return nil
}

func (m *memRatingStore) InsertPairwiseVote(_ context.Context, v *models.PairwiseVote) error {
	m.votes = append(m.votes, v)
	return nil
}

func TestExpectedScoreSymmetry(t *testing.T) {
	assert.InDelta(t, 0.5, ExpectedScore(1500, 1500), 1e-9)
	ea := ExpectedScore(1600, 1400)
	eb := ExpectedScore(1400, 1600)
	assert.InDelta(t, 1.0, ea+eb, 1e-9)
	assert.Greater(t, ea, 0.7)
}

func TestUpdatePairNoviceK(t *testing.T) {
	// Both novices at equal ratings: winner gains K/2 = 16.
	newA, newB := UpdatePair(1500, 1500, 0, 0, 1.0)
	assert.InDelta(t, 1516, newA, 1e-9)
	assert.InDelta(t, 1484, newB, 1e-9)
}

func TestUpdatePairEstablishedK(t *testing.T) {
	newA, _ := UpdatePair(1500, 1500, 20, 20, 1.0)
	assert.InDelta(t, 1512, newA, 1e-9)
}

func TestUpdatePairMixedUsesNoviceK(t *testing.T) {
	newA, _ := UpdatePair(1500, 1500, 20, 3, 1.0)
	assert.InDelta(t, 1516, newA, 1e-9)
}

func TestWilsonInterval(t *testing.T) {
	low, high := WilsonInterval(0, 0)
	assert.Zero(t, low)
	assert.Zero(t, high)

	low, high = WilsonInterval(8, 10)
	assert.Greater(t, low, 0.4)
	assert.Less(t, high, 1.0)
	assert.Less(t, low, 0.8)
	assert.Greater(t, high, 0.8)

	// Bounds stay in [0,1] at the extremes.
	low, high = WilsonInterval(10, 10)
	assert.GreaterOrEqual(t, low, 0.0)
	assert.LessOrEqual(t, high, 1.0)
}

func TestRecordDebatePairwiseConversion(t *testing.T) {
	st := newMemRatingStore()
	svc := NewService(st)

	scores := []*models.Score{
		{DebateID: "d1", Judge: "judge-1", Persona: "optimist", Score: 8},
		{DebateID: "d1", Judge: "judge-1", Persona: "risk_officer", Score: 6},
		{DebateID: "d1", Judge: "judge-1", Persona: "architect", Score: 6},
	}
	svc.RecordDebate(context.Background(), "d1", "general", "u1", scores)

	// optimist beats both; architect vs risk_officer is a tie and skipped.
	require.Len(t, st.votes, 2)
	for _, v := range st.votes {
		assert.Equal(t, "optimist", v.Winner)
	}

	opt := st.ratings["optimist/general"]
	require.NotNil(t, opt)
	assert.Equal(t, 2, opt.NMatches)
	assert.Greater(t, opt.Elo, InitialElo)
	assert.InDelta(t, 1.0, opt.WinRate, 1e-9)
	assert.Greater(t, opt.CIHigh, opt.CILow)

	risk := st.ratings["risk_officer/general"]
	require.NotNil(t, risk)
	assert.Equal(t, 1, risk.NMatches)
	assert.Less(t, risk.Elo, InitialElo)
}

func TestRecordDebateMultipleJudges(t *testing.T) {
	st := newMemRatingStore()
	svc := NewService(st)

	scores := []*models.Score{
		{DebateID: "d1", Judge: "judge-1", Persona: "a", Score: 9},
		{DebateID: "d1", Judge: "judge-1", Persona: "b", Score: 5},
		{DebateID: "d1", Judge: "judge-2", Persona: "a", Score: 4},
		{DebateID: "d1", Judge: "judge-2", Persona: "b", Score: 7},
	}
	svc.RecordDebate(context.Background(), "d1", "general", "u1", scores)

	require.Len(t, st.votes, 2)
	a := st.ratings["a/general"]
	require.NotNil(t, a)
	assert.Equal(t, 2, a.NMatches)
	assert.InDelta(t, 0.5, a.WinRate, 1e-9)
}

func TestRecordDebateDefaultsCategory(t *testing.T) {
	st := newMemRatingStore()
	svc := NewService(st)
	svc.RecordDebate(context.Background(), "d1", "", "u1", []*models.Score{
		{DebateID: "d1", Judge: "j", Persona: "a", Score: 9},
		{DebateID: "d1", Judge: "j", Persona: "b", Score: 1},
	})
	require.Len(t, st.votes, 1)
	assert.Equal(t, "general", st.votes[0].Category)
}
