package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/arbiter/pkg/config"
	"github.com/arbiterlabs/arbiter/pkg/events"
	"github.com/arbiterlabs/arbiter/pkg/health"
	"github.com/arbiterlabs/arbiter/pkg/llm"
	"github.com/arbiterlabs/arbiter/pkg/masking"
	"github.com/arbiterlabs/arbiter/pkg/models"
	"github.com/arbiterlabs/arbiter/pkg/seat"
)

// memStore is an in-memory StateStore double.
type memStore struct {
	mu          sync.Mutex
	rounds      []models.Round
	messages    []*models.Message
	scores      []*models.Score
	votes       []*models.Vote
	checkpoints []*models.Checkpoint

	finalStatus  models.DebateStatus
	finalContent string
	finalMeta    map[string]any
	finalized    bool
}

func (m *memStore) StartRound(_ context.Context, debateID string, index int, label models.RoundLabel, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds = append(m.rounds, models.Round{DebateID: debateID, Index: index, Label: label, Note: note})
	return nil
}

func (m *memStore) EndRound(context.Context, string, int) error { return nil }

func (m *memStore) AddMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *memStore) AddScore(_ context.Context, sc *models.Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores = append(m.scores, sc)
	return nil
}

func (m *memStore) SaveVote(_ context.Context, v *models.Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votes = append(m.votes, v)
	return nil
}

func (m *memStore) UpsertCheckpoint(_ context.Context, c *models.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints = append(m.checkpoints, c)
	return nil
}

func (m *memStore) GetCheckpoint(_ context.Context, debateID string) (*models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.checkpoints) - 1; i >= 0; i-- {
		if m.checkpoints[i].DebateID == debateID {
			return m.checkpoints[i], nil
		}
	}
	return nil, errors.New("checkpoint not found")
}

func (m *memStore) PurgeRunArtifacts(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds = nil
	m.messages = nil
	m.scores = nil
	m.votes = nil
	return nil
}

func (m *memStore) FinalizeDebate(_ context.Context, _ string, status models.DebateStatus, content string, meta map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized = true
	m.finalStatus = status
	m.finalContent = content
	m.finalMeta = meta
	return nil
}

func (m *memStore) roundLabels() []models.RoundLabel {
	m.mu.Lock()
	defer m.mu.Unlock()
	labels := make([]models.RoundLabel, len(m.rounds))
	for i, r := range m.rounds {
		labels[i] = r.Label
	}
	return labels
}

func (m *memStore) messagesByRole(role models.MessageRole) []*models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Message
	for _, msg := range m.messages {
		if msg.Role == role {
			out = append(out, msg)
		}
	}
	return out
}

// mockProvider answers by call kind: judge calls get a score keyed off the
// candidate text, seat calls get an envelope naming the seat, everything
// else gets prose.
func mockProvider(t *testing.T, failSeats map[string]bool, failCompose bool, tokensPerCall int) llm.ProviderFunc {
	t.Helper()
	scoreFor := func(content string) string {
		switch {
		case strings.Contains(content, "alice-answer"):
			return `{"score": 9, "rationale": "strong"}`
		case strings.Contains(content, "bob-answer"):
			return `{"score": 7, "rationale": "solid"}`
		default:
			return `{"score": 5, "rationale": "thin"}`
		}
	}
	return llm.ProviderFunc{
		ProviderName: "mock",
		Fn: func(_ context.Context, req llm.Request) (*llm.Response, error) {
			system := req.Messages[0].Content
			user := req.Messages[1].Content
			usage := models.UsageCall{TotalTokens: tokensPerCall, CostUSD: 0.001, Provider: "mock"}

			if strings.Contains(system, `"rationale"`) {
				return &llm.Response{Content: scoreFor(user), Usage: usage}, nil
			}
			if strings.Contains(system, `"stance"`) {
				for name, fail := range failSeats {
					if strings.Contains(system, `"`+name+`"`) && fail {
						return nil, errors.New("provider rejected request")
					}
				}
				name := "unknown"
				for _, n := range []string{"Alice", "Bob", "Cara"} {
					if strings.Contains(system, `"`+n+`"`) {
						name = strings.ToLower(n)
					}
				}
				return &llm.Response{
					Content: `{"content": "` + name + `-answer", "stance": "support"}`,
					Usage:   usage,
				}, nil
			}
			if failCompose {
				return nil, errors.New("compose unavailable")
			}
			return &llm.Response{Content: "synthesized final answer", Usage: usage}, nil
		},
	}
}

func newTestEngine(t *testing.T, provider llm.ProviderFunc, cfg Config) (*Engine, *memStore, *events.MemoryBroker) {
	t.Helper()
	registry := llm.NewRegistry()
	registry.Register(provider)
	breaker := health.NewBreaker(health.Config{
		Window: time.Minute, ErrorThreshold: 0.9, MinCalls: 100, Cooldown: time.Minute,
	})
	retry := llm.RetryPolicy{Enabled: true, MaxAttempts: 1, InitialDelay: time.Millisecond}
	masker := masking.NewService(masking.Config{Enabled: true})
	runner := seat.NewRunner(registry, retry, breaker, masker, 5*time.Second)

	broker := events.NewMemoryBroker(events.MemoryConfig{MaxQueueSize: 256})
	t.Cleanup(func() { _ = broker.Close() })

	st := &memStore{}
	return New(st, runner, broker, nil, cfg), st, broker
}

func testDebate(mode models.DebateMode) *models.Debate {
	seats := []models.SeatSpec{
		{SeatID: "s1", DisplayName: "Alice", ProviderKey: "mock", Model: "m", RoleProfile: "optimist"},
		{SeatID: "s2", DisplayName: "Bob", ProviderKey: "mock", Model: "m", RoleProfile: "risk_officer"},
		{SeatID: "s3", DisplayName: "Cara", ProviderKey: "mock", Model: "m", RoleProfile: "architect"},
	}
	judges := []models.SeatSpec{
		{SeatID: "j1", DisplayName: "Judge One", ProviderKey: "mock", Model: "m", RoleProfile: "judge"},
		{SeatID: "j2", DisplayName: "Judge Two", ProviderKey: "mock", Model: "m", RoleProfile: "judge"},
	}
	return &models.Debate{
		ID:         "d1",
		Prompt:     "should we adopt the proposal?",
		Status:     models.StatusRunning,
		Mode:       mode,
		Panel:      models.PanelConfig{Seats: seats, Judges: judges},
		RunAttempt: 1,
	}
}

// drainEvents collects the channel's retained events after a run.
func drainEvents(t *testing.T, broker *events.MemoryBroker, debateID string) []events.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stream, err := broker.Subscribe(ctx, events.DebateChannel(debateID), 0)
	require.NoError(t, err)

	var out []events.Event
	for ev := range stream {
		out = append(out, ev)
		if events.IsTerminal(ev.Type) {
			break
		}
	}
	return out
}

func TestDebatePipelineCompletes(t *testing.T) {
	eng, st, broker := newTestEngine(t, mockProvider(t, nil, false, 10), Config{})
	d := testDebate(models.ModeDebate)

	status, usage := eng.Run(context.Background(), d)

	require.Equal(t, models.StatusCompleted, status)
	require.True(t, st.finalized)
	assert.Equal(t, models.StatusCompleted, st.finalStatus)
	assert.Equal(t, "synthesized final answer", st.finalContent)

	assert.Equal(t, []models.RoundLabel{
		models.RoundDraft, models.RoundCritique, models.RoundJudge, models.RoundSynth,
	}, st.roundLabels())

	assert.Len(t, st.messagesByRole(models.RoleCandidate), 3)
	assert.Len(t, st.messagesByRole(models.RoleRevised), 3)
	assert.Len(t, st.messagesByRole(models.RoleSynthesizer), 1)

	// 2 judges x 3 candidates.
	assert.Len(t, st.scores, 6)
	require.Len(t, st.votes, 1)
	assert.Equal(t, models.VoteMethodBordaCondorcet, st.votes[0].Method)
	assert.Equal(t, []string{"Alice", "Bob", "Cara"}, st.votes[0].Rankings)

	assert.Equal(t, "Alice", st.finalMeta["winner"])
	assert.Equal(t, EngineVersion, st.finalMeta["engine_version"])
	assert.Greater(t, usage.TotalTokens(), 0)

	evs := drainEvents(t, broker, d.ID)
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, events.EventTypeFinal, last.Type)
}

func TestDraftBelowMinSeatsFails(t *testing.T) {
	provider := mockProvider(t, map[string]bool{"Bob": true, "Cara": true}, false, 10)
	eng, st, broker := newTestEngine(t, provider, Config{MinRequiredSeats: 2})
	d := testDebate(models.ModeDebate)

	status, _ := eng.Run(context.Background(), d)

	require.Equal(t, models.StatusFailed, status)
	assert.Equal(t, models.StatusFailed, st.finalStatus)
	failure, ok := st.finalMeta["failure"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, failure["success_count"])
	assert.Equal(t, 2, failure["failure_count"])

	evs := drainEvents(t, broker, d.ID)
	assert.Equal(t, events.EventTypeDebateFailed, evs[len(evs)-1].Type)
}

func TestSeatFailureWithinTolerance(t *testing.T) {
	provider := mockProvider(t, map[string]bool{"Cara": true}, false, 10)
	eng, st, _ := newTestEngine(t, provider, Config{MinRequiredSeats: 1, MaxSeatFailRatio: 0.5})
	d := testDebate(models.ModeDebate)

	status, _ := eng.Run(context.Background(), d)

	require.Equal(t, models.StatusCompleted, status)
	assert.Len(t, st.messagesByRole(models.RoleCandidate), 2)
	failed, ok := st.finalMeta["failed_seats"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"s3"}, failed)
}

// Fail fast composes with the tolerance thresholds: one failure inside the
// budget never aborts the stage.
func TestFailFastRespectsToleranceUnderDefaultConfig(t *testing.T) {
	cfg := config.Load()
	provider := mockProvider(t, map[string]bool{"Cara": true}, false, 10)
	eng, st, _ := newTestEngine(t, provider, Config{
		MaxSeatFailRatio: cfg.Debate.MaxSeatFailRatio,
		MinRequiredSeats: cfg.Debate.MinRequiredSeats,
		FailFast:         cfg.Debate.FailFast,
	})
	d := testDebate(models.ModeDebate)

	status, _ := eng.Run(context.Background(), d)

	require.Equal(t, models.StatusCompleted, status)
	assert.Equal(t, models.StatusCompleted, st.finalStatus)
	failed, ok := st.finalMeta["failed_seats"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"s3"}, failed)
}

// Once the thresholds are unsatisfiable, fail fast cancels the seats still
// in flight instead of waiting for them.
func TestFailFastCancelsOutstandingSeats(t *testing.T) {
	provider := llm.ProviderFunc{
		ProviderName: "mock",
		Fn: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			if strings.Contains(req.Messages[0].Content, `"Bob"`) {
				return nil, errors.New("provider rejected request")
			}
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	eng, st, _ := newTestEngine(t, provider, Config{FailFast: true})
	d := testDebate(models.ModeDebate)
	d.Panel.MinRequiredSeats = 3

	done := make(chan models.DebateStatus, 1)
	go func() {
		status, _ := eng.Run(context.Background(), d)
		done <- status
	}()

	select {
	case status := <-done:
		require.Equal(t, models.StatusFailed, status)
		assert.Equal(t, models.StatusFailed, st.finalStatus)
	case <-time.After(3 * time.Second):
		t.Fatal("draft stage kept waiting on cancelled seats")
	}
}

func TestSynthesisFailureDegrades(t *testing.T) {
	provider := mockProvider(t, nil, true, 10)
	eng, st, _ := newTestEngine(t, provider, Config{})
	d := testDebate(models.ModeDebate)

	status, _ := eng.Run(context.Background(), d)

	require.Equal(t, models.StatusDegraded, status)
	assert.Equal(t, models.StatusDegraded, st.finalStatus)
	// Falls back to the top-ranked candidate's revised answer.
	assert.Equal(t, "alice-answer", st.finalContent)
}

func TestTokenBudgetDegrades(t *testing.T) {
	eng, st, _ := newTestEngine(t, mockProvider(t, nil, false, 1000), Config{})
	d := testDebate(models.ModeDebate)
	d.Config.Budget.MaxTokens = 500

	status, _ := eng.Run(context.Background(), d)

	require.Equal(t, models.StatusDegraded, status)
	assert.Equal(t, "token_budget_exceeded", st.finalMeta["truncate_reason"])
	// Stopped after the draft stage.
	assert.Equal(t, []models.RoundLabel{models.RoundDraft}, st.roundLabels())
	assert.NotEmpty(t, st.finalContent)
}

func TestLeaseLostAbortsWithoutTerminalWrite(t *testing.T) {
	eng, st, _ := newTestEngine(t, mockProvider(t, nil, false, 10), Config{})
	d := testDebate(models.ModeDebate)

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(ErrLeaseLost)

	status, _ := eng.Run(ctx, d)

	assert.Equal(t, models.DebateStatus(""), status)
	assert.False(t, st.finalized)
}

func TestParliamentPipeline(t *testing.T) {
	eng, st, _ := newTestEngine(t, mockProvider(t, nil, false, 10), Config{})
	d := testDebate(models.ModeParliament)

	status, _ := eng.Run(context.Background(), d)

	require.Equal(t, models.StatusCompleted, status)
	assert.Equal(t, []models.RoundLabel{
		models.RoundExplore, models.RoundRebuttal, models.RoundConverge,
		models.RoundJudge, models.RoundVerdict,
	}, st.roundLabels())
	assert.Equal(t, "synthesized final answer", st.finalContent)
	require.Len(t, st.votes, 1)
}

func TestConversationMode(t *testing.T) {
	eng, st, _ := newTestEngine(t, mockProvider(t, nil, false, 10), Config{ConversationMaxRounds: 2})
	d := testDebate(models.ModeConversation)
	d.Panel.Judges = nil

	status, _ := eng.Run(context.Background(), d)

	require.Equal(t, models.StatusCompleted, status)
	assert.Equal(t, []models.RoundLabel{
		models.RoundSpeak, models.RoundSpeak, models.RoundSynth,
	}, st.roundLabels())

	// Every seat speaks every round, the scribe summarizes each round.
	assert.Len(t, st.messagesByRole(models.RoleSeat), 6)
	assert.Len(t, st.messagesByRole(models.RoleScribe), 2)
	assert.Len(t, st.messagesByRole(models.RoleSynthesizer), 1)
	assert.Empty(t, st.scores)
}

func TestConversationRoundsFromConfig(t *testing.T) {
	eng, st, _ := newTestEngine(t, mockProvider(t, nil, false, 10), Config{ConversationMaxRounds: 4})
	d := testDebate(models.ModeConversation)
	d.Config.MaxRounds = 1

	status, _ := eng.Run(context.Background(), d)

	require.Equal(t, models.StatusCompleted, status)
	assert.Equal(t, []models.RoundLabel{models.RoundSpeak, models.RoundSynth}, st.roundLabels())
}

func TestNoJudgesFallsBackToPanelOrder(t *testing.T) {
	eng, st, _ := newTestEngine(t, mockProvider(t, nil, false, 10), Config{})
	d := testDebate(models.ModeDebate)
	d.Panel.Judges = nil

	status, _ := eng.Run(context.Background(), d)

	require.Equal(t, models.StatusCompleted, status)
	assert.Empty(t, st.votes)
	assert.Equal(t, "Alice", st.finalMeta["winner"])
}

func TestResumedRunContinuesEventSequence(t *testing.T) {
	eng, st, broker := newTestEngine(t, mockProvider(t, nil, false, 10), Config{})
	d := testDebate(models.ModeDebate)
	d.RunAttempt = 2
	st.checkpoints = append(st.checkpoints, &models.Checkpoint{
		DebateID: d.ID, Step: "judge", StepIndex: 2,
		Status: models.StatusRunning, AttemptCount: 1,
		ContextMeta: map[string]any{"last_event_seq": float64(42)},
	})

	status, _ := eng.Run(context.Background(), d)

	require.Equal(t, models.StatusCompleted, status)
	evs := drainEvents(t, broker, d.ID)
	require.NotEmpty(t, evs)
	// A subscriber reconnecting with the first attempt's Last-Event-ID is
	// filtered on seq, so the re-run must publish strictly after it.
	assert.Equal(t, int64(43), evs[0].Seq)
	assert.Equal(t, events.EventTypeFinal, evs[len(evs)-1].Type)
}

func TestResumedRunReplacesPriorArtifacts(t *testing.T) {
	eng, st, _ := newTestEngine(t, mockProvider(t, nil, false, 10), Config{})
	d := testDebate(models.ModeDebate)
	d.RunAttempt = 2
	// Leftovers from the first attempt.
	st.messages = append(st.messages, &models.Message{
		DebateID: d.ID, Role: models.RoleCandidate, Persona: "Alice", Content: "stale draft",
	})
	st.scores = append(st.scores, &models.Score{DebateID: d.ID, Persona: "Alice", Judge: "j1", Score: 2})
	st.votes = append(st.votes, &models.Vote{DebateID: d.ID, Method: models.VoteMethodBordaCondorcet})
	st.checkpoints = append(st.checkpoints, &models.Checkpoint{
		DebateID: d.ID, Step: "judge", Status: models.StatusRunning, AttemptCount: 1,
	})

	status, _ := eng.Run(context.Background(), d)

	require.Equal(t, models.StatusCompleted, status)
	assert.Len(t, st.messagesByRole(models.RoleCandidate), 3)
	assert.Len(t, st.scores, 6)
	require.Len(t, st.votes, 1)
	assert.Equal(t, []string{"Alice", "Bob", "Cara"}, st.votes[0].Rankings)
}

func TestComposeMaterialIncludesJudgeRationales(t *testing.T) {
	eng, _, _ := newTestEngine(t, mockProvider(t, nil, false, 10), Config{})
	st := &debateState{
		candidates: []candidate{
			{SeatID: "s1", Persona: "Alice", Content: "alice-answer", Position: 0},
			{SeatID: "s2", Persona: "Bob", Content: "bob-answer", Position: 1},
			{SeatID: "s3", Persona: "Cara", Content: "cara-answer", Position: 2},
		},
		ranking: []string{"Alice", "Bob", "Cara"},
		scores: []*models.Score{
			{Persona: "Alice", Judge: "j1", Score: 9, Rationale: "strong"},
			{Persona: "Bob", Judge: "j1", Score: 7, Rationale: "solid"},
			{Persona: "Cara", Judge: "j1", Score: 5, Rationale: "thin"},
		},
	}

	material := eng.composeMaterial(st)

	assert.Contains(t, material, "Judge j1 scored 9.0: strong")
	assert.Contains(t, material, "Judge j1 scored 7.0: solid")
	// Only the top two candidates reach the synthesizer.
	assert.NotContains(t, material, "cara-answer")
	assert.NotContains(t, material, "thin")
}

func TestCheckpointsAdvancePerStage(t *testing.T) {
	eng, st, _ := newTestEngine(t, mockProvider(t, nil, false, 10), Config{})
	d := testDebate(models.ModeDebate)

	_, _ = eng.Run(context.Background(), d)

	require.NotEmpty(t, st.checkpoints)
	last := st.checkpoints[len(st.checkpoints)-1]
	assert.Equal(t, "terminal", last.Step)
	assert.True(t, last.Terminal())

	steps := make([]string, 0, len(st.checkpoints))
	for _, c := range st.checkpoints {
		steps = append(steps, c.Step)
	}
	assert.Equal(t, []string{"draft", "critique", "judge", "synthesis", "terminal"}, steps)
}
