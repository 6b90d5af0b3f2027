package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/arbiterlabs/arbiter/pkg/events"
	"github.com/arbiterlabs/arbiter/pkg/models"
	"github.com/arbiterlabs/arbiter/pkg/seat"
)

// forEach runs fn for indices [0,n) with bounded parallelism. Callers
// collect results into index-addressed slices so output order never depends
// on goroutine scheduling.
func (e *Engine) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	limit := e.cfg.MaxParallelSeats
	if n < limit {
		limit = n
	}
	if limit < 1 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, i)
		}(i)
	}
	wg.Wait()
}

// modelFor returns the routed model override for a seat. Seats with an
// explicit model pin keep it; unpinned seats follow the debate's routing
// decision.
func modelFor(d *models.Debate, spec models.SeatSpec) string {
	if spec.Model != "" {
		return ""
	}
	return d.RoutedModel
}

// tolerances resolves panel overrides over engine defaults.
func (e *Engine) tolerances(d *models.Debate) (minSeats int, maxFailRatio float64) {
	minSeats = e.cfg.MinRequiredSeats
	if d.Panel.MinRequiredSeats > 0 {
		minSeats = d.Panel.MinRequiredSeats
	}
	maxFailRatio = e.cfg.MaxSeatFailRatio
	if d.Panel.MaxSeatFailRatio > 0 {
		maxFailRatio = d.Panel.MaxSeatFailRatio
	}
	return minSeats, maxFailRatio
}

// checkTolerance converts seat-failure counts into a fatal error when the
// panel can no longer produce a meaningful result.
func (e *Engine) checkTolerance(d *models.Debate, okCount, failCount int) error {
	if failCount == 0 {
		return nil
	}
	minSeats, maxFailRatio := e.tolerances(d)
	if okCount < minSeats {
		return &fatalError{Reason: fmt.Sprintf("only %d seats succeeded, %d required", okCount, minSeats), SuccessCount: okCount, FailureCount: failCount}
	}
	total := okCount + failCount
	if ratio := float64(failCount) / float64(total); ratio > maxFailRatio {
		return &fatalError{Reason: fmt.Sprintf("seat failure ratio %.2f exceeds %.2f", ratio, maxFailRatio), SuccessCount: okCount, FailureCount: failCount}
	}
	return nil
}

// failBudget returns how many seat failures a panel of the given size can
// absorb before checkTolerance must fail it.
func (e *Engine) failBudget(d *models.Debate, total int) int {
	minSeats, maxFailRatio := e.tolerances(d)
	budget := total - minSeats
	if byRatio := int(maxFailRatio * float64(total)); byRatio < budget {
		budget = byRatio
	}
	if budget < 0 {
		budget = 0
	}
	return budget
}

// openingStage fans out one Speak call per seat and seeds the candidate set.
// Shared by debate draft and parliament explore.
func (e *Engine) openingStage(ctx context.Context, d *models.Debate, st *debateState, pub *events.Publisher, phase, phaseContext string) error {
	seats := d.Panel.Seats
	results := make([]*seat.Result, len(seats))
	errs := make([]error, len(seats))

	// Fail fast cancels in-flight seats once the failure budget is spent
	// and the tolerance thresholds can no longer be met. The final
	// checkTolerance call still decides the outcome either way.
	speakCtx, cancelSpeak := context.WithCancel(ctx)
	defer cancelSpeak()
	budget := int32(e.failBudget(d, len(seats)))
	var failCount atomic.Int32

	e.forEach(speakCtx, len(seats), func(ctx context.Context, i int) {
		results[i], errs[i] = e.runner.Speak(ctx, d.ID, seats[i], modelFor(d, seats[i]), d.Prompt, phaseContext, st.usage)
		if errs[i] != nil && e.cfg.FailFast && failCount.Add(1) > budget {
			cancelSpeak()
		}
	})

	okCount := 0
	summaries := make([]map[string]any, 0, len(seats))
	for i, spec := range seats {
		if errs[i] != nil {
			st.failed = append(st.failed, spec.SeatID)
			slog.Warn("Seat failed", "debate_id", d.ID, "phase", phase, "seat_id", spec.SeatID, "error", errs[i])
			continue
		}
		okCount++
		env := results[i].Envelope
		st.candidates = append(st.candidates, candidate{
			SeatID:   spec.SeatID,
			Persona:  spec.DisplayName,
			Content:  env.Content,
			Stance:   env.Stance,
			Position: i,
		})
		msg := &models.Message{
			DebateID:   d.ID,
			RoundIndex: st.roundIndex,
			Role:       models.RoleCandidate,
			Persona:    spec.DisplayName,
			Content:    env.Content,
			Meta:       map[string]any{"seat_id": spec.SeatID, "stance": env.Stance, "phase": phase},
		}
		if err := e.store.AddMessage(ctx, msg); err != nil {
			return fmt.Errorf("persist %s message: %w", phase, err)
		}
		pub.SeatMessage(ctx, st.roundIndex, phase, map[string]any{
			"seat_id": spec.SeatID, "persona": spec.DisplayName,
			"content": env.Content, "stance": env.Stance,
		})
		summaries = append(summaries, map[string]any{"persona": spec.DisplayName, "stance": env.Stance})
	}

	if err := e.checkTolerance(d, okCount, len(seats)-okCount); err != nil {
		return err
	}
	pub.Message(ctx, st.roundIndex, map[string]any{"phase": phase, "candidates": summaries})
	return nil
}

func (e *Engine) draftStage(ctx context.Context, d *models.Debate, st *debateState, pub *events.Publisher) error {
	return e.openingStage(ctx, d, st, pub, "draft", "")
}

func (e *Engine) exploreStage(ctx context.Context, d *models.Debate, st *debateState, pub *events.Publisher) error {
	instructions := "Phase: exploration. Stake out a distinct position on the question. " +
		"Commit to a stance (support, oppose, or conditional) and argue it from your role's vantage point."
	return e.openingStage(ctx, d, st, pub, "explore", instructions)
}

// revisionStage re-runs each surviving seat with its peers' work in context.
// A seat failure here keeps the seat's previous artifact; it never removes
// the seat from the debate.
func (e *Engine) revisionStage(ctx context.Context, d *models.Debate, st *debateState, pub *events.Publisher, phase, instructions string) error {
	base := st.currentCandidates()
	specByID := make(map[string]models.SeatSpec, len(d.Panel.Seats))
	for _, s := range d.Panel.Seats {
		specByID[s.SeatID] = s
	}

	results := make([]*seat.Result, len(base))
	errs := make([]error, len(base))
	e.forEach(ctx, len(base), func(ctx context.Context, i int) {
		c := base[i]
		spec, ok := specByID[c.SeatID]
		if !ok {
			errs[i] = fmt.Errorf("seat %s missing from panel", c.SeatID)
			return
		}
		phaseContext := instructions + "\n\nYour previous answer:\n" + c.Content + peerBlock(base, c.SeatID)
		results[i], errs[i] = e.runner.Speak(ctx, d.ID, spec, modelFor(d, spec), d.Prompt, phaseContext, st.usage)
	})

	revised := make([]candidate, 0, len(base))
	for i, c := range base {
		next := c
		if errs[i] != nil {
			slog.Warn("Seat revision failed, keeping previous answer",
				"debate_id", d.ID, "phase", phase, "seat_id", c.SeatID, "error", errs[i])
		} else {
			env := results[i].Envelope
			next.Content = env.Content
			if env.Stance != "" {
				next.Stance = env.Stance
			}
			msg := &models.Message{
				DebateID:   d.ID,
				RoundIndex: st.roundIndex,
				Role:       models.RoleRevised,
				Persona:    c.Persona,
				Content:    env.Content,
				Meta:       map[string]any{"seat_id": c.SeatID, "stance": next.Stance, "phase": phase},
			}
			if err := e.store.AddMessage(ctx, msg); err != nil {
				return fmt.Errorf("persist %s message: %w", phase, err)
			}
			pub.SeatMessage(ctx, st.roundIndex, phase, map[string]any{
				"seat_id": c.SeatID, "persona": c.Persona,
				"content": env.Content, "stance": next.Stance,
			})
		}
		revised = append(revised, next)
	}
	st.revised = revised
	pub.Message(ctx, st.roundIndex, map[string]any{"phase": phase, "revised": len(revised)})
	return nil
}

func (e *Engine) critiqueStage(ctx context.Context, d *models.Debate, st *debateState, pub *events.Publisher) error {
	instructions := "Phase: critique and revise. Read your peers' answers below, identify the strongest " +
		"objections to your own, and produce an improved answer that addresses them."
	return e.revisionStage(ctx, d, st, pub, "critique", instructions)
}

func (e *Engine) rebuttalStage(ctx context.Context, d *models.Debate, st *debateState, pub *events.Publisher) error {
	instructions := "Phase: rebuttal. Attack the weakest points in opposing positions below and defend " +
		"your own stance against their objections. Sharpen, do not soften."
	return e.revisionStage(ctx, d, st, pub, "rebuttal", instructions)
}

func (e *Engine) convergeStage(ctx context.Context, d *models.Debate, st *debateState, pub *events.Publisher) error {
	instructions := "Phase: convergence. Where the rebuttals exposed genuine common ground, move toward it. " +
		"State what you now concede, what you still hold, and your final position."
	return e.revisionStage(ctx, d, st, pub, "converge", instructions)
}

// peerBlock renders the other seats' answers for phase context.
func peerBlock(cands []candidate, excludeSeatID string) string {
	var b strings.Builder
	for _, c := range cands {
		if c.SeatID == excludeSeatID {
			continue
		}
		b.WriteString("\n\n--- ")
		b.WriteString(c.Persona)
		if c.Stance != "" {
			b.WriteString(" (stance: " + c.Stance + ")")
		}
		b.WriteString(" ---\n")
		b.WriteString(c.Content)
	}
	if b.Len() == 0 {
		return ""
	}
	return "\n\nPeer answers:" + b.String()
}

// judgeStage scores every candidate by every judge, then fuses the scores
// into a ranking. Judge failures are skipped; a judgeless or scoreless
// debate falls back to panel order.
func (e *Engine) judgeStage(ctx context.Context, d *models.Debate, st *debateState, pub *events.Publisher) error {
	cands := st.currentCandidates()
	if len(cands) == 0 {
		return &fatalError{Reason: "no candidates to judge"}
	}
	judges := d.Panel.Judges
	if len(judges) == 0 {
		pub.Notice(ctx, "warn", "no judges configured, ranking by panel order")
		st.ranking = panelOrderRanking(cands)
		return nil
	}

	rubric := "Rubric: score the candidate 0-10 on depth of reasoning, factual accuracy, and " +
		"responsiveness to the question below.\n\nQuestion:\n" + d.Prompt

	type task struct {
		judge models.SeatSpec
		cand  candidate
	}
	tasks := make([]task, 0, len(judges)*len(cands))
	for _, j := range judges {
		for _, c := range cands {
			tasks = append(tasks, task{judge: j, cand: c})
		}
	}

	jrs := make([]seat.JudgeResult, len(tasks))
	errs := make([]error, len(tasks))
	e.forEach(ctx, len(tasks), func(ctx context.Context, i int) {
		t := tasks[i]
		jrs[i], errs[i] = e.runner.Judge(ctx, t.judge, modelFor(d, t.judge), rubric, t.cand.Content, st.usage)
	})

	positions := make(map[string]int, len(cands))
	for _, c := range cands {
		positions[c.Persona] = c.Position
	}
	for i, t := range tasks {
		if errs[i] != nil {
			slog.Warn("Judge call failed", "debate_id", d.ID,
				"judge", t.judge.SeatID, "persona", t.cand.Persona, "error", errs[i])
			continue
		}
		sc := &models.Score{
			DebateID:  d.ID,
			Persona:   t.cand.Persona,
			Judge:     t.judge.SeatID,
			Score:     jrs[i].Score,
			Rationale: jrs[i].Rationale,
		}
		if err := e.store.AddScore(ctx, sc); err != nil {
			return fmt.Errorf("persist score: %w", err)
		}
		st.scores = append(st.scores, sc)
	}

	if len(st.scores) == 0 {
		pub.Notice(ctx, "warn", "all judge calls failed, ranking by panel order")
		st.ranking = panelOrderRanking(cands)
		return nil
	}

	rr := ComputeRankings(st.scores, positions)
	st.ranking = rr.Rankings
	vote := &models.Vote{
		DebateID: d.ID,
		Method:   models.VoteMethodBordaCondorcet,
		Rankings: rr.Rankings,
		Weights:  rr.Means,
		Result:   rr.voteResult(),
	}
	if err := e.store.SaveVote(ctx, vote); err != nil {
		return fmt.Errorf("persist vote: %w", err)
	}

	judgeIDs := make([]string, len(judges))
	for i, j := range judges {
		judgeIDs[i] = j.SeatID
	}
	pub.Score(ctx, st.roundIndex, rr.Means, judgeIDs)
	return nil
}

func panelOrderRanking(cands []candidate) []string {
	ranking := make([]string, len(cands))
	for i, c := range cands {
		ranking[i] = c.Persona
	}
	return ranking
}

func (e *Engine) synthesisStage(ctx context.Context, d *models.Debate, st *debateState, pub *events.Publisher) error {
	instructions := "Synthesize the strongest candidate answers below into one final answer to the " +
		"question. Preserve the best reasoning from each, resolve contradictions explicitly, and do " +
		"not mention the panel process.\n\nQuestion:\n" + d.Prompt
	return e.composeFinal(ctx, d, st, pub, "facilitator", instructions, models.RoleSynthesizer)
}

func (e *Engine) verdictStage(ctx context.Context, d *models.Debate, st *debateState, pub *events.Publisher) error {
	instructions := "As chair, deliver the parliament's verdict on the question below. Summarize where " +
		"the seats converged, rule on the points still contested, and state the final position with its " +
		"conditions.\n\nQuestion:\n" + d.Prompt
	return e.composeFinal(ctx, d, st, pub, "chair", instructions, models.RoleSynthesizer)
}

// composeFinal runs the closing prose call over the top-ranked candidates.
// Composer failure degrades the debate to the best raw candidate.
func (e *Engine) composeFinal(ctx context.Context, d *models.Debate, st *debateState, pub *events.Publisher, defaultRole, instructions string, role models.MessageRole) error {
	spec := e.composerSpec(d, defaultRole)
	material := e.composeMaterial(st)

	out, err := e.runner.Compose(ctx, spec, modelFor(d, spec), instructions, material, st.usage)
	if err != nil {
		fallback := st.bestContent()
		if fallback == "" {
			return &fatalError{Reason: "synthesis failed with no surviving candidate"}
		}
		return &degradeError{
			Reason:          "synthesis failed, returning top-ranked candidate",
			FallbackContent: fallback,
		}
	}

	st.finalContent = out
	msg := &models.Message{
		DebateID:   d.ID,
		RoundIndex: st.roundIndex,
		Role:       role,
		Persona:    spec.DisplayName,
		Content:    out,
		Meta:       map[string]any{"seat_id": spec.SeatID},
	}
	if err := e.store.AddMessage(ctx, msg); err != nil {
		return fmt.Errorf("persist synthesis message: %w", err)
	}
	pub.Message(ctx, st.roundIndex, map[string]any{"phase": "synthesis", "persona": spec.DisplayName})
	return nil
}

// composerSpec picks the configured synthesizer, or borrows the first seat's
// provider under the default closing role.
func (e *Engine) composerSpec(d *models.Debate, defaultRole string) models.SeatSpec {
	if d.Panel.Synthesizer != nil {
		return *d.Panel.Synthesizer
	}
	base := d.Panel.Seats[0]
	return models.SeatSpec{
		SeatID:      "synthesizer",
		DisplayName: "Synthesizer",
		ProviderKey: base.ProviderKey,
		Model:       base.Model,
		RoleProfile: defaultRole,
		Temperature: 0.3,
	}
}

// composeMaterial renders the top two ranked candidates (all candidates
// when unranked) with their mean scores and the judges' rationales.
func (e *Engine) composeMaterial(st *debateState) string {
	cands := st.currentCandidates()
	byPersona := make(map[string]candidate, len(cands))
	for _, c := range cands {
		byPersona[c.Persona] = c
	}

	ordered := make([]candidate, 0, 2)
	for _, p := range st.ranking {
		if c, ok := byPersona[p]; ok {
			ordered = append(ordered, c)
		}
		if len(ordered) == 2 {
			break
		}
	}
	if len(ordered) == 0 {
		ordered = cands
	}

	means := make(map[string]float64)
	counts := make(map[string]int)
	for _, sc := range st.scores {
		means[sc.Persona] += sc.Score
		counts[sc.Persona]++
	}

	var b strings.Builder
	for i, c := range ordered {
		fmt.Fprintf(&b, "Candidate %d: %s", i+1, c.Persona)
		if n := counts[c.Persona]; n > 0 {
			fmt.Fprintf(&b, " (mean score %.1f)", means[c.Persona]/float64(n))
		}
		if c.Stance != "" {
			fmt.Fprintf(&b, " (stance: %s)", c.Stance)
		}
		b.WriteString("\n")
		b.WriteString(c.Content)
		b.WriteString("\n")
		for _, sc := range st.scores {
			if sc.Persona == c.Persona && sc.Rationale != "" {
				fmt.Fprintf(&b, "Judge %s scored %.1f: %s\n", sc.Judge, sc.Score, sc.Rationale)
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
