// Package history keeps a log of finished assistant exchanges together with
// user feedback, and derives performance statistics from both.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parla/internal/observe"
	"github.com/MrWong99/parla/internal/workflow"
)

var (
	// ErrInvalidScore is returned for feedback scores outside 1..5.
	ErrInvalidScore = errors.New("history: score must be between 1 and 5")

	// ErrMissingRun is returned for feedback without a run id.
	ErrMissingRun = errors.New("history: run id is required")
)

// Exchange is one finished workflow run.
type Exchange struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id,omitempty"`
	Input     string        `json:"input"`
	Intent    string        `json:"intent"`
	Tool      string        `json:"tool,omitempty"`
	Response  string        `json:"response"`
	Success   bool          `json:"success"`
	Latency   time.Duration `json:"latency_ns"`
	Time      time.Time     `json:"time"`
}

// Feedback is a user rating of one exchange.
type Feedback struct {
	RunID   string    `json:"run_id"`
	Score   int       `json:"score"`
	Comment string    `json:"comment,omitempty"`
	Time    time.Time `json:"time"`
}

// Validate checks the run id and the score range.
func (f Feedback) Validate() error {
	if f.RunID == "" {
		return ErrMissingRun
	}
	if f.Score < 1 || f.Score > 5 {
		return fmt.Errorf("%w: got %d", ErrInvalidScore, f.Score)
	}
	return nil
}

// Store persists exchanges and feedback. Implementations must be safe for
// concurrent use.
type Store interface {
	SaveExchange(ctx context.Context, e Exchange) error
	SaveFeedback(ctx context.Context, f Feedback) error

	// Exchanges returns the exchanges recorded at or after since, oldest first.
	Exchanges(ctx context.Context, since time.Time) ([]Exchange, error)

	// Feedback returns the feedback recorded at or after since, oldest first.
	Feedback(ctx context.Context, since time.Time) ([]Feedback, error)
}

// FromState converts a finished run.
func FromState(s *workflow.State) Exchange {
	at := s.Finished
	if at.IsZero() {
		at = time.Now()
	}
	return Exchange{
		ID:        s.ID,
		SessionID: s.SessionID,
		Input:     s.Text,
		Intent:    string(s.Intent),
		Tool:      s.Tool,
		Response:  s.Response,
		Success:   !s.Fallback,
		Latency:   s.Latency(),
		Time:      at.UTC(),
	}
}

// Recorder adapts a [Store] to [workflow.Recorder]. Save failures are logged
// and never reach the user.
type Recorder struct {
	store Store
}

var _ workflow.Recorder = (*Recorder)(nil)

// NewRecorder returns a Recorder writing to s.
func NewRecorder(s Store) *Recorder { return &Recorder{store: s} }

// Record implements [workflow.Recorder].
func (r *Recorder) Record(ctx context.Context, s *workflow.State) {
	if err := r.store.SaveExchange(ctx, FromState(s)); err != nil {
		observe.Logger(ctx).Warn("history: save exchange", "run_id", s.ID, "error", err)
	}
}

// ── Statistics ───────────────────────────────────────────────────────────────

// Stats summarises a window of exchanges and feedback.
type Stats struct {
	Total       int            `json:"total"`
	Succeeded   int            `json:"succeeded"`
	SuccessRate float64        `json:"success_rate"`
	AvgLatency  time.Duration  `json:"avg_latency_ns"`
	P95Latency  time.Duration  `json:"p95_latency_ns"`
	ToolUsage   map[string]int `json:"tool_usage"`
	Intents     map[string]int `json:"intents"`
	Ratings     int            `json:"ratings"`
	AvgScore    float64        `json:"avg_score"`
}

// Summarize loads the exchanges and feedback since the given time
// concurrently and aggregates them. A zero since covers everything.
func Summarize(ctx context.Context, s Store, since time.Time) (Stats, error) {
	var (
		exchanges []Exchange
		feedback  []Feedback
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		exchanges, err = s.Exchanges(gctx, since)
		return err
	})
	g.Go(func() error {
		var err error
		feedback, err = s.Feedback(gctx, since)
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, fmt.Errorf("history: summarize: %w", err)
	}
	return aggregate(exchanges, feedback), nil
}

func aggregate(exchanges []Exchange, feedback []Feedback) Stats {
	st := Stats{
		Total:     len(exchanges),
		ToolUsage: make(map[string]int),
		Intents:   make(map[string]int),
		Ratings:   len(feedback),
	}

	latencies := make([]time.Duration, 0, len(exchanges))
	var sum time.Duration
	for _, e := range exchanges {
		if e.Success {
			st.Succeeded++
		}
		if e.Tool != "" {
			st.ToolUsage[e.Tool]++
		}
		if e.Intent != "" {
			st.Intents[e.Intent]++
		}
		sum += e.Latency
		latencies = append(latencies, e.Latency)
	}
	if st.Total > 0 {
		st.SuccessRate = float64(st.Succeeded) / float64(st.Total)
		st.AvgLatency = sum / time.Duration(st.Total)
		slices.Sort(latencies)
		idx := (len(latencies)*95+99)/100 - 1
		st.P95Latency = latencies[max(idx, 0)]
	}

	var scores int
	for _, f := range feedback {
		scores += f.Score
	}
	if st.Ratings > 0 {
		st.AvgScore = float64(scores) / float64(st.Ratings)
	}
	return st
}

// ── Nop ──────────────────────────────────────────────────────────────────────

// Nop discards everything. It is used when history is disabled.
type Nop struct{}

var _ Store = Nop{}

func (Nop) SaveExchange(context.Context, Exchange) error { return nil }

func (Nop) SaveFeedback(_ context.Context, f Feedback) error { return f.Validate() }

func (Nop) Exchanges(context.Context, time.Time) ([]Exchange, error) { return nil, nil }

func (Nop) Feedback(context.Context, time.Time) ([]Feedback, error) { return nil, nil }

func logDropped(path string, line int, err error) {
	slog.Warn("history: skipping unreadable line", "path", path, "line", line, "error", err)
}
