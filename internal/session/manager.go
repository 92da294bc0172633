// Package session owns the live client connections. Each session pairs one
// connection with its own audio segmenter and a worker goroutine that runs
// at most one workflow at a time for it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parla/internal/observe"
	"github.com/MrWong99/parla/internal/workflow"
	"github.com/MrWong99/parla/pkg/audio"
)

var (
	// ErrUnknownSession is returned for a session ID that is not connected.
	ErrUnknownSession = errors.New("session: unknown session")

	// ErrConnClosed is returned by [Conn.Send] once the transport is gone.
	ErrConnClosed = errors.New("session: connection closed")

	// ErrManagerClosed is returned by Accept after Close.
	ErrManagerClosed = errors.New("session: manager closed")
)

// Conn is the transport side of a session. Send must be safe for
// concurrent use; it returns [ErrConnClosed] (possibly wrapped) when the
// peer is gone.
type Conn interface {
	Send(ctx context.Context, msg Outbound) error
	Close() error
}

// Runner executes one workflow. *workflow.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, in workflow.Input) *workflow.State
}

var _ Runner = (*workflow.Engine)(nil)

// Config configures a [Manager].
type Config struct {
	// Segmenter configures each session's audio buffer.
	Segmenter audio.SegmenterConfig

	// Language is the recognition hint passed with every utterance.
	Language string

	// SendSpeech also sends synthesized audio after each response.
	SendSpeech bool

	// SpeechSampleRate labels outgoing speech. Zero uses the segmenter rate.
	SpeechSampleRate int

	// SendTimeout bounds a single outbound message. Default 10s.
	SendTimeout time.Duration

	// IdleTimeout disconnects sessions without inbound traffic for this
	// long. Zero disables reaping.
	IdleTimeout time.Duration
}

// Info is a snapshot of one session.
type Info struct {
	ID         string    `json:"id"`
	Connected  time.Time `json:"connected"`
	LastActive time.Time `json:"last_active"`
	InFlight   bool      `json:"in_flight"`
	Buffered   int       `json:"buffered_samples"`
	Runs       int64     `json:"runs"`
}

// Session is one live connection.
type Session struct {
	id        string
	conn      Conn
	connected time.Time

	segMu sync.Mutex
	seg   *audio.Segmenter

	// queue holds at most one job waiting behind the one in flight.
	queue    chan job
	stopping atomic.Bool

	inFlight   atomic.Bool
	lastActive atomic.Int64
	runs       atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	done   chan struct{}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

func (s *Session) touch(now time.Time) { s.lastActive.Store(now.UnixNano()) }

func (s *Session) info() Info {
	s.segMu.Lock()
	buffered := 0
	if s.seg != nil {
		buffered = s.seg.Len()
	}
	s.segMu.Unlock()
	return Info{
		ID:         s.id,
		Connected:  s.connected,
		LastActive: time.Unix(0, s.lastActive.Load()),
		InFlight:   s.inFlight.Load(),
		Buffered:   buffered,
		Runs:       s.runs.Load(),
	}
}

// Manager owns the session collection. All methods are safe for concurrent
// use.
type Manager struct {
	runner  Runner
	cfg     Config
	metrics *observe.Metrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	// base outlives individual sessions so that a disconnect does not
	// interrupt a workflow already running. Close cancels it.
	base       context.Context
	cancelBase context.CancelFunc
	workers    sync.WaitGroup

	reaper *reaper
}

// Option configures a [Manager].
type Option func(*Manager)

// WithMetrics records session metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) { mgr.now = now }
}

// NewManager returns an empty Manager running utterances through r.
func NewManager(r Runner, cfg Config, opts ...Option) *Manager {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	base, cancel := context.WithCancel(context.Background())
	m := &Manager{
		runner:     r,
		cfg:        cfg,
		now:        time.Now,
		sessions:   make(map[string]*Session),
		base:       base,
		cancelBase: cancel,
	}
	for _, o := range opts {
		o(m)
	}
	if cfg.IdleTimeout > 0 {
		m.reaper = newReaper(m, cfg.IdleTimeout)
		m.reaper.start(base)
	}
	return m
}

// Accept registers conn as a new session and starts its worker.
func (m *Manager) Accept(conn Conn) (string, error) {
	ctx, cancel := context.WithCancel(m.base)
	s := &Session{
		id:        uuid.NewString(),
		conn:      conn,
		connected: m.now(),
		seg:       audio.NewSegmenter(m.cfg.Segmenter),
		queue:     make(chan job, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.touch(s.connected)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return "", ErrManagerClosed
	}
	m.sessions[s.id] = s
	m.workers.Add(1)
	m.mu.Unlock()

	go m.work(s)
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Info("session connected", "session_id", s.id)
	return s.id, nil
}

func (m *Manager) get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// OnMessage handles one raw inbound message. Malformed messages and
// rejected audio chunks return an error but leave the session open; unknown
// message kinds are logged and ignored. A stop message flushes the buffer,
// discards the segmenter and ends the session after its queued runs are
// delivered. When the session's queue is full the call blocks until the
// in-flight run finishes, ctx ends or the session disconnects.
func (m *Manager) OnMessage(ctx context.Context, id string, raw []byte) error {
	s, ok := m.get(id)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownSession, id)
	}
	s.touch(m.now())

	in, err := DecodeInbound(raw)
	if err != nil {
		if m.metrics != nil {
			m.metrics.MalformedMessages.Add(ctx, 1)
		}
		return err
	}

	var (
		utterance []int16
		reason    string
	)
	s.segMu.Lock()
	switch in.Type {
	case KindAudio:
		if s.seg == nil {
			s.segMu.Unlock()
			return nil
		}
		var decision audio.FlushDecision
		decision, utterance, err = s.seg.Push(in.PCM)
		if err == nil && decision == audio.Flush {
			reason = "duration"
		}
	case KindStop:
		if s.seg != nil {
			var flushed bool
			if utterance, flushed = s.seg.FlushNow(); flushed {
				reason = "stop"
			}
			s.seg.Reset()
			s.seg = nil
		}
		s.segMu.Unlock()
		return m.stop(ctx, s, utterance, reason)
	default:
		s.segMu.Unlock()
		slog.Info("ignoring unknown message type", "session_id", id, "type", in.Type)
		return nil
	}
	s.segMu.Unlock()

	if err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}
	if reason == "" {
		return nil
	}
	if m.metrics != nil {
		m.metrics.RecordFlush(ctx, reason)
	}
	return m.enqueue(ctx, s, job{in: workflow.Input{Audio: audio.SamplesToBytes(utterance)}, run: true})
}

// stop queues the final utterance, if any, and ends the session once every
// queued run has been delivered. Later audio for the session is ignored.
func (m *Manager) stop(ctx context.Context, s *Session, utterance []int16, reason string) error {
	if !s.stopping.CompareAndSwap(false, true) {
		return nil
	}
	j := job{final: true}
	if reason != "" {
		if m.metrics != nil {
			m.metrics.RecordFlush(ctx, reason)
		}
		j.in = workflow.Input{Audio: audio.SamplesToBytes(utterance)}
		j.run = true
	}
	slog.Info("session stop requested", "session_id", s.id, "final_utterance", j.run)
	if err := m.enqueue(ctx, s, j); err != nil {
		m.OnDisconnect(s.id)
		return err
	}
	return nil
}

// SubmitText queues a text utterance for the session, bypassing recognition.
func (m *Manager) SubmitText(ctx context.Context, id, text string) error {
	s, ok := m.get(id)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownSession, id)
	}
	s.touch(m.now())
	return m.enqueue(ctx, s, job{in: workflow.Input{Text: text}, run: true})
}

// job is one unit of session work. final ends the session after the
// optional run is delivered.
type job struct {
	in    workflow.Input
	run   bool
	final bool
}

func (m *Manager) enqueue(ctx context.Context, s *Session, j job) error {
	select {
	case s.queue <- j:
		return nil
	case <-s.ctx.Done():
		return fmt.Errorf("%w %q", ErrUnknownSession, s.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// work runs the session's utterances one at a time in arrival order.
func (m *Manager) work(s *Session) {
	defer m.workers.Done()
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case j := <-s.queue:
			if j.run {
				m.process(s, j.in)
			}
			if j.final {
				m.OnDisconnect(s.id)
				return
			}
		}
	}
}

func (m *Manager) process(s *Session, in workflow.Input) {
	s.inFlight.Store(true)
	defer s.inFlight.Store(false)

	in.SessionID = s.id
	in.Language = m.cfg.Language
	st := m.runner.Run(m.base, in)
	s.runs.Add(1)

	if s.closed.Load() {
		slog.Debug("dropping result for disconnected session", "session_id", s.id, "run_id", st.ID)
		return
	}
	if err := m.send(s, Response(st.Response, m.now())); err != nil {
		return
	}
	if m.cfg.SendSpeech && len(st.Speech) > 0 {
		rate := m.cfg.SpeechSampleRate
		if rate == 0 {
			rate = m.cfg.Segmenter.SampleRate
		}
		if rate == 0 {
			rate = 16000
		}
		_ = m.send(s, Speech(st.Speech, rate))
	}
}

// send delivers msg and disconnects the session when its transport is gone.
func (m *Manager) send(s *Session, msg Outbound) error {
	ctx, cancel := context.WithTimeout(m.base, m.cfg.SendTimeout)
	defer cancel()
	err := s.conn.Send(ctx, msg)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConnClosed) {
		m.OnDisconnect(s.id)
	} else {
		slog.Warn("send failed", "session_id", s.id, "type", msg.Type, "error", err)
	}
	return err
}

// OnDisconnect removes the session, discards its buffered audio and closes
// its connection. A run already in flight completes but its result is not
// delivered. Unknown IDs are ignored.
func (m *Manager) OnDisconnect(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.release(s)
	slog.Info("session disconnected", "session_id", id, "runs", s.runs.Load())
}

func (m *Manager) release(s *Session) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	s.segMu.Lock()
	s.seg = nil
	s.segMu.Unlock()
	if err := s.conn.Close(); err != nil {
		slog.Debug("close connection", "session_id", s.id, "error", err)
	}
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// Broadcast sends a notification to every session and returns how many
// received it. Sessions whose transport is closed are disconnected.
func (m *Manager) Broadcast(ctx context.Context, text string) int {
	m.mu.Lock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.Unlock()

	msg := Notification(text)
	delivered := 0
	for _, s := range targets {
		sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
		err := s.conn.Send(sendCtx, msg)
		cancel()
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrConnClosed):
			m.OnDisconnect(s.id)
		default:
			slog.Warn("broadcast failed", "session_id", s.id, "error", err)
		}
	}
	return delivered
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Info returns a snapshot of session id.
func (m *Manager) Info(id string) (Info, error) {
	s, ok := m.get(id)
	if !ok {
		return Info{}, fmt.Errorf("%w %q", ErrUnknownSession, id)
	}
	return s.info(), nil
}

// List returns snapshots of all sessions.
func (m *Manager) List() []Info {
	m.mu.Lock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.Unlock()
	out := make([]Info, 0, len(targets))
	for _, s := range targets {
		out = append(out, s.info())
	}
	return out
}

// Close disconnects every session, cancels in-flight runs and waits for the
// workers to exit or ctx to end.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	if m.reaper != nil {
		m.reaper.stop()
	}
	for _, s := range all {
		m.release(s)
	}
	m.cancelBase()

	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// idle returns the sessions without inbound traffic since cutoff.
func (m *Manager) idle(cutoff time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.sessions {
		if !s.inFlight.Load() && s.lastActive.Load() < cutoff.UnixNano() {
			ids = append(ids, id)
		}
	}
	return ids
}
