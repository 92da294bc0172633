// Package ws is the websocket transport. Each accepted connection becomes a
// session; text frames carry the JSON envelopes handled by the session
// manager.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parla/internal/session"
)

const (
	defaultReadLimit    = 1 << 20
	defaultPingInterval = 30 * time.Second
	defaultInboundDepth = 16
)

// Sessions is the part of [session.Manager] the transport drives.
type Sessions interface {
	Accept(conn session.Conn) (string, error)
	OnMessage(ctx context.Context, id string, raw []byte) error
	OnDisconnect(id string)
}

var _ Sessions = (*session.Manager)(nil)

// Handler upgrades HTTP requests to websocket sessions.
type Handler struct {
	sessions     Sessions
	origins      []string
	readLimit    int64
	pingInterval time.Duration
	inboundDepth int
}

// Option configures a [Handler].
type Option func(*Handler)

// WithOriginPatterns allows cross-origin upgrades from hosts matching the
// patterns (see [websocket.AcceptOptions]).
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.origins = patterns }
}

// WithReadLimit caps the size of a single inbound frame. Default 1 MiB.
func WithReadLimit(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.readLimit = n
		}
	}
}

// WithPingInterval sets the keepalive period. Zero disables pings.
func WithPingInterval(d time.Duration) Option {
	return func(h *Handler) { h.pingInterval = d }
}

// WithInboundDepth sets how many inbound frames may wait for the session
// manager before the reader stops reading. Default 16.
func WithInboundDepth(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.inboundDepth = n
		}
	}
}

// NewHandler returns a Handler feeding s.
func NewHandler(s Sessions, opts ...Option) *Handler {
	h := &Handler{sessions: s, readLimit: defaultReadLimit, pingInterval: defaultPingInterval, inboundDepth: defaultInboundDepth}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP implements [http.Handler]. It returns when the peer goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("ws: accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c.SetReadLimit(h.readLimit)

	conn := &Conn{c: c}
	id, err := h.sessions.Accept(conn)
	if err != nil {
		c.Close(websocket.StatusTryAgainLater, "server shutting down")
		return
	}
	defer h.sessions.OnDisconnect(id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if h.pingInterval > 0 {
		go h.keepalive(ctx, conn, id)
	}

	// The reader never waits on the session manager directly: a full
	// session queue would otherwise stop pong processing and fail the
	// keepalive of a peer that is busy talking.
	inbound := make(chan []byte, h.inboundDepth)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		h.dispatch(ctx, cancel, id, inbound)
	}()
	defer func() {
		close(inbound)
		cancel()
		<-dispatched
	}()

	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			conn.peerGone.Store(true)
			logReadEnd(id, err)
			return
		}
		if typ != websocket.MessageText {
			slog.Info("ws: ignoring binary frame", "session_id", id, "bytes", len(data))
			continue
		}
		select {
		case inbound <- data:
			continue
		default:
		}
		conn.park()
		select {
		case inbound <- data:
			conn.unpark()
		case <-ctx.Done():
			conn.unpark()
			return
		}
	}
}

// dispatch feeds inbound frames to the session manager in arrival order.
func (h *Handler) dispatch(ctx context.Context, cancel context.CancelFunc, id string, inbound <-chan []byte) {
	for data := range inbound {
		if ctx.Err() != nil {
			return
		}
		if err := h.sessions.OnMessage(ctx, id, data); err != nil {
			if errors.Is(err, session.ErrUnknownSession) {
				cancel()
				return
			}
			if ctx.Err() != nil {
				return
			}
			slog.Warn("ws: message rejected", "session_id", id, "error", err)
		}
	}
}

func (h *Handler) keepalive(ctx context.Context, conn *Conn, id string) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			parks := conn.parks.Load()
			pingCtx, cancel := context.WithTimeout(ctx, h.pingInterval/2)
			err := conn.c.Ping(pingCtx)
			cancel()
			if err == nil || ctx.Err() != nil {
				continue
			}
			// A parked reader cannot see the pong, but the peer just sent
			// enough frames to fill the inbound queue.
			if conn.parked.Load() || conn.parks.Load() != parks {
				slog.Debug("ws: ping unanswered while reader parked", "session_id", id)
				continue
			}
			slog.Info("ws: ping failed, closing", "session_id", id, "error", err)
			h.sessions.OnDisconnect(id)
			return
		}
	}
}

func logReadEnd(id string, err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		slog.Debug("ws: peer closed", "session_id", id)
	default:
		if errors.Is(err, context.Canceled) {
			slog.Debug("ws: read cancelled", "session_id", id)
			return
		}
		slog.Info("ws: read ended", "session_id", id, "error", err)
	}
}

// Conn adapts a websocket connection to [session.Conn].
type Conn struct {
	c        *websocket.Conn
	peerGone atomic.Bool
	closed   atomic.Bool

	// parked is set while the reader waits for room in the inbound queue.
	parked atomic.Bool
	parks  atomic.Uint64
}

func (c *Conn) park() {
	c.parks.Add(1)
	c.parked.Store(true)
}

func (c *Conn) unpark() { c.parked.Store(false) }

var _ session.Conn = (*Conn)(nil)

// Send writes msg as one text frame. Write failures other than ctx expiry
// mean the connection is unusable and are reported as
// [session.ErrConnClosed].
func (c *Conn) Send(ctx context.Context, msg session.Outbound) error {
	if c.closed.Load() || c.peerGone.Load() {
		return session.ErrConnClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ws: encode %s: %w", msg.Type, err)
	}
	if err := c.c.Write(ctx, websocket.MessageText, data); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ws: write: %w", err)
		}
		return fmt.Errorf("%w: %w", session.ErrConnClosed, err)
	}
	return nil
}

// Close closes the connection, with a close handshake when the peer is
// still there.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.peerGone.Load() {
		return c.c.CloseNow()
	}
	return c.c.Close(websocket.StatusNormalClosure, "session closed")
}
