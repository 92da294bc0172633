package ws_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parla/internal/session"
	"github.com/MrWong99/parla/internal/transport/ws"
	"github.com/MrWong99/parla/internal/workflow"
)

type echoRunner struct{}

func (echoRunner) Run(_ context.Context, in workflow.Input) *workflow.State {
	return &workflow.State{Response: fmt.Sprintf("收到 %d 秒", len(in.Audio)/32000), SynthesisComplete: true}
}

type reply struct {
	Type      string  `json:"type"`
	Text      string  `json:"text"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

// slowRunner answers like echoRunner after delay.
type slowRunner struct{ delay time.Duration }

func (r slowRunner) Run(ctx context.Context, in workflow.Input) *workflow.State {
	time.Sleep(r.delay)
	return echoRunner{}.Run(ctx, in)
}

func setup(t *testing.T) (*session.Manager, *websocket.Conn) {
	t.Helper()
	return setupWith(t, echoRunner{}, ws.WithPingInterval(0))
}

func setupWith(t *testing.T, r session.Runner, opts ...ws.Option) (*session.Manager, *websocket.Conn) {
	t.Helper()
	mgr := session.NewManager(r, session.Config{})
	srv := httptest.NewServer(ws.NewHandler(mgr, opts...))
	t.Cleanup(func() {
		_ = mgr.Close(context.Background())
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.CloseNow() })

	waitFor(t, func() bool { return mgr.Count() == 1 })
	return mgr, c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func send(t *testing.T, c *websocket.Conn, v string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, []byte(v)); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func read(t *testing.T, c *websocket.Conn) reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var r reply
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return r
}

func audioEnvelope(seconds int) string {
	pcm := make([]byte, seconds*32000)
	return `{"type":"audio","data":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`
}

func TestHandler_AudioRoundTrip(t *testing.T) {
	t.Parallel()
	_, c := setup(t)

	send(t, c, audioEnvelope(2))
	r := read(t, c)
	if r.Type != "response" || r.Text != "收到 2 秒" {
		t.Errorf("got %+v", r)
	}
	if r.Timestamp < float64(time.Now().Add(-time.Minute).Unix()) {
		t.Errorf("timestamp = %v", r.Timestamp)
	}
}

func TestHandler_MalformedThenValid(t *testing.T) {
	t.Parallel()
	mgr, c := setup(t)

	send(t, c, `{"type":"audio","data":"not-base64!!"}`)
	send(t, c, `{"type":"hello"}`)
	send(t, c, audioEnvelope(2))

	if r := read(t, c); r.Type != "response" {
		t.Errorf("got %+v", r)
	}
	if mgr.Count() != 1 {
		t.Errorf("sessions = %d, want 1", mgr.Count())
	}
}

func TestHandler_Broadcast(t *testing.T) {
	t.Parallel()
	mgr, c := setup(t)

	if n := mgr.Broadcast(context.Background(), "维护通知"); n != 1 {
		t.Fatalf("delivered = %d", n)
	}
	if r := read(t, c); r.Type != "notification" || r.Message != "维护通知" {
		t.Errorf("got %+v", r)
	}
}

func TestHandler_PeerCloseEndsSession(t *testing.T) {
	t.Parallel()
	mgr, c := setup(t)

	c.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, func() bool { return mgr.Count() == 0 })
}

func TestHandler_KeepaliveSurvivesBusySession(t *testing.T) {
	t.Parallel()
	mgr, c := setupWith(t, slowRunner{delay: 600 * time.Millisecond},
		ws.WithPingInterval(200*time.Millisecond), ws.WithInboundDepth(1))

	// One utterance runs, one sits in the session queue, one waits in the
	// dispatcher, one fills the inbound queue and the last parks the reader.
	const n = 5
	for range n {
		send(t, c, audioEnvelope(2))
	}
	for i := range n {
		if r := read(t, c); r.Type != "response" || r.Text != "收到 2 秒" {
			t.Fatalf("response %d: got %+v", i, r)
		}
	}
	if mgr.Count() != 1 {
		t.Errorf("sessions = %d, want 1", mgr.Count())
	}
}

func TestHandler_StopEndsSession(t *testing.T) {
	t.Parallel()
	mgr, c := setup(t)

	send(t, c, audioEnvelope(1))
	send(t, c, `{"type":"stop"}`)
	if r := read(t, c); r.Type != "response" || r.Text != "收到 1 秒" {
		t.Errorf("got %+v", r)
	}
	waitFor(t, func() bool { return mgr.Count() == 0 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusNormalClosure {
		t.Errorf("close status = %v (%v), want normal closure", got, err)
	}
}
