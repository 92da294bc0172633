// Package admin serves the JSON administrative API: tool management, a text
// mode assistant endpoint, feedback, statistics and operator broadcasts.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/parla/internal/history"
	"github.com/MrWong99/parla/internal/observe"
	"github.com/MrWong99/parla/internal/session"
	"github.com/MrWong99/parla/internal/tools"
	"github.com/MrWong99/parla/internal/workflow"
)

const maxBody = 1 << 20

// ToolAdmin is the tool registry surface the API manages.
type ToolAdmin interface {
	Describe() []tools.Descriptor
	Names() []string
	Add(ctx context.Context, spec tools.Spec) error
	Remove(ctx context.Context, name string) error
	Enable(ctx context.Context, name string) error
	Disable(name string) error
	Reload(ctx context.Context) (tools.SpecDiff, error)
}

// Assistant runs one text exchange.
type Assistant interface {
	Run(ctx context.Context, in workflow.Input) *workflow.State
}

// Sessions is the session manager surface the API reads and broadcasts to.
type Sessions interface {
	Broadcast(ctx context.Context, text string) int
	List() []session.Info
}

var (
	_ ToolAdmin = (*tools.Registry)(nil)
	_ Assistant = (*workflow.Engine)(nil)
	_ Sessions  = (*session.Manager)(nil)
)

// Handler implements the /v1 routes.
type Handler struct {
	tools     ToolAdmin
	assistant Assistant
	history   history.Store
	sessions  Sessions
	now       func() time.Time
}

// Option configures a [Handler].
type Option func(*Handler)

// WithHistory sets the feedback and statistics backend. Defaults to
// [history.Nop].
func WithHistory(s history.Store) Option {
	return func(h *Handler) { h.history = s }
}

// WithSessions enables /v1/sessions and /v1/broadcast.
func WithSessions(s Sessions) Option {
	return func(h *Handler) { h.sessions = s }
}

// New returns a Handler.
func New(t ToolAdmin, a Assistant, opts ...Option) *Handler {
	h := &Handler{tools: t, assistant: a, history: history.Nop{}, now: time.Now}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the /v1 routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/tools", h.listTools)
	mux.HandleFunc("GET /v1/tools/active", h.activeTools)
	mux.HandleFunc("POST /v1/tools", h.addTool)
	mux.HandleFunc("POST /v1/tools/reload", h.reloadTools)
	mux.HandleFunc("DELETE /v1/tools/{name}", h.removeTool)
	mux.HandleFunc("POST /v1/tools/{name}/enable", h.enableTool)
	mux.HandleFunc("POST /v1/tools/{name}/disable", h.disableTool)

	mux.HandleFunc("POST /v1/assistant", h.assist)
	mux.HandleFunc("POST /v1/feedback", h.feedback)
	mux.HandleFunc("GET /v1/stats", h.stats)

	if h.sessions != nil {
		mux.HandleFunc("GET /v1/sessions", h.listSessions)
		mux.HandleFunc("POST /v1/broadcast", h.broadcast)
	}
}

// ── Tools ────────────────────────────────────────────────────────────────────

func (h *Handler) listTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": h.tools.Describe()})
}

func (h *Handler) activeTools(w http.ResponseWriter, _ *http.Request) {
	active := []string{}
	for _, d := range h.tools.Describe() {
		if d.Enabled {
			active = append(active, d.Name)
		}
	}
	slices.Sort(active)
	writeJSON(w, http.StatusOK, map[string]any{"active": active})
}

func (h *Handler) addTool(w http.ResponseWriter, r *http.Request) {
	var spec tools.Spec
	if !decode(w, r, &spec) {
		return
	}
	if err := spec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.tools.Add(r.Context(), spec); err != nil {
		writeError(w, toolStatus(err), err)
		return
	}
	observe.Logger(r.Context()).Info("admin: tool added", "tool", spec.Name, "factory", spec.Key())
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok", "name": spec.Name})
}

func (h *Handler) removeTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.tools.Remove(r.Context(), name); err != nil {
		writeError(w, toolStatus(err), err)
		return
	}
	observe.Logger(r.Context()).Info("admin: tool removed", "tool", name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "name": name})
}

func (h *Handler) enableTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.tools.Enable(r.Context(), name); err != nil {
		writeError(w, toolStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "name": name, "enabled": true})
}

func (h *Handler) disableTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.tools.Disable(name); err != nil {
		writeError(w, toolStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "name": name, "enabled": false})
}

type reloadResult struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
	Tools   []string `json:"tools"`
	Errors  []string `json:"errors,omitempty"`
}

// reloadTools always answers 200 once the registry swapped its set; records
// that failed to build are listed under "errors".
func (h *Handler) reloadTools(w http.ResponseWriter, r *http.Request) {
	diff, err := h.tools.Reload(r.Context())
	res := reloadResult{
		Added:   nonNil(diff.Added),
		Removed: nonNil(diff.Removed),
		Changed: nonNil(diff.Changed),
		Tools:   nonNil(h.tools.Names()),
	}
	if err != nil {
		res.Errors = strings.Split(err.Error(), "\n")
	}
	writeJSON(w, http.StatusOK, res)
}

func toolStatus(err error) int {
	switch {
	case errors.Is(err, tools.ErrNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, tools.ErrUnknownFactory):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ── Assistant ────────────────────────────────────────────────────────────────

type assistRequest struct {
	Input    string         `json:"input"`
	Context  map[string]any `json:"context,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
	Language string         `json:"language,omitempty"`
}

type assistResponse struct {
	Output  string         `json:"output"`
	Intent  string         `json:"intent"`
	Tool    string         `json:"tool,omitempty"`
	RunID   string         `json:"run_id"`
	Context map[string]any `json:"context"`
}

func (h *Handler) assist(w http.ResponseWriter, r *http.Request) {
	var req assistRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeError(w, http.StatusBadRequest, errors.New("admin: input is required"))
		return
	}
	st := h.assistant.Run(r.Context(), workflow.Input{
		Text:      req.Input,
		Language:  req.Language,
		SessionID: req.UserID,
	})
	ctxOut := req.Context
	if ctxOut == nil {
		ctxOut = map[string]any{}
	}
	writeJSON(w, http.StatusOK, assistResponse{
		Output:  st.Response,
		Intent:  string(st.Intent),
		Tool:    st.Tool,
		RunID:   st.ID,
		Context: ctxOut,
	})
}

// ── Feedback & stats ─────────────────────────────────────────────────────────

type feedbackRequest struct {
	RunID   string `json:"run_id"`
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

func (h *Handler) feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decode(w, r, &req) {
		return
	}
	fb := history.Feedback{RunID: req.RunID, Score: req.Score, Comment: req.Comment, Time: h.now().UTC()}
	if err := fb.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.history.SaveFeedback(r.Context(), fb); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

// stats accepts an optional ?window=24h limiting the summary to recent runs.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("admin: invalid window %q", raw))
			return
		}
		since = h.now().Add(-d)
	}
	st, err := history.Summarize(r.Context(), h.history, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ── Sessions ─────────────────────────────────────────────────────────────────

func (h *Handler) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": nonNil(h.sessions.List())})
}

func (h *Handler) broadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, errors.New("admin: message is required"))
		return
	}
	n := h.sessions.Broadcast(r.Context(), req.Message)
	writeJSON(w, http.StatusOK, map[string]int{"delivered": n})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("admin: decode body: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
