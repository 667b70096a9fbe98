// Package api serves agentsync's local HTTP API and live event feed.
//
// Routes (loopback only, started by `agentsync serve`):
//
//	GET  /health                         Liveness
//	GET  /api/agents                     Every kind with its live settings
//	GET  /api/agents/{kind}              One kind
//	POST /api/agents/{kind}/generate     Render and write settings
//	GET  /api/agents/{kind}/backups      Snapshots, newest first
//	POST /api/agents/{kind}/restore      Restore a snapshot
//	POST /api/agents/{kind}/probe        Test an endpoint
//	POST /api/agents/{kind}/models       List the endpoint's models
//	POST /api/mode                       Regenerate managed kinds for a mode
//	GET  /api/history                    Recorded operations
//	GET  /api/ws                         Live lifecycle events (websocket)
//
// API keys never leave the server unmasked. Cross-site browser requests
// are refused and POST bodies must be application/json.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/ctrlai/agentsync/internal/agent"
	"github.com/ctrlai/agentsync/internal/backup"
	"github.com/ctrlai/agentsync/internal/codec"
	"github.com/ctrlai/agentsync/internal/history"
	"github.com/ctrlai/agentsync/internal/lifecycle"
)

// HistoryReader is the part of the history store the API reads from.
type HistoryReader interface {
	Query(params history.QueryParams) ([]history.Entry, error)
}

// Options holds the dependencies injected into the server.
type Options struct {
	Coordinator *lifecycle.Coordinator
	// History backs /api/history. Optional.
	History HistoryReader
	// Managed marks which kinds agentsync manages. Optional.
	Managed *agent.ManagedSet
	// Host is the configured listen host. Requests naming it in Host or
	// Origin are accepted besides loopback ones.
	Host string
}

// Server serves the REST API and the websocket event feed.
type Server struct {
	coord   *lifecycle.Coordinator
	history HistoryReader
	managed *agent.ManagedSet
	hub     *hub

	listenHost string
	upgrader   websocket.Upgrader
}

// New creates a Server and starts its event hub.
func New(opts Options) *Server {
	s := &Server{
		coord:   opts.Coordinator,
		history: opts.History,
		managed: opts.Managed,
		hub:     newHub(),

		listenHost: opts.Host,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.sameOrigin}
	go s.hub.run()
	return s
}

// Publish sends a lifecycle event to every websocket subscriber. Wire it
// into lifecycle.Options.OnEvent. Non-blocking.
func (s *Server) Publish(ev lifecycle.Event) {
	s.hub.publish(ev)
}

// Close disconnects all subscribers and stops the hub.
func (s *Server) Close() {
	s.hub.stop()
}

// Handler returns the router for every route, behind the request guard.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/agents", s.handleAgents)
	mux.HandleFunc("GET /api/agents/{kind}", s.handleAgent)
	mux.HandleFunc("POST /api/agents/{kind}/generate", s.handleGenerate)
	mux.HandleFunc("GET /api/agents/{kind}/backups", s.handleBackups)
	mux.HandleFunc("POST /api/agents/{kind}/restore", s.handleRestore)
	mux.HandleFunc("POST /api/agents/{kind}/probe", s.handleProbe)
	mux.HandleFunc("POST /api/agents/{kind}/models", s.handleModels)
	mux.HandleFunc("POST /api/mode", s.handleSwitchMode)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/ws", s.handleEvents)

	return s.guard(mux)
}

// agentView is one kind as the API reports it.
type agentView struct {
	agent.Info
	Path       string          `json:"path"`
	Configured bool            `json:"configured"`
	Managed    bool            `json:"managed"`
	State      lifecycle.State `json:"state"`
	Settings   codec.Parsed    `json:"settings"`
	Error      string          `json:"error,omitempty"`
}

func (s *Server) view(r *http.Request, k agent.Kind) agentView {
	info, _ := agent.Lookup(k)
	v := agentView{
		Info:  info,
		Path:  s.coord.Path(k),
		State: s.coord.State(k),
	}
	if s.managed != nil {
		v.Managed = s.managed.IsManaged(k)
	}
	res, err := s.coord.Read(r.Context(), k)
	if err != nil {
		v.Error = err.Error()
		return v
	}
	v.Configured = res.Configured
	v.Settings = res.Parsed
	v.Settings.APIKey = MaskKey(v.Settings.APIKey)
	return v
}

// handleHealth reports that the server is up.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAgents lists every supported kind. A kind that fails to read is
// still listed, with its error.
// GET /api/agents
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	kinds := agent.All()
	views := make([]agentView, 0, len(kinds))
	for _, k := range kinds {
		views = append(views, s.view(r, k))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleAgent returns one kind.
// GET /api/agents/{kind}
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	k, ok := pathKind(w, r)
	if !ok {
		return
	}
	v := s.view(r, k)
	if v.Error != "" {
		writeError(w, http.StatusInternalServerError, v.Error)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// generateRequest is the body of a generate. With Defaults set, the
// configured proxy URL and model for Mode are used and the explicit
// fields are ignored.
type generateRequest struct {
	codec.Settings
	Defaults  bool `json:"defaults"`
	SkipProbe bool `json:"skip_probe"`
	Replace   bool `json:"replace"`
}

// handleGenerate writes settings into a kind's config file.
// POST /api/agents/{kind}/generate
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	k, ok := pathKind(w, r)
	if !ok {
		return
	}
	var req generateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Mode != "" {
		m, err := codec.ParseMode(string(req.Mode))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Mode = m
	}

	opts := lifecycle.GenerateOptions{SkipProbe: req.SkipProbe, Replace: req.Replace}
	var (
		res lifecycle.WriteResult
		err error
	)
	if req.Defaults {
		mode := req.Mode
		if mode == "" {
			mode = codec.ModeLocal
		}
		res, err = s.coord.GenerateDefault(r.Context(), k, mode, opts)
	} else {
		res, err = s.coord.Generate(r.Context(), k, req.Settings, opts)
	}
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleBackups lists a kind's snapshots, optionally filtered by a glob
// over snapshot names.
// GET /api/agents/{kind}/backups?match=codex.20261018T*
func (s *Server) handleBackups(w http.ResponseWriter, r *http.Request) {
	k, ok := pathKind(w, r)
	if !ok {
		return
	}
	snaps, err := s.coord.Backups(k)
	if err != nil {
		slog.Error("listing backups failed", "kind", k, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if pattern := r.URL.Query().Get("match"); pattern != "" {
		if snaps, err = backup.Select(snaps, pattern); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if snaps == nil {
		snaps = []backup.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// handleRestore writes a snapshot back. An empty snapshot name means the
// newest one.
// POST /api/agents/{kind}/restore  { "snapshot": "latest" }
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	k, ok := pathKind(w, r)
	if !ok {
		return
	}
	var req struct {
		Snapshot string `json:"snapshot"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.coord.Restore(r.Context(), k, req.Snapshot)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleProbe tests the given settings, or the kind's live config when the
// body has no endpoint. Probe failures are a 200 with success=false; the
// request itself worked.
// POST /api/agents/{kind}/probe
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	k, ok := pathKind(w, r)
	if !ok {
		return
	}
	var req codec.Settings
	if !decodeBody(w, r, &req) {
		return
	}
	if req.EndpointURL == "" {
		res, err := s.coord.ProbeConfigured(r.Context(), k)
		if err != nil {
			writeOpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	res, err := s.coord.Probe(r.Context(), k, req)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleModels lists the endpoint's models, one page or all of them.
// POST /api/agents/{kind}/models
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	k, ok := pathKind(w, r)
	if !ok {
		return
	}
	var req struct {
		codec.Settings
		PageToken string `json:"page_token"`
		All       bool   `json:"all"`
		MaxPages  int    `json:"max_pages"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	page, err := s.coord.Models(r.Context(), k, lifecycle.ModelsRequest{
		Settings:  req.Settings,
		PageToken: req.PageToken,
		All:       req.All,
		MaxPages:  req.MaxPages,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleSwitchMode regenerates every managed kind for a mode.
// POST /api/mode  { "mode": "remote", "skip_probe": true }
func (s *Server) handleSwitchMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode      string `json:"mode"`
		SkipProbe bool   `json:"skip_probe"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	mode, err := codec.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results := s.coord.SwitchMode(r.Context(), mode, lifecycle.GenerateOptions{SkipProbe: req.SkipProbe})
	if results == nil {
		results = []lifecycle.SwitchResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// handleHistory returns recorded operations, newest first.
// GET /api/history?agent=codex&op=generate&outcome=failure&since=24h&limit=50
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history is not enabled")
		return
	}

	q := r.URL.Query()
	limit := 50
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := s.history.Query(history.QueryParams{
		Agent:   q.Get("agent"),
		Op:      q.Get("op"),
		Outcome: q.Get("outcome"),
		Since:   q.Get("since"),
		Limit:   limit,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

// MaskKey hides all but the first and last four characters of a key.
// Short keys are hidden entirely.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 12 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

func pathKind(w http.ResponseWriter, r *http.Request) (agent.Kind, bool) {
	k, err := agent.Parse(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return k, true
}

// decodeBody decodes a JSON body into v. An empty body leaves v zero.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeOpError maps lifecycle failures to status codes.
func writeOpError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lifecycle.ErrInvalidSettings):
		status = http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrNotConfigured), errors.Is(err, backup.ErrSnapshotNotFound):
		status = http.StatusNotFound
	case errors.Is(err, codec.ErrUnmergeable):
		status = http.StatusConflict
	case errors.Is(err, lifecycle.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("api operation failed", "error", err)
	}

	body := map[string]string{"error": err.Error()}
	var opErr *lifecycle.OpError
	if errors.As(err, &opErr) {
		body["category"] = lifecycle.CategoryName(opErr)
	}
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeJSON sends a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
