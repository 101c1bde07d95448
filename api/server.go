// Package api provides the run-monitor HTTP server.
//
// It exposes the health check, live run summaries, per-SIC status
// detail, the active configuration, and a WebSocket stream of pipeline
// progress events, plus an embedded status page at /.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seenimoa/openedgar/internal/config"
	"github.com/seenimoa/openedgar/internal/store"
	"github.com/seenimoa/openedgar/pkg/models"
	"github.com/seenimoa/openedgar/web"
)

// SummarySource exposes the live summaries of an ongoing run.
// *pipeline.Orchestrator implements it.
type SummarySource interface {
	Summaries() []models.RunSummary
	Summary(sic int) (models.RunSummary, bool)
}

// Server is the monitor HTTP server.
type Server struct {
	router    chi.Router
	cfg       *config.Config
	summaries SummarySource
	store     store.Store
	wsHub     *WSHub
	serveUI   bool // when true, serve the embedded status page at /
}

// NewServer creates a configured monitor server with all routes and
// middleware, and starts its WebSocket hub.
func NewServer(cfg *config.Config, summaries SummarySource, st store.Store) *Server {
	srv := &Server{
		cfg:       cfg,
		summaries: summaries,
		store:     st,
		wsHub:     NewWSHub(),
		serveUI:   true,
	}
	go srv.wsHub.Run()
	srv.router = srv.buildRouter()
	return srv
}

// SetServeUI controls whether the embedded status page is served.
// Must be called before ListenAndServe.
func (s *Server) SetServeUI(enabled bool) {
	s.serveUI = enabled
	s.router = s.buildRouter()
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// BroadcastProgress forwards a pipeline event to every connected
// WebSocket client. Plug it into the orchestrator's OnProgress hook.
func (s *Server) BroadcastProgress(ev models.ProgressEvent) {
	s.wsHub.Broadcast(WSMessage{Type: "progress", Data: ev})
}

// ListenAndServe serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutCtx)
	}
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := []string{"*"}
	if s.cfg != nil && len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/summary", s.handleSummaries)
		r.Get("/status/{sic}", s.handleStatus)
		r.Get("/config", s.handleGetConfig)
		r.Get("/ws", s.handleWebSocket)
	})

	if s.serveUI {
		s.mountUI(r, web.DistFS())
	}

	return r
}

// mountUI serves the embedded status page, falling back to index.html
// for unknown paths.
func (s *Server) mountUI(r chi.Router, distFS fs.FS) {
	fileServer := http.FileServer(http.FS(distFS))

	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		rPath := strings.TrimPrefix(r.URL.Path, "/")
		if rPath == "" {
			rPath = "index.html"
		}

		f, err := distFS.Open(rPath)
		if err != nil {
			serveIndexHTML(w, distFS)
			return
		}
		f.Close()

		if strings.HasSuffix(rPath, ".html") {
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		}
		fileServer.ServeHTTP(w, r)
	})
}

func serveIndexHTML(w http.ResponseWriter, distFS fs.FS) {
	data, err := fs.ReadFile(distFS, "index.html")
	if err != nil {
		http.Error(w, "status page not available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck
}

// ============================================================
// Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse is the payload for GET /api/v1/status/{sic}.
type StatusResponse struct {
	SICCode int                  `json:"sic_code"`
	Counts  map[string]int       `json:"counts"`
	Records int                  `json:"records"`
	Entries []models.StatusEntry `json:"entries"`
	Summary *models.RunSummary   `json:"summary,omitempty"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]any{
			"status":     "ok",
			"version":    "dev",
			"time":       time.Now().UTC(),
			"ws_clients": s.wsHub.ClientCount(),
		},
	})
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	summaries := []models.RunSummary{}
	if s.summaries != nil {
		summaries = s.summaries.Summaries()
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    summaries,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sic, err := strconv.Atoi(chi.URLParam(r, "sic"))
	if err != nil || sic < 1 || sic > 9999 {
		writeError(w, http.StatusBadRequest, "sic must be a code between 1 and 9999")
		return
	}

	entries, err := s.store.LoadStatus(sic)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	records, err := s.store.RecordCount(sic)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := StatusResponse{
		SICCode: sic,
		Counts:  map[string]int{},
		Records: records,
		Entries: make([]models.StatusEntry, 0, len(entries)),
	}
	for _, entry := range entries {
		resp.Counts[string(entry.Status)]++
		resp.Entries = append(resp.Entries, entry)
	}
	sort.Slice(resp.Entries, func(i, j int) bool {
		return resp.Entries[i].Ticker < resp.Entries[j].Ticker
	})
	if s.summaries != nil {
		if sum, ok := s.summaries.Summary(sic); ok {
			resp.Summary = &sum
		}
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    resp,
	})
}

// ============================================================
// Helpers
// ============================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write json response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}

// ============================================================
// WebSocket Hub
// ============================================================

// WSMessage is a message sent over WebSocket connections.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// WSHub manages WebSocket connections and message broadcasting.
type WSHub struct {
	mu         sync.RWMutex
	clients    map[*WSClient]bool
	broadcast  chan WSMessage
	register   chan *WSClient
	unregister chan *WSClient
}

// WSClient represents a single WebSocket connection.
type WSClient struct {
	hub  *WSHub
	send chan WSMessage
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WSMessage, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run starts the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			var slow []*WSClient
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			// Clients that cannot keep up are dropped rather than
			// allowed to stall the pipeline's event stream.
			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// Broadcast sends a message to all connected WebSocket clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
		// Drop the message if the broadcast channel is full.
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub.
func (h *WSHub) Register(client *WSClient) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *WSHub) Unregister(client *WSClient) {
	h.unregister <- client
}
