package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gmorais/opslog/pkg/logstore"
)

// Server exposes the store over a local JSON API plus a websocket live tail.
type Server struct {
	store    *logstore.Store
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]*client
	mu       sync.RWMutex
	logger   zerolog.Logger
	httpSrv  *http.Server
}

type client struct {
	conn     *websocket.Conn
	category logstore.Category
	service  string
	send     chan tailMessage
	done     chan struct{}
}

type tailMessage struct {
	Type     string            `json:"type"`
	Category logstore.Category `json:"category"`
	Entry    any               `json:"entry"`
}

// New creates a Server over the store and registers it as the store's ingest
// hook so new entries stream to tail subscribers.
func New(store *logstore.Store, logger zerolog.Logger) *Server {
	s := &Server{
		store: store,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Local-only server
			},
		},
		clients: make(map[*websocket.Conn]*client),
		logger:  logger.With().Str("component", "server").Logger(),
	}
	store.SetOnIngest(s.broadcast)
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /errors", s.handleListErrors)
	mux.HandleFunc("GET /errors/stats", s.handleErrorStats)
	mux.HandleFunc("GET /ai", s.handleListAICalls)
	mux.HandleFunc("GET /ai/stats", s.handleAIStats)
	mux.HandleFunc("GET /histogram", s.handleHistogram)
	mux.HandleFunc("POST /delete", s.handleDelete)
	mux.HandleFunc("POST /clear", s.handleClear)
	mux.HandleFunc("GET /export", s.handleExport)
	mux.HandleFunc("GET /entries/{id}/details", s.handleDetails)
	mux.HandleFunc("/tail", s.handleWebSocket)

	return mux
}

// Start starts the HTTP server on the given port and blocks until Shutdown
// or a listener error. A Shutdown-initiated stop returns nil.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	s.logger.Info().Str("addr", addr).Msg("starting server")
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and drains in-flight ones. Callers must
// shut the server down before closing the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":   "ok",
		"errors":   s.store.Len(logstore.CategoryErrors),
		"ai_calls": s.store.Len(logstore.CategoryAICalls),
	})
}

func (s *Server) handleListErrors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := logstore.ErrorFilter{
		ServiceID:      q.Get("service"),
		ErrorCode:      q.Get("code"),
		NetworkOnly:    q.Get("network") == "1",
		Operation:      q.Get("operation"),
		Endpoint:       q.Get("endpoint"),
		Search:         q.Get("q"),
		IncludeDeleted: q.Get("deleted") == "1",
	}
	if v := q.Get("status"); v != "" {
		code, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		filter.StatusCode = code
	}
	var err error
	if filter.From, filter.To, err = parseRange(q.Get("from"), q.Get("to")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries := s.store.ListErrors(filter)
	writeJSON(w, map[string]any{"entries": entries, "total": len(entries)})
}

func (s *Server) handleListAICalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := logstore.AICallFilter{
		Provider:       q.Get("provider"),
		Model:          q.Get("model"),
		Operation:      q.Get("operation"),
		Status:         q.Get("status"),
		ServiceID:      q.Get("service"),
		Search:         q.Get("q"),
		IncludeDeleted: q.Get("deleted") == "1",
	}
	var err error
	if filter.From, filter.To, err = parseRange(q.Get("from"), q.Get("to")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries := s.store.ListAICalls(filter)
	writeJSON(w, map[string]any{"entries": entries, "total": len(entries)})
}

func (s *Server) handleErrorStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.ErrorStats())
}

func (s *Server) handleAIStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.AIStats())
}

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	var hist []logstore.HistogramEntry
	dim := r.URL.Query().Get("dim")
	switch dim {
	case "service":
		hist = s.store.ServiceHistogram()
	case "endpoint":
		hist = s.store.EndpointHistogram()
	case "status":
		hist = s.store.StatusCodeHistogram()
	case "provider":
		hist = s.store.AIProviderHistogram()
	case "operation":
		hist = s.store.AIOperationHistogram()
	default:
		http.Error(w, fmt.Sprintf("unknown dimension %q", dim), http.StatusBadRequest)
		return
	}
	writeJSON(w, hist)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category logstore.Category `json:"category"`
		IDs      []string          `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Category.Valid() {
		http.Error(w, "unknown category", http.StatusBadRequest)
		return
	}
	s.store.DeleteEntries(req.Category, req.IDs...)
	writeJSON(w, map[string]any{"deleted": len(req.IDs)})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category logstore.Category `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Category.Valid() {
		http.Error(w, "unknown category", http.StatusBadRequest)
		return
	}
	s.store.ClearAll(req.Category)
	writeJSON(w, map[string]any{"status": "cleared"})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.ExportJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="opslog-export.json"`)
	w.Write([]byte(data))
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	details, ok, err := s.store.Details().Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, details)
}

// handleWebSocket handles WS /tail
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade error")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan tailMessage, 100),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[conn] = c
	s.mu.Unlock()

	go s.writePump(c)
	go s.readPump(c)
}

// readPump reads subscription messages from the WebSocket
func (s *Server) readPump(c *client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c.conn)
		s.mu.Unlock()
		close(c.done)
		c.conn.Close()
	}()

	for {
		var msg struct {
			Action   string            `json:"action"`
			Category logstore.Category `json:"category"`
			Service  string            `json:"service"`
		}
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}

		switch msg.Action {
		case "subscribe":
			s.mu.Lock()
			c.category = msg.Category
			c.service = msg.Service
			s.mu.Unlock()
		case "unsubscribe":
			s.mu.Lock()
			c.category = ""
			c.service = ""
			s.mu.Unlock()
		}
	}
}

// writePump sends messages to the WebSocket
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// broadcast fans a freshly ingested entry out to matching subscribers.
func (s *Server) broadcast(cat logstore.Category, entry any) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.clients {
		if c.category != cat {
			continue
		}
		if c.service != "" && entryService(entry) != c.service {
			continue
		}
		select {
		case c.send <- tailMessage{Type: "entry", Category: cat, Entry: entry}:
		default:
			// Channel full, skip
		}
	}
}

func entryService(entry any) string {
	switch e := entry.(type) {
	case *logstore.ErrorEntry:
		return e.ServiceID
	case *logstore.AICallEntry:
		return e.ServiceID
	}
	return ""
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	var f, t time.Time
	var err error
	if from != "" {
		if f, err = time.Parse(time.RFC3339, from); err != nil {
			return f, t, fmt.Errorf("invalid from: %w", err)
		}
	}
	if to != "" {
		if t, err = time.Parse(time.RFC3339, to); err != nil {
			return f, t, fmt.Errorf("invalid to: %w", err)
		}
	}
	return f, t, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
