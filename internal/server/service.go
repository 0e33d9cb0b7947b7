// Package server exposes a conversation store over HTTP, with an event feed
// of state changes for dashboards and sidecar processes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/theirongolddev/chatstate/internal/model"
	"github.com/theirongolddev/chatstate/internal/store"
	"github.com/theirongolddev/chatstate/internal/usage"
)

// Event types published on state changes.
const (
	EventSnapshot         = "snapshot"
	EventChatSaved        = "chat_saved"
	EventChatCleared      = "chat_cleared"
	EventCacheUpdated     = "cache_updated"
	EventExchangeStarted  = "exchange_started"
	EventExchangeFinished = "exchange_finished"
)

const maxBodyBytes = 8 << 20

// Config controls the service runtime behavior.
type Config struct {
	Addr         string
	EventsBuffer int
}

// Snapshot is a compact store state for status payloads.
type Snapshot struct {
	At               time.Time `json:"at"`
	Chats            int       `json:"chats"`
	Exchanges        int       `json:"exchanges"`
	OpenExchanges    int       `json:"open_exchanges"`
	Tokens           int64     `json:"tokens"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd"`
}

// Event is emitted whenever a chat or exchange changes.
type Event struct {
	ID         int64     `json:"id"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	ChatID     string    `json:"chat_id,omitempty"`
	ExchangeID int64     `json:"exchange_id,omitempty"`
	CostUSD    float64   `json:"cost_usd,omitempty"`
	Snapshot   *Snapshot `json:"snapshot,omitempty"`
}

// Status is served at /v1/status.
type Status struct {
	StartedAt       time.Time  `json:"started_at"`
	Backend         store.Kind `json:"backend"`
	Requests        int64      `json:"requests"`
	LastError       string     `json:"last_error,omitempty"`
	EventCount      int        `json:"event_count"`
	SubscriberCount int        `json:"subscriber_count"`
	Summary         Snapshot   `json:"summary"`
}

// Service serves the HTTP API over one backend.
type Service struct {
	cfg     Config
	backend store.Backend
	tracker *usage.Tracker
	logger  *slog.Logger

	mu          sync.RWMutex
	startedAt   time.Time
	requests    int64
	lastError   string
	nextEventID int64
	events      []Event
	turns       map[int64]*usage.Turn

	nextSubID int
	subs      map[int]chan Event
}

// New returns a service over backend. A nil pricer uses default prices.
func New(cfg Config, backend store.Backend, pricer *usage.Pricer, logger *slog.Logger) *Service {
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8788"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Service{
		cfg:       cfg,
		backend:   backend,
		tracker:   usage.NewTracker(backend, pricer, logger),
		logger:    logger,
		startedAt: time.Now(),
		turns:     make(map[int64]*usage.Turn),
		subs:      make(map[int]chan Event),
	}
}

// Handler returns the routed API.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/stream", s.handleStream)

	mux.HandleFunc("GET /v1/chats", s.handleListChats)
	mux.HandleFunc("POST /v1/chats", s.handleCreateChat)
	mux.HandleFunc("GET /v1/chats/{id}", s.handleGetChat)
	mux.HandleFunc("PUT /v1/chats/{id}", s.handleSaveChat)
	mux.HandleFunc("DELETE /v1/chats/{id}", s.handleClearChat)
	mux.HandleFunc("PUT /v1/chats/{id}/cache", s.handleUpdateCache)
	mux.HandleFunc("GET /v1/chats/{id}/exchanges", s.handleListExchanges)
	mux.HandleFunc("POST /v1/chats/{id}/exchanges", s.handleBeginExchange)
	mux.HandleFunc("POST /v1/exchanges/{id}/finish", s.handleFinishExchange)
	return s.count(mux)
}

// Run serves HTTP until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("state service listening", "addr", s.cfg.Addr, "backend", s.backend.Kind())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("state service http server: %w", err)
	}
}

func (s *Service) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

type saveRequest struct {
	Messages       []model.Message `json:"messages"`
	InitialRequest string          `json:"initial_request,omitempty"`
	ProjectRoot    string          `json:"project_root,omitempty"`
}

type beginRequest struct {
	Model   string `json:"model"`
	Request string `json:"request,omitempty"`
}

type finishRequest struct {
	Usage model.Usage `json:"usage"`
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}

	s.mu.RLock()
	st := Status{
		StartedAt:       s.startedAt,
		Backend:         s.backend.Kind(),
		Requests:        s.requests,
		LastError:       s.lastError,
		EventCount:      len(s.events),
		SubscriberCount: len(s.subs),
		Summary:         snap,
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, st)
}

func (s *Service) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, events)
}

func (s *Service) handleListChats(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	chats, err := s.backend.ListConversations(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if chats == nil {
		chats = []model.ChatSummary{}
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Service) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	chatID := uuid.NewString()
	if err := s.save(r.Context(), chatID, req); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"chat_id": chatID})
}

func (s *Service) handleGetChat(w http.ResponseWriter, r *http.Request) {
	sess, ok, err := s.backend.GetConversationState(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if !ok {
		http.Error(w, "chat not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Service) handleSaveChat(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.save(r.Context(), r.PathValue("id"), req); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) save(ctx context.Context, chatID string, req saveRequest) error {
	meta := model.Metadata{InitialRequest: req.InitialRequest, ProjectRoot: req.ProjectRoot}
	if err := s.backend.SaveConversationState(ctx, chatID, req.Messages, meta); err != nil {
		return err
	}
	s.emit(Event{Type: EventChatSaved, ChatID: chatID})
	return nil
}

func (s *Service) handleClearChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if err := s.backend.ClearConversationState(r.Context(), chatID); err != nil {
		s.fail(w, err)
		return
	}
	s.emit(Event{Type: EventChatCleared, ChatID: chatID})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleUpdateCache(w http.ResponseWriter, r *http.Request) {
	var info model.CacheInfo
	if !decodeBody(w, r, &info) {
		return
	}
	chatID := r.PathValue("id")
	if err := s.backend.UpdateCacheInfo(r.Context(), chatID, info); err != nil {
		s.fail(w, err)
		return
	}
	s.emit(Event{Type: EventCacheUpdated, ChatID: chatID})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleListExchanges(w http.ResponseWriter, r *http.Request) {
	exs, err := s.backend.ListExchanges(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if exs == nil {
		exs = []model.Exchange{}
	}
	writeJSON(w, http.StatusOK, exs)
}

func (s *Service) handleBeginExchange(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	turn, err := s.tracker.Begin(r.Context(), r.PathValue("id"), req.Model, req.Request)
	if err != nil {
		s.fail(w, err)
		return
	}
	ex := turn.Exchange()

	s.mu.Lock()
	s.turns[ex.ExchangeID] = turn
	s.mu.Unlock()

	s.emit(Event{Type: EventExchangeStarted, ChatID: ex.ChatID, ExchangeID: ex.ExchangeID})
	writeJSON(w, http.StatusCreated, ex)
}

func (s *Service) handleFinishExchange(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid exchange id", http.StatusBadRequest)
		return
	}
	var req finishRequest
	if !decodeBody(w, r, &req) {
		return
	}

	s.mu.Lock()
	turn, ok := s.turns[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "exchange not open", http.StatusNotFound)
		return
	}

	cost, err := turn.Finish(r.Context(), req.Usage)
	if err != nil && !errors.Is(err, usage.ErrTurnFinished) {
		s.fail(w, err)
		return
	}
	s.mu.Lock()
	delete(s.turns, id)
	s.mu.Unlock()
	if err != nil {
		http.Error(w, "exchange not open", http.StatusNotFound)
		return
	}

	ex := turn.Exchange()
	s.emit(Event{Type: EventExchangeFinished, ChatID: ex.ChatID, ExchangeID: id, CostUSD: cost.EstimatedCost})
	writeJSON(w, http.StatusOK, ex)
}

func (s *Service) snapshot(ctx context.Context) (Snapshot, error) {
	chats, err := s.backend.ListConversations(ctx, 0)
	if err != nil {
		return Snapshot{}, err
	}
	exs, err := s.backend.ListExchanges(ctx, "")
	if err != nil {
		return Snapshot{}, err
	}
	totals, _ := usage.Aggregate(exs)

	s.mu.RLock()
	open := len(s.turns)
	s.mu.RUnlock()

	return Snapshot{
		At:               time.Now(),
		Chats:            len(chats),
		Exchanges:        totals.Exchanges,
		OpenExchanges:    open,
		Tokens:           totals.Usage.TotalTokens(),
		EstimatedCostUSD: totals.TotalCost,
	}, nil
}

// fail maps a store error onto an HTTP status and records it.
func (s *Service) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrEmptyChatID), errors.Is(err, store.ErrEmptyModel):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrUnknownExchange):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	case errors.Is(err, store.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.mu.Lock()
		s.lastError = err.Error()
		s.mu.Unlock()
		s.logger.Error("request failed", "err", err)
	}
	http.Error(w, err.Error(), status)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		http.Error(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
