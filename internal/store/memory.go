package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/theirongolddev/chatstate/internal/model"
)

// MemoryStore is the in-memory backend. State lives for the process lifetime.
// Values are copied in and out, so callers never share slices with the store.
type MemoryStore struct {
	logger *slog.Logger
	now    func() time.Time

	mu             sync.RWMutex
	closed         bool
	chats          map[string]*model.ChatSession
	exchanges      []model.Exchange
	exchangeIdx    map[int64]int
	lastExchangeID int64
}

var _ Backend = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory backend.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger.Info("conversation store opened", "backend", KindMemory)
	return &MemoryStore{
		logger:      logger,
		now:         time.Now,
		chats:       make(map[string]*model.ChatSession),
		exchangeIdx: make(map[int64]int),
	}
}

// Kind reports KindMemory.
func (m *MemoryStore) Kind() Kind { return KindMemory }

// Close drops all state. Later calls return ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	m.chats = nil
	m.exchanges = nil
	m.exchangeIdx = nil
	m.logger.Info("conversation store closed", "backend", KindMemory)
	return nil
}

// check must be called with mu held.
func (m *MemoryStore) check(ctx context.Context) error {
	if m.closed {
		return ErrClosed
	}
	return ctx.Err()
}

func copySession(s *model.ChatSession) model.ChatSession {
	out := *s
	out.Messages = model.CloneMessages(s.Messages)
	out.CacheInfo = s.CacheInfo.Clone()
	return out
}

// SaveConversationState overwrites the messages for chatID.
func (m *MemoryStore) SaveConversationState(ctx context.Context, chatID string, messages []model.Message, meta model.Metadata) error {
	const op = "save conversation"
	if chatID == "" {
		return wrap(op, chatID, ErrEmptyChatID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return wrap(op, chatID, err)
	}

	sess, ok := m.chats[chatID]
	if !ok {
		sess = &model.ChatSession{ChatID: chatID}
		m.chats[chatID] = sess
	}
	sess.Messages = model.CloneMessages(messages)
	if sess.Messages == nil {
		sess.Messages = []model.Message{}
	}
	if sess.InitialRequest == "" {
		sess.InitialRequest = meta.InitialRequest
	}
	if meta.ProjectRoot != "" {
		sess.ProjectRoot = meta.ProjectRoot
	}
	sess.UpdatedAt = m.now().UTC()
	return nil
}

// GetConversationState returns a copy of the stored session.
func (m *MemoryStore) GetConversationState(ctx context.Context, chatID string) (model.ChatSession, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return model.ChatSession{}, false, wrap("get conversation", chatID, err)
	}
	sess, ok := m.chats[chatID]
	if !ok {
		return model.ChatSession{}, false, nil
	}
	return copySession(sess), true, nil
}

// UpdateCacheInfo replaces cache metadata, creating an empty entry for an
// unknown chat.
func (m *MemoryStore) UpdateCacheInfo(ctx context.Context, chatID string, info model.CacheInfo) error {
	const op = "update cache info"
	if chatID == "" {
		return wrap(op, chatID, ErrEmptyChatID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return wrap(op, chatID, err)
	}

	sess, ok := m.chats[chatID]
	if !ok {
		sess = &model.ChatSession{ChatID: chatID, Messages: []model.Message{}}
		m.chats[chatID] = sess
	}
	sess.CacheInfo = info.Clone()
	sess.UpdatedAt = m.now().UTC()
	return nil
}

// ClearConversationState removes chatID if present.
func (m *MemoryStore) ClearConversationState(ctx context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return wrap("clear conversation", chatID, err)
	}
	delete(m.chats, chatID)
	return nil
}

// ListConversations returns chat summaries newest first.
func (m *MemoryStore) ListConversations(ctx context.Context, limit int) ([]model.ChatSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return nil, wrap("list conversations", "", err)
	}

	out := make([]model.ChatSummary, 0, len(m.chats))
	for _, s := range m.chats {
		out = append(out, model.ChatSummary{
			ChatID:       s.ChatID,
			ProjectRoot:  s.ProjectRoot,
			MessageCount: len(s.Messages),
			UpdatedAt:    s.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ChatID < out[j].ChatID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// BeginExchange opens an exchange starting now.
func (m *MemoryStore) BeginExchange(ctx context.Context, chatID, modelName, request string) (model.Exchange, error) {
	now := m.now().UTC()
	ex := model.Exchange{ChatID: chatID, Model: modelName, Request: request, Start: now, End: now}
	id, err := m.insertExchange(ctx, "begin exchange", ex)
	if err != nil {
		return model.Exchange{}, err
	}
	ex.ExchangeID = id
	return ex, nil
}

// RecordExchange inserts a completed exchange.
func (m *MemoryStore) RecordExchange(ctx context.Context, ex model.Exchange) (int64, error) {
	if ex.Start.IsZero() {
		ex.Start = m.now().UTC()
	}
	if ex.End.IsZero() {
		ex.End = ex.Start
	}
	return m.insertExchange(ctx, "record exchange", ex)
}

func (m *MemoryStore) insertExchange(ctx context.Context, op string, ex model.Exchange) (int64, error) {
	if ex.ChatID == "" {
		return 0, wrap(op, "", ErrEmptyChatID)
	}
	if ex.Model == "" {
		return 0, wrap(op, ex.ChatID, ErrEmptyModel)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return 0, wrap(op, ex.ChatID, err)
	}

	m.lastExchangeID++
	ex.ExchangeID = m.lastExchangeID
	m.exchangeIdx[ex.ExchangeID] = len(m.exchanges)
	m.exchanges = append(m.exchanges, ex)
	return ex.ExchangeID, nil
}

// FinishExchange sets the final cost and end time.
func (m *MemoryStore) FinishExchange(ctx context.Context, exchangeID int64, cost model.Cost, end time.Time) error {
	const op = "finish exchange"
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return wrap(op, "", err)
	}
	i, ok := m.exchangeIdx[exchangeID]
	if !ok {
		return wrap(op, "", fmt.Errorf("%w: %d", ErrUnknownExchange, exchangeID))
	}
	if end.IsZero() {
		end = m.now()
	}
	m.exchanges[i].Cost = cost
	m.exchanges[i].End = end.UTC()
	return nil
}

// ListExchanges returns exchanges in id order.
func (m *MemoryStore) ListExchanges(ctx context.Context, chatID string) ([]model.Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return nil, wrap("list exchanges", chatID, err)
	}
	var out []model.Exchange
	for _, ex := range m.exchanges {
		if chatID == "" || ex.ChatID == chatID {
			out = append(out, ex)
		}
	}
	return out, nil
}
