// Package store persists conversation state and exchange records behind one
// interface, backed either by process memory or by a SQLite database.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/theirongolddev/chatstate/internal/model"
)

// Kind names a backend implementation.
type Kind string

const (
	KindMemory  Kind = "memory"
	KindDurable Kind = "durable"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store closed")
	// ErrEmptyChatID rejects operations without a chat identifier.
	ErrEmptyChatID = errors.New("empty chat id")
	// ErrEmptyModel rejects exchanges without a model identifier.
	ErrEmptyModel = errors.New("empty model")
	// ErrUnknownExchange is returned when finishing an exchange id the store never issued.
	ErrUnknownExchange = errors.New("unknown exchange")
)

// Error is a storage failure. An unknown chat id is never an Error; reads
// report it as an absent result instead.
type Error struct {
	Op     string
	ChatID string
	Err    error
}

func (e *Error) Error() string {
	if e.ChatID != "" {
		return fmt.Sprintf("store: %s %q: %v", e.Op, e.ChatID, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op, chatID string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, ChatID: chatID, Err: err}
}

// ConversationStore holds chat history and cache metadata keyed by chat id.
type ConversationStore interface {
	// SaveConversationState upserts the full message sequence for chatID.
	// Stored cache info is left untouched.
	SaveConversationState(ctx context.Context, chatID string, messages []model.Message, meta model.Metadata) error
	// GetConversationState returns the stored session. found is false, with a
	// nil error, when chatID has no state.
	GetConversationState(ctx context.Context, chatID string) (sess model.ChatSession, found bool, err error)
	// UpdateCacheInfo replaces the cache metadata for chatID without touching
	// messages. Unknown chats get a new entry with no messages.
	UpdateCacheInfo(ctx context.Context, chatID string, info model.CacheInfo) error
	// ClearConversationState removes chatID. Clearing an unknown chat is a no-op.
	// Exchange records for the chat are retained.
	ClearConversationState(ctx context.Context, chatID string) error
	// ListConversations returns chats ordered by most recent update.
	// A limit of zero or less returns all of them.
	ListConversations(ctx context.Context, limit int) ([]model.ChatSummary, error)
}

// ExchangeStore records one row per agent turn for cost accounting.
type ExchangeStore interface {
	// BeginExchange opens an exchange starting now; End defaults to Start.
	BeginExchange(ctx context.Context, chatID, modelName, request string) (model.Exchange, error)
	// FinishExchange finalizes cost and end time of an open exchange.
	FinishExchange(ctx context.Context, exchangeID int64, cost model.Cost, end time.Time) error
	// RecordExchange inserts a completed exchange and returns its assigned id.
	RecordExchange(ctx context.Context, ex model.Exchange) (int64, error)
	// ListExchanges returns exchanges for chatID in id order; an empty
	// chatID lists every exchange.
	ListExchanges(ctx context.Context, chatID string) ([]model.Exchange, error)
}

// Backend is the full surface shared by both implementations.
type Backend interface {
	ConversationStore
	ExchangeStore
	Kind() Kind
	Close() error
}
