package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/theirongolddev/chatstate/internal/model"

	_ "modernc.org/sqlite" // register sqlite driver
)

const memoryPath = ":memory:"

// timeLayout keeps stored timestamps fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore is the durable backend.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
	closed atomic.Bool
}

var _ Backend = (*SQLiteStore)(nil)

// OpenDB opens the database at path with the store's connection settings
// and no schema changes applied.
func OpenDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("store: database path is required")
	}

	dsn := path
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(off)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == memoryPath {
		// Every :memory: connection is its own database.
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// OpenSQLite opens or creates the database at path and upgrades it to the
// newest schema revision.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	m, err := NewMigrator(db, Revisions)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := m.Upgrade(ctx, Head); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	logger.Info("conversation store opened", "backend", KindDurable, "path", path, "revision", m.HeadID())
	return &SQLiteStore{
		db:     db,
		path:   path,
		logger: logger,
		now:    time.Now,
	}, nil
}

// DB exposes the underlying handle.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Path returns the database location.
func (s *SQLiteStore) Path() string { return s.path }

// Kind reports KindDurable.
func (s *SQLiteStore) Kind() Kind { return KindDurable }

// Close closes the database. Later calls return ErrClosed.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return ErrClosed
	}
	s.logger.Info("conversation store closed", "backend", KindDurable, "path", s.path)
	return s.db.Close()
}

func (s *SQLiteStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// SaveConversationState inserts or updates the chat row. initial_request is
// only written while it is still unset; project_root only when provided.
func (s *SQLiteStore) SaveConversationState(ctx context.Context, chatID string, messages []model.Message, meta model.Metadata) error {
	const op = "save conversation"
	if chatID == "" {
		return wrap(op, chatID, ErrEmptyChatID)
	}
	if err := s.check(ctx); err != nil {
		return wrap(op, chatID, err)
	}
	if messages == nil {
		messages = []model.Message{}
	}
	msgJSON, err := json.Marshal(messages)
	if err != nil {
		return wrap(op, chatID, fmt.Errorf("marshal messages: %w", err))
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO chats
		(chat_id, initial_request, project_root, messages, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			messages = excluded.messages,
			initial_request = COALESCE(chats.initial_request, excluded.initial_request),
			project_root = COALESCE(excluded.project_root, chats.project_root),
			updated_at = excluded.updated_at`,
		chatID, nullString(meta.InitialRequest), nullString(meta.ProjectRoot),
		string(msgJSON), formatTime(s.now()),
	)
	return wrap(op, chatID, err)
}

// GetConversationState reads the chat row. A missing row is reported as
// found == false with a nil error.
func (s *SQLiteStore) GetConversationState(ctx context.Context, chatID string) (model.ChatSession, bool, error) {
	const op = "get conversation"
	if err := s.check(ctx); err != nil {
		return model.ChatSession{}, false, wrap(op, chatID, err)
	}

	var (
		sess                     model.ChatSession
		initial, root, cacheJSON sql.NullString
		msgJSON, updatedAt       string
	)
	err := s.db.QueryRowContext(ctx, `SELECT chat_id, initial_request, project_root, messages, cache_info, updated_at
		FROM chats WHERE chat_id = ?`, chatID).
		Scan(&sess.ChatID, &initial, &root, &msgJSON, &cacheJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ChatSession{}, false, nil
	}
	if err != nil {
		return model.ChatSession{}, false, wrap(op, chatID, err)
	}

	sess.InitialRequest = initial.String
	sess.ProjectRoot = root.String
	sess.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(msgJSON), &sess.Messages); err != nil {
		return model.ChatSession{}, false, wrap(op, chatID, fmt.Errorf("unmarshal messages: %w", err))
	}
	if cacheJSON.Valid && cacheJSON.String != "" {
		var info model.CacheInfo
		if err := json.Unmarshal([]byte(cacheJSON.String), &info); err != nil {
			return model.ChatSession{}, false, wrap(op, chatID, fmt.Errorf("unmarshal cache info: %w", err))
		}
		sess.CacheInfo = &info
	}
	return sess, true, nil
}

// UpdateCacheInfo writes only cache_info and updated_at. A chat that has no
// row yet gets one with an empty message list, since cache metadata can
// arrive before the first save.
func (s *SQLiteStore) UpdateCacheInfo(ctx context.Context, chatID string, info model.CacheInfo) error {
	const op = "update cache info"
	if chatID == "" {
		return wrap(op, chatID, ErrEmptyChatID)
	}
	if err := s.check(ctx); err != nil {
		return wrap(op, chatID, err)
	}
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return wrap(op, chatID, fmt.Errorf("marshal cache info: %w", err))
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO chats (chat_id, messages, cache_info, updated_at)
		VALUES (?, '[]', ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			cache_info = excluded.cache_info,
			updated_at = excluded.updated_at`,
		chatID, string(infoJSON), formatTime(s.now()),
	)
	return wrap(op, chatID, err)
}

// ClearConversationState deletes the chat row. Exchanges stay for cost history.
func (s *SQLiteStore) ClearConversationState(ctx context.Context, chatID string) error {
	const op = "clear conversation"
	if err := s.check(ctx); err != nil {
		return wrap(op, chatID, err)
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE chat_id = ?", chatID)
	return wrap(op, chatID, err)
}

// ListConversations returns chat summaries newest first.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]model.ChatSummary, error) {
	const op = "list conversations"
	if err := s.check(ctx); err != nil {
		return nil, wrap(op, "", err)
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `SELECT chat_id, project_root, json_array_length(messages), updated_at
		FROM chats ORDER BY updated_at DESC, chat_id LIMIT ?`, limit)
	if err != nil {
		return nil, wrap(op, "", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ChatSummary
	for rows.Next() {
		var (
			cs        model.ChatSummary
			root      sql.NullString
			updatedAt string
		)
		if err := rows.Scan(&cs.ChatID, &root, &cs.MessageCount, &updatedAt); err != nil {
			return nil, wrap(op, "", err)
		}
		cs.ProjectRoot = root.String
		cs.UpdatedAt = parseTime(updatedAt)
		out = append(out, cs)
	}
	return out, wrap(op, "", rows.Err())
}
