package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/theirongolddev/chatstate/internal/model"
)

// BeginExchange inserts an open exchange. The id comes from AUTOINCREMENT,
// so it is never reused even after rows are deleted.
func (s *SQLiteStore) BeginExchange(ctx context.Context, chatID, modelName, request string) (model.Exchange, error) {
	now := s.now()
	ex := model.Exchange{ChatID: chatID, Model: modelName, Request: request, Start: now, End: now}
	id, err := s.insertExchange(ctx, "begin exchange", ex)
	if err != nil {
		return model.Exchange{}, err
	}
	ex.ExchangeID = id
	return ex, nil
}

// RecordExchange inserts a completed exchange. A zero Start means now and a
// zero End means Start.
func (s *SQLiteStore) RecordExchange(ctx context.Context, ex model.Exchange) (int64, error) {
	if ex.Start.IsZero() {
		ex.Start = s.now()
	}
	if ex.End.IsZero() {
		ex.End = ex.Start
	}
	return s.insertExchange(ctx, "record exchange", ex)
}

func (s *SQLiteStore) insertExchange(ctx context.Context, op string, ex model.Exchange) (int64, error) {
	if ex.ChatID == "" {
		return 0, wrap(op, "", ErrEmptyChatID)
	}
	if ex.Model == "" {
		return 0, wrap(op, ex.ChatID, ErrEmptyModel)
	}
	if err := s.check(ctx); err != nil {
		return 0, wrap(op, ex.ChatID, err)
	}
	costJSON, err := json.Marshal(ex.Cost)
	if err != nil {
		return 0, wrap(op, ex.ChatID, fmt.Errorf("marshal cost: %w", err))
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO exchanges
		(chat_id, model, request, cost, "start", "end")
		VALUES (?, ?, ?, ?, ?, ?)`,
		ex.ChatID, ex.Model, nullString(ex.Request), string(costJSON),
		formatTime(ex.Start), formatTime(ex.End),
	)
	if err != nil {
		return 0, wrap(op, ex.ChatID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrap(op, ex.ChatID, err)
	}
	return id, nil
}

// FinishExchange sets the final cost and end time.
func (s *SQLiteStore) FinishExchange(ctx context.Context, exchangeID int64, cost model.Cost, end time.Time) error {
	const op = "finish exchange"
	if err := s.check(ctx); err != nil {
		return wrap(op, "", err)
	}
	if end.IsZero() {
		end = s.now()
	}
	costJSON, err := json.Marshal(cost)
	if err != nil {
		return wrap(op, "", fmt.Errorf("marshal cost: %w", err))
	}

	res, err := s.db.ExecContext(ctx, `UPDATE exchanges SET cost = ?, "end" = ? WHERE exchange_id = ?`,
		string(costJSON), formatTime(end), exchangeID)
	if err != nil {
		return wrap(op, "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, "", err)
	}
	if n == 0 {
		return wrap(op, "", fmt.Errorf("%w: %d", ErrUnknownExchange, exchangeID))
	}
	return nil
}

// ListExchanges returns exchanges in id order.
func (s *SQLiteStore) ListExchanges(ctx context.Context, chatID string) ([]model.Exchange, error) {
	const op = "list exchanges"
	if err := s.check(ctx); err != nil {
		return nil, wrap(op, chatID, err)
	}

	query := `SELECT exchange_id, chat_id, model, request, cost, "start", "end" FROM exchanges`
	var args []any
	if chatID != "" {
		query += " WHERE chat_id = ?"
		args = append(args, chatID)
	}
	query += " ORDER BY exchange_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, chatID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Exchange
	for rows.Next() {
		var (
			ex                     model.Exchange
			request                sql.NullString
			costJSON, start, endTs string
		)
		if err := rows.Scan(&ex.ExchangeID, &ex.ChatID, &ex.Model, &request, &costJSON, &start, &endTs); err != nil {
			return nil, wrap(op, chatID, err)
		}
		ex.Request = request.String
		ex.Start = parseTime(start)
		ex.End = parseTime(endTs)
		if err := json.Unmarshal([]byte(costJSON), &ex.Cost); err != nil {
			return nil, wrap(op, chatID, fmt.Errorf("unmarshal cost: %w", err))
		}
		out = append(out, ex)
	}
	return out, wrap(op, chatID, rows.Err())
}
