package store

import "context"

// Each statement runs on its own so a failed upgrade never leaves a table
// half-defined; IF NOT EXISTS makes a retry pick up where it stopped.
var initialUpgrade = []string{
	`CREATE TABLE IF NOT EXISTS chats (
    chat_id          TEXT PRIMARY KEY,
    initial_request  TEXT,
    project_root     TEXT,
    messages         TEXT NOT NULL DEFAULT '[]',
    cache_info       TEXT,
    updated_at       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`,
	`CREATE TABLE IF NOT EXISTS exchanges (
    exchange_id      INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id          TEXT NOT NULL REFERENCES chats(chat_id),
    model            TEXT NOT NULL,
    request          TEXT,
    cost             TEXT NOT NULL DEFAULT '{}',
    "start"          TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    "end"            TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`,
	`CREATE INDEX IF NOT EXISTS idx_chats_updated ON chats(updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_exchanges_chat ON exchanges(chat_id, exchange_id)`,
}

// exchanges depends on chats, so it goes first.
var initialDowngrade = []string{
	`DROP TABLE IF EXISTS exchanges`,
	`DROP TABLE IF EXISTS chats`,
}

// Revisions is the ordered migration history. New revisions are appended
// with Down set to the previous head.
var Revisions = []Revision{
	{
		ID:          "0001_initial",
		Down:        "",
		Description: "chats and exchanges",
		Upgrade:     execAll(initialUpgrade),
		Downgrade:   execAll(initialDowngrade),
	},
}

func execAll(stmts []string) func(context.Context, Execer) error {
	return func(ctx context.Context, db Execer) error {
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}
}
