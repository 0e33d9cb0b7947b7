package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Execer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Revision is one step in the schema history. Down names the predecessor;
// the root revision has an empty Down.
type Revision struct {
	ID          string
	Down        string
	Description string
	Upgrade     func(ctx context.Context, db Execer) error
	Downgrade   func(ctx context.Context, db Execer) error
}

// Targets accepted by Upgrade and Downgrade besides revision ids.
const (
	Head = "head"
	Base = "base"
)

const revisionTableSQL = `CREATE TABLE IF NOT EXISTS schema_revision (revision TEXT NOT NULL)`

// Migrator applies a revision chain to a database.
type Migrator struct {
	db    *sql.DB
	chain []Revision
}

// NewMigrator validates revs as a single linear chain rooted at an empty Down.
func NewMigrator(db *sql.DB, revs []Revision) (*Migrator, error) {
	chain, err := orderChain(revs)
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, chain: chain}, nil
}

// orderChain walks revs from the root, rejecting forks, gaps and duplicates.
func orderChain(revs []Revision) ([]Revision, error) {
	byDown := make(map[string]Revision, len(revs))
	seen := make(map[string]bool, len(revs))
	for _, r := range revs {
		if r.ID == "" || r.ID == Head || r.ID == Base {
			return nil, fmt.Errorf("invalid revision id %q", r.ID)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate revision %q", r.ID)
		}
		seen[r.ID] = true
		if other, ok := byDown[r.Down]; ok {
			return nil, fmt.Errorf("revisions %q and %q both follow %q", other.ID, r.ID, r.Down)
		}
		byDown[r.Down] = r
	}

	chain := make([]Revision, 0, len(revs))
	prev := ""
	for {
		r, ok := byDown[prev]
		if !ok {
			break
		}
		chain = append(chain, r)
		prev = r.ID
	}
	if len(chain) != len(revs) {
		return nil, fmt.Errorf("revision history is not a single chain (%d of %d reachable from root)", len(chain), len(revs))
	}
	return chain, nil
}

// History returns the chain in application order.
func (m *Migrator) History() []Revision {
	out := make([]Revision, len(m.chain))
	copy(out, m.chain)
	return out
}

// HeadID returns the newest revision id, or "" for an empty chain.
func (m *Migrator) HeadID() string {
	if len(m.chain) == 0 {
		return ""
	}
	return m.chain[len(m.chain)-1].ID
}

// Current returns the applied revision id, or "" when none is applied.
func (m *Migrator) Current(ctx context.Context) (string, error) {
	if _, err := m.db.ExecContext(ctx, revisionTableSQL); err != nil {
		return "", fmt.Errorf("creating revision table: %w", err)
	}
	var rev string
	err := m.db.QueryRowContext(ctx, "SELECT revision FROM schema_revision LIMIT 1").Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading revision: %w", err)
	}
	return rev, nil
}

// index returns the chain position of id; "" maps to -1 (nothing applied).
func (m *Migrator) index(id string) (int, error) {
	if id == "" {
		return -1, nil
	}
	for i, r := range m.chain {
		if r.ID == id {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown revision %q", id)
}

func (m *Migrator) resolve(target string) (int, error) {
	switch target {
	case Head, "":
		return len(m.chain) - 1, nil
	case Base:
		return -1, nil
	}
	return m.index(target)
}

// Upgrade applies every revision after the current one up to target
// (Head for the newest). Running it again at the target is a no-op.
func (m *Migrator) Upgrade(ctx context.Context, target string) error {
	cur, err := m.Current(ctx)
	if err != nil {
		return err
	}
	from, err := m.index(cur)
	if err != nil {
		return err
	}
	to, err := m.resolve(target)
	if err != nil {
		return err
	}
	if to < from {
		return fmt.Errorf("target %q is behind current revision %q", target, cur)
	}
	for i := from + 1; i <= to; i++ {
		r := m.chain[i]
		if err := m.step(ctx, r.Upgrade, r.ID); err != nil {
			return fmt.Errorf("upgrade %s: %w", r.ID, err)
		}
	}
	return nil
}

// Downgrade reverts revisions newest first until target is the current
// revision (Base to revert everything).
func (m *Migrator) Downgrade(ctx context.Context, target string) error {
	cur, err := m.Current(ctx)
	if err != nil {
		return err
	}
	from, err := m.index(cur)
	if err != nil {
		return err
	}
	to, err := m.resolve(target)
	if err != nil {
		return err
	}
	if to > from {
		return fmt.Errorf("target %q is ahead of current revision %q", target, cur)
	}
	for i := from; i > to; i-- {
		r := m.chain[i]
		if err := m.step(ctx, r.Downgrade, r.Down); err != nil {
			return fmt.Errorf("downgrade %s: %w", r.ID, err)
		}
	}
	return nil
}

// step runs fn and records newRev in one transaction.
func (m *Migrator) step(ctx context.Context, fn func(context.Context, Execer) error, newRev string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_revision"); err != nil {
		return err
	}
	if newRev != "" {
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_revision (revision) VALUES (?)", newRev); err != nil {
			return err
		}
	}
	return tx.Commit()
}
