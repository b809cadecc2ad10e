package notedb

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/relogdev/relog/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Store is the durable backing for the note log. SQLite with WAL mode so
// concurrent rebuild workers can read while one writes.
type Store struct {
	db *sql.DB
}

// Open creates or opens the note log database at the given path.
// Idempotent: safe to call on an existing database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open note db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect note db: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY storms under the migration worker pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply note db schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RefSHA returns the head SHA of a ref, or "" when the ref does not exist.
func (s *Store) RefSHA(ctx context.Context, project, name string) (string, error) {
	var sha string
	err := s.db.QueryRowContext(ctx,
		`SELECT sha FROM refs WHERE project = ? AND name = ?`, project, name).Scan(&sha)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read ref %s: %w", name, err)
	}
	return sha, nil
}

// RefsByPrefix returns the names of every ref under a prefix, sorted.
func (s *Store) RefsByPrefix(ctx context.Context, project, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM refs WHERE project = ? AND name LIKE ? ORDER BY name`,
		project, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("list refs %s*: %w", prefix, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan ref name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// readCommit loads one commit by SHA. Returns nil when absent.
func (s *Store) readCommit(ctx context.Context, project, sha string) (*Commit, error) {
	c := &Commit{SHA: sha}
	var parent sql.NullString
	var author, realAuthor int64
	err := s.db.QueryRowContext(ctx, `
		SELECT parent, author, real_author, when_millis, message
		FROM commits WHERE project = ? AND sha = ?`, project, sha).
		Scan(&parent, &author, &realAuthor, &c.WhenMillis, &c.Message)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", sha, err)
	}
	c.Parent = parent.String
	c.Author = model.AccountID(author)
	c.RealAuthor = model.AccountID(realAuthor)
	return c, nil
}

// HasCommit reports whether a commit object exists in the project. Used to
// resolve uploaded patch set revisions; absence is not an error.
func (s *Store) HasCommit(ctx context.Context, project, sha string) (bool, error) {
	c, err := s.readCommit(ctx, project, sha)
	if err != nil {
		return false, err
	}
	return c != nil, nil
}

// PutCommit inserts a raw commit object. Idempotent on SHA. Intended for
// fixtures and for mirroring uploaded revisions into the note store.
func (s *Store) PutCommit(ctx context.Context, project string, c *Commit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commits (project, sha, parent, author, real_author, when_millis, message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project, sha) DO NOTHING`,
		project, c.SHA, nullable(c.Parent), int64(c.Author), int64(c.RealAuthor), c.WhenMillis, c.Message)
	if err != nil {
		return fmt.Errorf("put commit %s: %w", c.SHA, err)
	}
	return nil
}

// WalkRef visits the commits reachable from a ref, head first, following
// parent links. Visiting stops when fn returns an error or the chain ends.
// A missing ref visits nothing.
func (s *Store) WalkRef(ctx context.Context, project, name string, fn func(*Commit) error) error {
	sha, err := s.RefSHA(ctx, project, name)
	if err != nil {
		return err
	}
	for sha != "" {
		c, err := s.readCommit(ctx, project, sha)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("ref %s: dangling commit %s", name, sha)
		}
		if err := fn(c); err != nil {
			return err
		}
		sha = c.Parent
	}
	return nil
}

// stagedRef is one ref's worth of staged writes: the commits to append and
// the resulting head, or a deletion.
type stagedRef struct {
	name    string
	head    string // new head SHA; "" means delete the ref
	commits []*Commit
	delete  bool
}

// apply writes a set of staged refs in one transaction. Commit inserts are
// idempotent, so replaying a write that another rebuild already performed is
// harmless (the CAS protocol normally skips such replays entirely).
func (s *Store) apply(ctx context.Context, project string, refs []*stagedRef) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply note updates: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, r := range refs {
		if r.delete {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM refs WHERE project = ? AND name = ?`, project, r.name); err != nil {
				return fmt.Errorf("apply note updates: delete ref %s: %w", r.name, err)
			}
			continue
		}
		for _, c := range r.commits {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO commits (project, sha, parent, author, real_author, when_millis, message)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(project, sha) DO NOTHING`,
				project, c.SHA, nullable(c.Parent), int64(c.Author), int64(c.RealAuthor), c.WhenMillis, c.Message); err != nil {
				return fmt.Errorf("apply note updates: write commit %s: %w", c.SHA, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO refs (project, name, sha) VALUES (?, ?, ?)
			ON CONFLICT(project, name) DO UPDATE SET sha = excluded.sha`,
			project, r.name, r.head); err != nil {
			return fmt.Errorf("apply note updates: update ref %s: %w", r.name, err)
		}
	}
	return tx.Commit()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
