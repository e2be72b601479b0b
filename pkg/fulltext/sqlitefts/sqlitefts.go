// Package sqlitefts implements fulltext.Adapter on a SQLite FTS4 table.
//
// The docs table holds one row per indexed document with its fields as JSON;
// the ft virtual table holds the concatenated text under the same rowid. The
// database is derived state: a schema version mismatch drops and recreates
// both tables, and [Adapter.Recreated] reports it so the caller can rebuild.
package sqlitefts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/calvinalkan/txcore/pkg/core"
	"github.com/calvinalkan/txcore/pkg/fulltext"
)

// currentSchemaVersion is stored in SQLite's user_version pragma.
const currentSchemaVersion = 1

// FileName is the index database inside the data directory.
const FileName = "fulltext.sqlite"

// sqliteBusyTimeout is how long SQLite waits on a locked database, in ms.
const sqliteBusyTimeout = 10000

// Adapter is a SQLite FTS4 full-text adapter.
type Adapter struct {
	mu        sync.Mutex
	db        *sql.DB
	recreated bool
	closed    bool
}

// Open opens or creates the index database in dir.
func Open(ctx context.Context, dir string) (*Adapter, error) {
	if dir == "" {
		return nil, errors.New("open sqlitefts: directory is empty")
	}

	return OpenPath(ctx, filepath.Join(dir, FileName))
}

// OpenPath opens or creates the index database at path. ":memory:" gives a
// private in-memory index.
func OpenPath(ctx context.Context, path string) (*Adapter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlitefts: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	err = db.PingContext(ctx)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open sqlitefts: ping: %w", err), db.Close())
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA temp_store = MEMORY;
	`, sqliteBusyTimeout))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open sqlitefts: apply pragmas: %w", err), db.Close())
	}

	a := &Adapter{db: db}

	err = a.ensureSchema(ctx)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open sqlitefts: %w", err), db.Close())
	}

	return a, nil
}

func (a *Adapter) ensureSchema(ctx context.Context) error {
	var version int

	err := a.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	if version == currentSchemaVersion {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema txn: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	statements := []string{
		"DROP TABLE IF EXISTS ft",
		"DROP TABLE IF EXISTS docs",
		`CREATE TABLE docs (
			rid INTEGER PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			class TEXT NOT NULL,
			space TEXT NOT NULL,
			attached_to TEXT,
			modified_by TEXT,
			modified_on INTEGER NOT NULL,
			content TEXT NOT NULL
		)`,
		"CREATE INDEX idx_docs_class ON docs(class)",
		"CREATE VIRTUAL TABLE ft USING fts4(body, tokenize=unicode61)",
		fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion),
	}

	for i, stmt := range statements {
		_, err := tx.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}

	a.recreated = version != 0

	return nil
}

// Recreated reports whether Open dropped an index with an older schema.
func (a *Adapter) Recreated() bool { return a.recreated }

// Index implements fulltext.Adapter.
func (a *Adapter) Index(ctx context.Context, doc fulltext.Document) error {
	content, err := json.Marshal(doc.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}

	return a.withTx(ctx, func(tx *sql.Tx) error {
		var rid int64

		err := tx.QueryRowContext(ctx, "SELECT rid FROM docs WHERE id = ?", string(doc.ID)).Scan(&rid)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx, `
				INSERT INTO docs (id, class, space, attached_to, modified_by, modified_on, content)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				string(doc.ID), string(doc.Class), string(doc.Space), nullRef(doc.AttachedTo),
				nullRef(doc.ModifiedBy), doc.ModifiedOn, string(content))
			if err != nil {
				return fmt.Errorf("insert %s: %w", doc.ID, err)
			}

			rid, err = res.LastInsertId()
			if err != nil {
				return fmt.Errorf("insert %s: %w", doc.ID, err)
			}

			_, err = tx.ExecContext(ctx, "INSERT INTO ft (rowid, body) VALUES (?, ?)", rid, body(doc.Content))
			if err != nil {
				return fmt.Errorf("insert text %s: %w", doc.ID, err)
			}

			return nil
		case err != nil:
			return fmt.Errorf("lookup %s: %w", doc.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE docs SET class = ?, space = ?, attached_to = ?, modified_by = ?, modified_on = ?, content = ?
			WHERE rid = ?`,
			string(doc.Class), string(doc.Space), nullRef(doc.AttachedTo),
			nullRef(doc.ModifiedBy), doc.ModifiedOn, string(content), rid)
		if err != nil {
			return fmt.Errorf("replace %s: %w", doc.ID, err)
		}

		return setBody(ctx, tx, rid, doc.ID, doc.Content)
	})
}

// Update implements fulltext.Adapter.
func (a *Adapter) Update(ctx context.Context, id core.Ref, patch fulltext.Patch) error {
	return a.withTx(ctx, func(tx *sql.Tx) error {
		var (
			rid int64
			raw string
		)

		err := tx.QueryRowContext(ctx, "SELECT rid, content FROM docs WHERE id = ?", string(id)).Scan(&rid, &raw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", id, fulltext.ErrDocumentMissing)
		}

		if err != nil {
			return fmt.Errorf("lookup %s: %w", id, err)
		}

		content := make(map[string]string)

		err = json.Unmarshal([]byte(raw), &content)
		if err != nil {
			return fmt.Errorf("decode content %s: %w", id, err)
		}

		maps.Copy(content, patch.Content)

		encoded, err := json.Marshal(content)
		if err != nil {
			return fmt.Errorf("encode content: %w", err)
		}

		if patch.Space != "" {
			_, err = tx.ExecContext(ctx, "UPDATE docs SET space = ?, content = ? WHERE rid = ?",
				string(patch.Space), string(encoded), rid)
		} else {
			_, err = tx.ExecContext(ctx, "UPDATE docs SET content = ? WHERE rid = ?", string(encoded), rid)
		}

		if err != nil {
			return fmt.Errorf("update %s: %w", id, err)
		}

		return setBody(ctx, tx, rid, id, content)
	})
}

// Remove implements fulltext.Adapter.
func (a *Adapter) Remove(ctx context.Context, id core.Ref) error {
	return a.withTx(ctx, func(tx *sql.Tx) error {
		var rid int64

		err := tx.QueryRowContext(ctx, "SELECT rid FROM docs WHERE id = ?", string(id)).Scan(&rid)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("lookup %s: %w", id, err)
		}

		_, err = tx.ExecContext(ctx, "DELETE FROM ft WHERE rowid = ?", rid)
		if err != nil {
			return fmt.Errorf("delete text %s: %w", id, err)
		}

		_, err = tx.ExecContext(ctx, "DELETE FROM docs WHERE rid = ?", rid)
		if err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}

		return nil
	})
}

// Search implements fulltext.Adapter. Every term is matched as a word prefix.
func (a *Adapter) Search(ctx context.Context, classes []core.Ref, query string, limit int) ([]fulltext.Hit, error) {
	terms := fulltext.Terms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	match := make([]string, len(terms))
	for i, t := range terms {
		match[i] = t + "*"
	}

	var sb strings.Builder

	sb.WriteString(`SELECT d.id, d.class, COALESCE(d.attached_to, '')
		FROM ft JOIN docs d ON d.rid = ft.rowid
		WHERE ft.body MATCH ?`)

	args := []any{strings.Join(match, " ")}

	if len(classes) > 0 {
		sb.WriteString(" AND d.class IN (")
		sb.WriteString(strings.TrimSuffix(strings.Repeat("?,", len(classes)), ","))
		sb.WriteString(")")

		for _, c := range classes {
			args = append(args, string(c))
		}
	}

	sb.WriteString(" ORDER BY d.id")

	if limit > 0 {
		sb.WriteString(" LIMIT ?")

		args = append(args, limit)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, errors.New("sqlitefts: closed")
	}

	rows, err := a.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var hits []fulltext.Hit

	for rows.Next() {
		var id, class, attachedTo string

		err := rows.Scan(&id, &class, &attachedTo)
		if err != nil {
			return nil, fmt.Errorf("search: scan: %w", err)
		}

		hits = append(hits, fulltext.Hit{ID: core.Ref(id), Class: core.Ref(class), AttachedTo: core.Ref(attachedTo)})
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("search: rows: %w", err)
	}

	return hits, nil
}

// Count returns the number of indexed documents.
func (a *Adapter) Count(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var n int

	err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM docs").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	return n, nil
}

// Close implements fulltext.Adapter.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}

	a.closed = true

	err := a.db.Close()
	if err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}

	return nil
}

func (a *Adapter) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.New("sqlitefts: closed")
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	err = fn(tx)
	if err != nil {
		return errors.Join(err, tx.Rollback())
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func setBody(ctx context.Context, tx *sql.Tx, rid int64, id core.Ref, content map[string]string) error {
	_, err := tx.ExecContext(ctx, "UPDATE ft SET body = ? WHERE rowid = ?", body(content), rid)
	if err != nil {
		return fmt.Errorf("update text %s: %w", id, err)
	}

	return nil
}

// body joins field values in key order.
func body(content map[string]string) string {
	keys := slices.Sorted(maps.Keys(content))

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, content[k])
	}

	return strings.Join(parts, "\n")
}

func nullRef(r core.Ref) sql.NullString {
	return sql.NullString{String: string(r), Valid: r != ""}
}

var _ fulltext.Adapter = (*Adapter)(nil)
