// Package sqlitelog implements storage.Log as an append-only SQLite table.
//
// Each transaction is one row keyed by an autoincrement sequence; replay
// reads rows in sequence order. The payload column holds the JSON encoding
// of a core.TxRecord, with the tx id, class and object id in their own
// columns for ad-hoc inspection.
package sqlitelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/calvinalkan/txcore/pkg/core"
	"github.com/calvinalkan/txcore/pkg/storage"
)

// schemaVersion is stored in SQLite's user_version pragma.
const schemaVersion = 1

// FileName is the database file inside the data directory.
const FileName = "txlog.sqlite"

// sqliteBusyTimeoutMs is how long SQLite waits on a locked database.
const sqliteBusyTimeoutMs = 10000

// Log is a SQLite backed transaction log.
type Log struct {
	mu     sync.Mutex
	db     *sql.DB
	insert *sql.Stmt
	closed bool
}

// Open opens or creates the log database in dir.
func Open(ctx context.Context, dir string) (*Log, error) {
	if ctx == nil {
		return nil, errors.New("open sqlitelog: context is nil")
	}

	if dir == "" {
		return nil, errors.New("open sqlitelog: directory is empty")
	}

	db, err := openSQLite(ctx, filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("open sqlitelog: %w", err)
	}

	err = ensureSchema(ctx, db)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open sqlitelog: %w", err), db.Close())
	}

	insert, err := db.PrepareContext(ctx, `
		INSERT INTO txes (tx_id, tx_class, object_id, modified_on, payload)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open sqlitelog: prepare insert: %w", err), db.Close())
	}

	return &Log{db: db, insert: insert}, nil
}

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	// Per-connection pragmas must apply to every statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	err = db.PingContext(ctx)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("sqlite: ping: %w", err), db.Close())
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = FULL;
		PRAGMA cache_size = -20000;
		PRAGMA temp_store = MEMORY;
	`, sqliteBusyTimeoutMs))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("sqlite: apply pragmas: %w", err), db.Close())
	}

	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	var version int

	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	switch version {
	case schemaVersion:
		return nil
	case 0:
	default:
		return fmt.Errorf("%w: unsupported schema version %d", storage.ErrCorrupt, version)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema txn: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS txes (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			tx_id TEXT NOT NULL UNIQUE,
			tx_class TEXT NOT NULL,
			object_id TEXT,
			modified_on INTEGER NOT NULL,
			payload BLOB NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_txes_object ON txes(object_id)",
		fmt.Sprintf("PRAGMA user_version = %d", schemaVersion),
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

	return nil
}

// Append implements storage.Log.
func (l *Log) Append(ctx context.Context, tx core.Tx) error {
	payload, err := core.MarshalTx(tx)
	if err != nil {
		return fmt.Errorf("encode tx: %w", err)
	}

	h := tx.Header()

	var objectID sql.NullString
	if cud := core.CUDOf(tx); cud != nil {
		objectID = sql.NullString{String: string(cud.ObjectID), Valid: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return storage.ErrClosed
	}

	_, err = l.insert.ExecContext(ctx, string(h.ID), string(h.Class), objectID, h.ModifiedOn, payload)
	if err != nil {
		return fmt.Errorf("append %s: %w", h.ID, err)
	}

	return nil
}

// Replay implements storage.Log.
func (l *Log) Replay(ctx context.Context, fn func(core.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return storage.ErrClosed
	}

	rows, err := l.db.QueryContext(ctx, "SELECT seq, payload FROM txes ORDER BY seq")
	if err != nil {
		return fmt.Errorf("replay: query: %w", err)
	}

	defer func() { _ = rows.Close() }()

	// Decode everything first so fn never runs while the only connection
	// is busy with the cursor.
	var txes []core.Tx

	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)

		err := rows.Scan(&seq, &payload)
		if err != nil {
			return fmt.Errorf("replay: scan: %w", err)
		}

		tx, err := core.UnmarshalTx(payload)
		if err != nil {
			return fmt.Errorf("replay: seq %d: %w", seq, err)
		}

		txes = append(txes, tx)
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("replay: rows: %w", err)
	}

	_ = rows.Close()

	for _, tx := range txes {
		err := fn(tx)
		if err != nil {
			return err
		}
	}

	return nil
}

// Count returns the number of records.
func (l *Log) Count(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, storage.ErrClosed
	}

	var n int

	err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM txes").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	return n, nil
}

// Close implements storage.Log.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true

	stmtErr := l.insert.Close()

	err := l.db.Close()
	if err != nil {
		err = fmt.Errorf("close sqlite: %w", err)
	}

	return errors.Join(stmtErr, err)
}

var _ storage.Log = (*Log)(nil)
