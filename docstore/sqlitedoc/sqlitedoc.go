// Package sqlitedoc is an embedded docstore.Store backed by SQLite.
//
// Every document is one JSON row keyed by its full path. All access goes
// through a single connection and writes use immediate transactions, so the
// set mutations are atomic with respect to every other writer.
package sqlitedoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"wordcraft/docstore"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Store struct {
	db     *sql.DB
	dbPath string
}

type txKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open creates or opens the database file at dbPath.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		path   TEXT PRIMARY KEY,
		parent TEXT NOT NULL,
		kind   TEXT NOT NULL,
		body   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_parent ON documents(parent, path);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

func (s *Store) Close(context.Context) error { return s.db.Close() }

func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Get(ctx context.Context, path docstore.Path, out any) error {
	body, err := s.load(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, path docstore.Path) ([]byte, error) {
	if !path.IsDocument() {
		return nil, fmt.Errorf("docstore: %s is not a document path", path)
	}
	var body string
	err := s.q(ctx).QueryRowContext(ctx, `SELECT body FROM documents WHERE path = ?`, path.String()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", path, docstore.ErrNotFound)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("get %s: %w", path, err))
	}
	return []byte(body), nil
}

func (s *Store) Set(ctx context.Context, path docstore.Path, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return s.write(ctx, path, body)
}

func (s *Store) write(ctx context.Context, path docstore.Path, body []byte) error {
	if !path.IsDocument() {
		return fmt.Errorf("docstore: %s is not a document path", path)
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO documents (path, parent, kind, body) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET body = excluded.body`,
		path.String(), path.Parent().String(), path.Kind(), string(body))
	if err != nil {
		return classify(fmt.Errorf("set %s: %w", path, err))
	}
	return nil
}

func (s *Store) Update(ctx context.Context, path docstore.Path, fields map[string]any) error {
	return s.RunTransaction(ctx, func(ctx context.Context) error {
		doc, err := s.loadMap(ctx, path)
		if err != nil {
			return err
		}
		for k, v := range fields {
			doc[k] = v
		}
		return s.storeMap(ctx, path, doc)
	})
}

func (s *Store) Delete(ctx context.Context, path docstore.Path) error {
	if _, err := s.q(ctx).ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path.String()); err != nil {
		return classify(fmt.Errorf("delete %s: %w", path, err))
	}
	return nil
}

func (s *Store) AddToSet(ctx context.Context, path docstore.Path, field, value string) error {
	return s.mutateSet(ctx, path, field, value, true)
}

func (s *Store) RemoveFromSet(ctx context.Context, path docstore.Path, field, value string) error {
	return s.mutateSet(ctx, path, field, value, false)
}

func (s *Store) mutateSet(ctx context.Context, path docstore.Path, field, value string, add bool) error {
	return s.RunTransaction(ctx, func(ctx context.Context) error {
		doc, err := s.loadMap(ctx, path)
		if err != nil {
			return err
		}
		current := stringSet(doc[field])
		next := make([]string, 0, len(current)+1)
		present := false
		for _, v := range current {
			if v == value {
				present = true
				if !add {
					continue
				}
			}
			next = append(next, v)
		}
		if add && !present {
			next = append(next, value)
		}
		doc[field] = next
		return s.storeMap(ctx, path, doc)
	})
}

func (s *Store) List(ctx context.Context, collection docstore.Path, limit int) ([]docstore.Doc, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT path, body FROM documents WHERE parent = ? ORDER BY path LIMIT ?`,
		collection.String(), limit)
	if err != nil {
		return nil, classify(fmt.Errorf("list %s: %w", collection, err))
	}
	defer rows.Close()

	var docs []docstore.Doc
	for rows.Next() {
		var rawPath, body string
		if err := rows.Scan(&rawPath, &body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		p, err := docstore.ParsePath(rawPath)
		if err != nil {
			return nil, err
		}
		data := []byte(body)
		docs = append(docs, docstore.NewDoc(p, func(out any) error {
			return json.Unmarshal(data, out)
		}))
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("list %s: %w", collection, err))
	}
	return docs, nil
}

// RunTransaction runs fn in one SQL transaction. Nested calls join the outer one.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin: %w", err))
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) loadMap(ctx context.Context, path docstore.Path) (map[string]any, error) {
	body, err := s.load(ctx, path)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

func (s *Store) storeMap(ctx context.Context, path docstore.Path, doc map[string]any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return s.write(ctx, path, body)
}

func stringSet(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, x := range vals {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// classify marks lock contention as transient.
func classify(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", docstore.ErrTransient, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", docstore.ErrTransient, err)
	}
	return err
}

var _ docstore.Store = (*Store)(nil)
