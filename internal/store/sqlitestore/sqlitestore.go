// Package sqlitestore implements store.Storage on top of SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"asset-sync/internal/resource"
	"asset-sync/internal/store"
)

// Storage keeps every namespace in one database.
type Storage struct {
	db *sql.DB
}

var _ store.Storage = (*Storage)(nil)

// Open opens (or creates) the database at dbPath. The special path
// ":memory:" gives a private in-memory database.
func Open(dbPath string) (*Storage, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if strings.HasPrefix(dbPath, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			dbPath = filepath.Join(home, dbPath[1:])
		}
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
		dsn = dbPath + "?_fk=1&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers, which SQLite does anyway.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS namespaces (
			name TEXT PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS entries (
			namespace TEXT NOT NULL,
			url TEXT NOT NULL,
			status INTEGER NOT NULL,
			header TEXT,
			body BLOB,
			PRIMARY KEY (namespace, url),
			FOREIGN KEY (namespace) REFERENCES namespaces(name) ON DELETE CASCADE
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Open(ctx context.Context, name string) (store.Namespace, error) {
	if err := store.CheckName(name); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO namespaces (name) VALUES (?)`, name); err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return &Namespace{db: s.db, name: name}, nil
}

func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE namespace = ?`, name); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM namespaces WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM namespaces WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Storage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM namespaces ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Namespace is a view on the rows of one namespace.
type Namespace struct {
	db   *sql.DB
	name string
}

var (
	_ store.Namespace = (*Namespace)(nil)
	_ store.Batcher   = (*Namespace)(nil)
)

func (n *Namespace) Name() string { return n.name }

func (n *Namespace) Match(ctx context.Context, key string) (*resource.Response, error) {
	var (
		status     int
		headerJSON sql.NullString
		body       []byte
	)
	err := n.db.QueryRowContext(ctx, `
		SELECT status, header, body FROM entries WHERE namespace = ? AND url = ?
	`, n.name, key).Scan(&status, &headerJSON, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	resp := &resource.Response{Status: status, Header: http.Header{}, Body: body}
	if headerJSON.Valid && headerJSON.String != "" {
		if err := json.Unmarshal([]byte(headerJSON.String), &resp.Header); err != nil {
			return nil, fmt.Errorf("decode header of %s: %w", key, err)
		}
		if resp.Header == nil {
			resp.Header = http.Header{}
		}
	}
	if resp.Body == nil {
		resp.Body = []byte{}
	}
	return resp, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Put writes the entry only while the namespace row exists, so writes
// through a handle to a deleted namespace are dropped.
func (n *Namespace) Put(ctx context.Context, key string, resp *resource.Response) error {
	return n.put(ctx, n.db, key, resp)
}

// PutAll writes every entry in one transaction.
func (n *Namespace) PutAll(ctx context.Context, entries []store.Entry) error {
	tx, err := n.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, e := range entries {
		if err := n.put(ctx, tx, e.Key, e.Response); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (n *Namespace) put(ctx context.Context, db execer, key string, resp *resource.Response) error {
	if resp == nil {
		return errors.New("sqlitestore: nil response")
	}
	headerJSON, err := json.Marshal(resp.Header)
	if err != nil {
		return err
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO entries (namespace, url, status, header, body)
		SELECT ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM namespaces WHERE name = ?)
	`, n.name, key, resp.Status, string(headerJSON), body, n.name)
	return err
}

func (n *Namespace) Delete(ctx context.Context, key string) (bool, error) {
	res, err := n.db.ExecContext(ctx, `DELETE FROM entries WHERE namespace = ? AND url = ?`, n.name, key)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (n *Namespace) Keys(ctx context.Context) ([]string, error) {
	rows, err := n.db.QueryContext(ctx, `SELECT url FROM entries WHERE namespace = ? ORDER BY url`, n.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		out = append(out, url)
	}
	return out, rows.Err()
}
