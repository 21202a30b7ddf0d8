package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "shopwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// initializedKey marks a database that has been saved at least once, so an
// empty table can be told apart from a fresh database.
const initializedKey = "initialized"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migrate %s: %v", ErrCorrupt, path, err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Load(ctx context.Context) ([]string, bool, error) {
	if s.db == nil {
		return nil, false, ErrClosed
	}
	var marker string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, initializedKey).Scan(&marker)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.Save(ctx, nil); err != nil {
			return nil, false, err
		}
		return []string{}, false, nil
	}
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM subscribers ORDER BY position`)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, true, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return ids, true, nil
}

func (s *sqliteStore) Save(ctx context.Context, ids []string) error {
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscribers`); err != nil {
		return err
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `INSERT INTO subscribers(position, id) VALUES(?, ?)`, i, id); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES(?, '1') ON CONFLICT(key) DO NOTHING`, initializedKey); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
