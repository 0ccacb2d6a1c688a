// Package sqlitestore persists scs sessions in SQLite.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means a C compiler at build time and
// painful cross-compilation. modernc.org/sqlite is a pure Go translation of
// the SQLite C code, so the server stays a single static binary.
//
// The table is deliberately tiny:
//
//	sessions(token TEXT PRIMARY KEY, data BLOB, expiry INTEGER)
//
// expiry is unix nanoseconds. Expired rows are ignored by Find and swept
// by a background goroutine until Close.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alexedwards/scs/v2"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// Store implements scs.Store and scs.CtxStore.
type Store struct {
	conn        *sql.DB
	stopCleanup chan struct{}
	done        chan struct{}
}

var (
	_ scs.Store    = (*Store)(nil)
	_ scs.CtxStore = (*Store)(nil)
)

// New opens the database at dbPath (":memory:" works) and creates the
// sessions table. A positive cleanupInterval starts the expiry sweeper.
func New(dbPath string, cleanupInterval time.Duration) (*Store, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: opening database: %w", err)
	}

	// database/sql pools connections, and every connection to ":memory:" is
	// a separate empty database. One connection keeps them all the same.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitestore: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in flight.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitestore: setting WAL mode: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitestore: running migrations: %w", err)
	}

	if cleanupInterval > 0 {
		s.stopCleanup = make(chan struct{})
		s.done = make(chan struct{})
		go s.cleanup(cleanupInterval)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			token  TEXT PRIMARY KEY,
			data   BLOB NOT NULL,
			expiry INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expiry);
	`)
	if err != nil {
		return fmt.Errorf("creating sessions table: %w", err)
	}
	return nil
}

// Close stops the sweeper and closes the connection pool.
func (s *Store) Close() error {
	if s.stopCleanup != nil {
		close(s.stopCleanup)
		<-s.done
	}
	return s.conn.Close()
}

func (s *Store) Find(token string) ([]byte, bool, error) {
	return s.FindCtx(context.Background(), token)
}

func (s *Store) Commit(token string, b []byte, expiry time.Time) error {
	return s.CommitCtx(context.Background(), token, b, expiry)
}

func (s *Store) Delete(token string) error {
	return s.DeleteCtx(context.Background(), token)
}

// FindCtx returns the data of an unexpired session.
func (s *Store) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	var data []byte
	err := s.conn.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE token = ? AND expiry > ?`,
		token, time.Now().UnixNano(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlitestore: finding session: %w", err)
	}
	return data, true, nil
}

// CommitCtx inserts or replaces a session.
func (s *Store) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sessions (token, data, expiry) VALUES (?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET data = excluded.data, expiry = excluded.expiry`,
		token, b, expiry.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: committing session: %w", err)
	}
	return nil
}

func (s *Store) DeleteCtx(ctx context.Context, token string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("sqlitestore: deleting session: %w", err)
	}
	return nil
}

// DeleteExpired removes every expired session and reports how many.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM sessions WHERE expiry <= ?`, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: deleting expired sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) cleanup(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// A failed sweep is retried on the next tick.
			_, _ = s.DeleteExpired(context.Background())
		case <-s.stopCleanup:
			return
		}
	}
}
