// Package store is the embedded relational persistence substrate: a single
// modernc.org/sqlite connection guarded by one mutex, with every blocking
// operation posted to a small worker pool so a request goroutine never
// holds the lock across a channel wait. Callers get a Config, a
// constructor that validates and opens, a Migrate() step, and a DB handle
// for code that needs direct access.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Config points the store at its on-disk file.
type Config struct {
	// Path is the full path to the sqlite database file, e.g.
	// {data_dir}/united.db.
	Path string
}

// Store wraps *sql.DB with the single mutual-exclusion primitive and
// worker pool. All store operations funnel through Do so the per-channel
// sequencing rule is enforced purely by serialization, with no extra
// coordination primitives needed at the call site.
type Store struct {
	db *sql.DB
	mu sync.Mutex

	jobs chan func()
	wg   sync.WaitGroup
	stop chan struct{}
}

const workerPoolSize = 8

// Open opens (creating if needed) the sqlite file, enables WAL mode and
// foreign keys, and starts the worker pool.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: path must not be empty")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: creating data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", cfg.Path, err)
	}
	// sqlite has a single writer; the store's own mutex already serializes
	// every write, so one physical connection is both sufficient and
	// required to avoid SQLITE_BUSY across goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enabling WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enabling foreign keys: %w", err)
	}

	s := &Store{
		db:   db,
		jobs: make(chan func(), 256),
		stop: make(chan struct{}),
	}
	for i := 0; i < workerPoolSize; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s, nil
}

func (s *Store) worker() {
	defer s.wg.Done()
	for {
		select {
		case job, ok := <-s.jobs:
			if !ok {
				return
			}
			job()
		case <-s.stop:
			return
		}
	}
}

// Do posts fn to the worker pool, holding the store's single lock for its
// duration, and blocks the caller until it completes. fn receives the raw
// *sql.DB; all SQL text lives in the calling package (identity, channels,
// gossip, ...), keeping this package free of domain schema knowledge
// beyond migrations.
func (s *Store) Do(ctx context.Context, fn func(db *sql.DB) error) error {
	type result struct{ err error }
	done := make(chan result, 1)

	select {
	case s.jobs <- func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		done <- result{fn(s.db)}
	}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case r := <-done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DB returns the raw connection for call sites that already run inside a
// Do() closure (e.g. a migration step) and need direct access without
// re-entering the worker pool.
func (s *Store) DB() *sql.DB { return s.db }

// Close stops the worker pool and closes the connection.
func (s *Store) Close() error {
	close(s.stop)
	s.wg.Wait()
	return s.db.Close()
}
