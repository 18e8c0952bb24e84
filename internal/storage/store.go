// Package storage is the single embedded SQL store: connection policy,
// migrations, and the repository methods every other package uses to
// read and write project data. Grounded on the teacher's
// storage_manager.go (its initSchema/StoreX/transaction idioms),
// rehosted from Postgres onto an embedded SQLite file per the spec's
// single-store, no-server-component requirement.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"github.com/reflib/libraryd/internal/storage/migrations"
)

// Store wraps the embedded SQLite database. Multi-statement writers go
// through WithTx (BEGIN IMMEDIATE); several single-statement writes and
// all reads use the pool directly. The pool holds a single connection,
// so reads are not concurrent: they wait while a transaction holds it.
type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// Open opens (creating if absent) the store file at path, enables WAL
// mode and per-connection foreign-key enforcement, runs pending
// migrations, and performs zombie-job recovery before returning. This
// function MUST complete before any worker is allowed to accept jobs.
func Open(ctx context.Context, path string, log *zap.SugaredLogger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single connection: reads and writes take turns on it
	db.SetConnMaxLifetime(0)

	if err := pingWithRetry(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := verifyForeignKeys(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrations.Run(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	s := &Store{db: db, log: log}

	if err := s.recoverZombieJobs(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: zombie recovery: %w", err)
	}

	return s, nil
}

func pingWithRetry(ctx context.Context, db *sql.DB) error {
	deadline := time.Now().Add(5 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		if lastErr = db.PingContext(ctx); lastErr == nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("storage: ping: %w", lastErr)
}

func verifyForeignKeys(ctx context.Context, db *sql.DB) error {
	var enabled int
	if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled); err != nil {
		return fmt.Errorf("storage: checking foreign_keys pragma: %w", err)
	}
	if enabled != 1 {
		return fmt.Errorf("storage: foreign key enforcement is not active on this connection")
	}
	return nil
}

// recoverZombieJobs moves any job in state=running whose lease has
// expired to state=failed with reason "crash recovery". Runs once at
// startup, before workers are allowed to pick up jobs.
func (s *Store) recoverZombieJobs(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ml_job
		SET state = 'failed',
		    error = 'crash recovery',
		    finished_at = CURRENT_TIMESTAMP,
		    updated_at = CURRENT_TIMESTAMP
		WHERE state = 'running' AND lease_expires_at < CURRENT_TIMESTAMP
	`)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Infow("recovered zombie jobs at startup", "count", n)
	}
	return nil
}

// Close checkpoints the WAL (FULL) and closes the database. Call once,
// at application shutdown.
func (s *Store) Close(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(FULL)"); err != nil {
		s.log.Warnw("wal checkpoint failed at shutdown", "error", err)
	}
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for packages that need to compose
// custom queries outside the repository methods below (e.g. ad hoc
// diagnostics). Prefer the typed methods where one exists.
func (s *Store) DB() *sql.DB { return s.db }

// WithTx runs fn inside a BEGIN IMMEDIATE transaction, committing on
// success and rolling back on error or panic. Multi-statement write
// paths go through this so their writes commit or roll back together;
// several single-statement writes (status flags, crop repairs, zombie
// recovery) run directly on the pool in autocommit mode instead.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("storage: begin immediate: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// ClearDerivedCaches is the core-level contract exposed for the UI to
// call after bulk file changes invalidate thumbnails and other derived
// caches that live outside the core's scope. The core itself holds no
// thumbnail cache; this only marks every person group of the project
// stale. Similar stacks carry no stale flag and are left as they are.
func (s *Store) ClearDerivedCaches(ctx context.Context, projectID int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE person_groups SET stale = 1 WHERE project_id = ?`, projectID)
		return err
	})
}
