// Package migrations embeds the forward-only SQL migration set and applies
// it with goose at store-open time.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

func init() {
	goose.SetBaseFS(sqlFiles)
	if err := goose.SetDialect("sqlite3"); err != nil {
		panic(fmt.Sprintf("migrations: set dialect: %v", err))
	}
}

// Run applies every pending migration under sql/ in order. It is idempotent:
// already-applied versions are skipped via goose's goose_db_version table.
func Run(ctx context.Context, db *sql.DB) error {
	if err := goose.UpContext(ctx, db, "sql"); err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

// Status reports the current applied version, used by the migrate CLI
// subcommand to print diagnostics without mutating state.
func Status(ctx context.Context, db *sql.DB) (int64, error) {
	v, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("migrations: version: %w", err)
	}
	return v, nil
}
