package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/maloquacious/libcashier/internal/store"
)

// The schema version lives in the database header (PRAGMA user_version)
// so the file holds no bookkeeping tables of its own. Zero means no schema.

type queryRower interface {
	store.Execer
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readUserVersion(ctx context.Context, q queryRower) (int, error) {
	var v int
	if err := q.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read user_version: %w", err)
	}
	return v, nil
}

// writeUserVersion sets the stored version. PRAGMA does not accept bound
// parameters, so v is formatted into the statement.
func writeUserVersion(ctx context.Context, db store.Execer, v int) error {
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, v)); err != nil {
		return fmt.Errorf("failed to write user_version: %w", err)
	}
	return nil
}
