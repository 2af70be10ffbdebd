// Package db holds the pgx helpers shared by the run store and the PostGIS
// reference layers.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into table with the COPY protocol.
func CopyFrom(ctx context.Context, pool Pool, table pgx.Identifier, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := pool.CopyFrom(ctx, table, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table.Sanitize())
	}
	return n, nil
}

// ReplaceTable truncates table and copies rows into it in one transaction.
// Readers never observe an empty layer mid-import.
func ReplaceTable(ctx context.Context, pool Pool, table pgx.Identifier, columns []string, rows [][]any) (int64, error) {
	name := table.Sanitize()
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: begin replace %s", name)
	}

	if _, err := tx.Exec(ctx, `TRUNCATE `+name+` RESTART IDENTITY`); err != nil {
		_ = tx.Rollback(ctx)
		return 0, eris.Wrapf(err, "db: truncate %s", name)
	}

	var n int64
	if len(rows) > 0 {
		n, err = tx.CopyFrom(ctx, table, columns, pgx.CopyFromRows(rows))
		if err != nil {
			_ = tx.Rollback(ctx)
			return 0, eris.Wrapf(err, "db: COPY INTO %s", name)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: commit replace %s", name)
	}
	return n, nil
}
