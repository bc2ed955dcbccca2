package projection

import (
	"context"
	"database/sql"
	"fmt"
)

// loadCheckpoint returns the last processed global position for name,
// inserting a zero row on first sight.
func loadCheckpoint(ctx context.Context, db *sql.DB, name string) (int64, error) {
	var position int64
	err := db.QueryRowContext(ctx,
		`INSERT INTO projector_checkpoints (name, position) VALUES ($1, 0)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING position`, name).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("projection: load checkpoint %s: %w", name, err)
	}
	return position, nil
}

// advanceCheckpoint stores the new position in the same transaction as the
// projector's row changes, so a crash between the two never happens.
func advanceCheckpoint(ctx context.Context, tx *sql.Tx, name string, position int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE projector_checkpoints SET position = $2 WHERE name = $1`, name, position)
	if err != nil {
		return fmt.Errorf("projection: advance checkpoint %s: %w", name, err)
	}
	return nil
}
