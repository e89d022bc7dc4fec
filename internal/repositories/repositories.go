package repositories

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// nextSequence increments and returns the counter stored in the single-row table within tx.
func nextSequence(tx *sql.Tx, table string) (int64, error) {
	if _, err := tx.Exec(fmt.Sprintf("UPDATE %s SET value = value + 1 WHERE id = 1", table)); err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}

	var value int64
	if err := tx.QueryRow(fmt.Sprintf("SELECT value FROM %s WHERE id = 1", table)).Scan(&value); err != nil {
		return 0, fmt.Errorf("failed to get sequence value: %w", err)
	}
	return value, nil
}
