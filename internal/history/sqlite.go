package history

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/stupiduntilnot/zyro/internal/db"
	"github.com/stupiduntilnot/zyro/internal/prompt"
)

// SQLiteBackend stores windows as rows of the history table.
type SQLiteBackend struct {
	DB *sql.DB
}

// NewSQLiteBackend ensures the schema exists on database.
func NewSQLiteBackend(database *sql.DB) (*SQLiteBackend, error) {
	if err := db.InitSchema(database); err != nil {
		return nil, err
	}
	return &SQLiteBackend{DB: database}, nil
}

// Load returns every user's rows in insertion order.
func (b *SQLiteBackend) Load(ctx context.Context) (map[string][]prompt.Message, error) {
	rows, err := b.DB.QueryContext(ctx, "SELECT user_id, role, text FROM history ORDER BY id ASC")
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()

	out := make(map[string][]prompt.Message)
	for rows.Next() {
		var userID, role, text string
		if err := rows.Scan(&userID, &role, &text); err != nil {
			return nil, errors.Wrap(err, "scan history row")
		}
		out[userID] = append(out[userID], prompt.Message{Role: role, Content: text})
	}
	return out, errors.Wrap(rows.Err(), "iterate history rows")
}

// Write replaces the user's rows in one transaction.
func (b *SQLiteBackend) Write(ctx context.Context, userID string, window []prompt.Message) error {
	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin history tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM history WHERE user_id = ?", userID); err != nil {
		return errors.Wrap(err, "delete history rows")
	}
	for _, m := range window {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO history (user_id, role, text) VALUES (?, ?, ?)",
			userID, m.Role, m.Content,
		); err != nil {
			return errors.Wrap(err, "insert history row")
		}
	}
	return errors.Wrap(tx.Commit(), "commit history tx")
}

// Close closes the database.
func (b *SQLiteBackend) Close() error { return b.DB.Close() }

var _ Backend = (*SQLiteBackend)(nil)
