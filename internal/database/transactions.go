package database

import (
	"context"
	"fmt"

	"github.com/dhxmo/CultureQ/internal/models"
)

// ApplyTransactionSync upserts added and modified transactions by id and deletes
// removed ids, all within one transaction.
func (db *DB) ApplyTransactionSync(ctx context.Context, upserts []models.Transaction, removed []string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO transactions (
		id, user_id, merchant_name, display_name, category, amount, date, qloo_entity_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		merchant_name = excluded.merchant_name,
		display_name = excluded.display_name,
		category = excluded.category,
		amount = excluded.amount,
		date = excluded.date`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, t := range upserts {
		_, err := stmt.ExecContext(ctx,
			t.ID, t.UserID, t.MerchantName, t.DisplayName, t.Category, t.Amount.String(), t.Date, t.QlooEntityID)
		if err != nil {
			return fmt.Errorf("failed to upsert transaction %s: %w", t.ID, err)
		}
	}

	for _, id := range removed {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete transaction %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListTransactions returns a user's transactions, newest first. limit <= 0 means no limit.
func (db *DB) ListTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	query := `SELECT id, user_id, merchant_name, display_name, category, amount, date, qloo_entity_id
		FROM transactions WHERE user_id = ? ORDER BY date DESC, id`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var result []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.MerchantName, &t.DisplayName, &t.Category, &t.Amount, &t.Date, &t.QlooEntityID); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		result = append(result, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return result, nil
}

// ListUserMerchantNames returns the distinct normalized merchant names seen in a
// user's transactions, in first-seen order by date descending.
func (db *DB) ListUserMerchantNames(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT merchant_name FROM transactions
		WHERE user_id = ? AND merchant_name != ''
		GROUP BY merchant_name ORDER BY MAX(date) DESC, merchant_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query merchant names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan merchant name: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating merchant names: %w", err)
	}
	return names, nil
}
