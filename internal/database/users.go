package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dhxmo/CultureQ/internal/apperrors"
	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/google/uuid"
)

const userColumns = `id, plaid_item_id, email_enc, access_token_enc, age, city,
	excluded_merchants, taste_profile, last_transaction_sync, created_at, updated_at`

// UpsertUserByItemID creates the user for a bank item, or replaces the stored
// credentials when the item is already linked. It reports whether a new user was created.
func (db *DB) UpsertUserByItemID(ctx context.Context, itemID, encEmail, encToken string, now time.Time) (models.User, bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.User{}, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE plaid_item_id = ?`, itemID).Scan(&existingID)
	created := false

	switch {
	case errors.Is(err, sql.ErrNoRows):
		existingID = uuid.New().String()
		created = true
		_, err = tx.ExecContext(ctx, `INSERT INTO users (
			id, plaid_item_id, email_enc, access_token_enc, excluded_merchants, created_at, updated_at
		) VALUES (?, ?, ?, ?, '[]', ?, ?)`,
			existingID, itemID, encEmail, encToken, formatTime(now), formatTime(now))
		if err != nil {
			return models.User{}, false, fmt.Errorf("failed to insert user: %w", err)
		}
	case err != nil:
		return models.User{}, false, fmt.Errorf("failed to look up user: %w", err)
	default:
		_, err = tx.ExecContext(ctx, `UPDATE users SET email_enc = ?, access_token_enc = ?, updated_at = ? WHERE id = ?`,
			encEmail, encToken, formatTime(now), existingID)
		if err != nil {
			return models.User{}, false, fmt.Errorf("failed to update user credentials: %w", err)
		}
	}

	user, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, existingID))
	if err != nil {
		return models.User{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return models.User{}, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return user, created, nil
}

// GetUser returns the user with the given id.
func (db *DB) GetUser(ctx context.Context, id string) (models.User, error) {
	return scanUser(db.conn.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// UpdateUserProfile sets the demographic fields and excluded merchants.
func (db *DB) UpdateUserProfile(ctx context.Context, id string, age *int, city *string, excluded []string, now time.Time) error {
	excludedJSON, err := encodeJSON(excluded)
	if err != nil {
		return fmt.Errorf("failed to encode excluded merchants: %w", err)
	}

	var ageVal sql.NullInt64
	if age != nil {
		ageVal = sql.NullInt64{Int64: int64(*age), Valid: true}
	}
	var cityVal sql.NullString
	if city != nil {
		cityVal = sql.NullString{String: *city, Valid: true}
	}

	res, err := db.conn.ExecContext(ctx, `UPDATE users SET age = ?, city = ?, excluded_merchants = ?, updated_at = ? WHERE id = ?`,
		ageVal, cityVal, excludedJSON, formatTime(now), id)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	return requireRow(res, "user", id)
}

// UpdateTasteProfile replaces the stored taste profile document.
func (db *DB) UpdateTasteProfile(ctx context.Context, id string, profile models.TasteProfile, now time.Time) error {
	data, err := encodeJSON(profile)
	if err != nil {
		return fmt.Errorf("failed to encode taste profile: %w", err)
	}

	res, err := db.conn.ExecContext(ctx, `UPDATE users SET taste_profile = ?, updated_at = ? WHERE id = ?`,
		data, formatTime(now), id)
	if err != nil {
		return fmt.Errorf("failed to update taste profile: %w", err)
	}
	return requireRow(res, "user", id)
}

// UpdateLastSync records when transactions were last synced for a user.
func (db *DB) UpdateLastSync(ctx context.Context, id string, syncedAt time.Time) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE users SET last_transaction_sync = ?, updated_at = ? WHERE id = ?`,
		formatTime(syncedAt), formatTime(syncedAt), id)
	if err != nil {
		return fmt.Errorf("failed to update last sync: %w", err)
	}
	return requireRow(res, "user", id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (models.User, error) {
	var (
		user                       models.User
		age                        sql.NullInt64
		city, profile, lastSync    sql.NullString
		excludedJSON               string
		createdAtStr, updatedAtStr string
	)

	err := row.Scan(
		&user.ID,
		&user.PlaidItemID,
		&user.EncryptedEmail,
		&user.EncryptedAccessToken,
		&age,
		&city,
		&excludedJSON,
		&profile,
		&lastSync,
		&createdAtStr,
		&updatedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("user: %w", apperrors.ErrNotFound)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to scan user: %w", err)
	}

	if age.Valid {
		a := int(age.Int64)
		user.Age = &a
	}
	if city.Valid {
		c := city.String
		user.City = &c
	}

	user.ExcludedMerchants = []string{}
	if err := decodeJSON(excludedJSON, &user.ExcludedMerchants); err != nil {
		return models.User{}, fmt.Errorf("failed to decode excluded merchants: %w", err)
	}

	if profile.Valid && profile.String != "" {
		var tp models.TasteProfile
		if err := decodeJSON(profile.String, &tp); err != nil {
			return models.User{}, fmt.Errorf("failed to decode taste profile: %w", err)
		}
		user.TasteProfile = &tp
	}

	if user.LastTransactionSync, err = parseNullTime(lastSync); err != nil {
		return models.User{}, fmt.Errorf("failed to parse last_transaction_sync: %w", err)
	}
	if user.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return models.User{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if user.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return models.User{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return user, nil
}

// requireRow converts a zero-row update into ErrNotFound.
func requireRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, apperrors.ErrNotFound)
	}
	return nil
}
