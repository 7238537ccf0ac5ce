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
	"github.com/mattn/go-sqlite3"
)

const couponColumns = `id, code, title, description, merchant_name, discount_type, discount_value,
	min_spend_amount, max_discount_amount, valid_from, valid_until, usage_limit, usage_count,
	is_active, created_by, created_at, updated_at`

const cashbackColumns = `id, title, description, merchant_name, cashback_rate,
	min_spend_amount, max_cashback_amount, valid_from, valid_until, usage_limit, usage_count,
	is_active, created_by, created_at, updated_at`

// InsertCoupon stores a new coupon. A code that already exists yields ErrDuplicateCode.
func (db *DB) InsertCoupon(ctx context.Context, c models.Coupon) error {
	_, err := db.conn.ExecContext(ctx, `INSERT INTO coupons (`+couponColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Code, c.Title, c.Description, c.MerchantName, c.DiscountType, c.DiscountValue,
		c.MinSpendAmount, c.MaxDiscountAmount, formatTime(c.ValidFrom), formatTime(c.ValidUntil),
		nullLimit(c.UsageLimit), c.UsageCount, c.IsActive, c.CreatedBy,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("coupon code %q: %w", c.Code, apperrors.ErrDuplicateCode)
		}
		return fmt.Errorf("failed to insert coupon: %w", err)
	}
	return nil
}

// UpdateCoupon replaces the admin-editable fields of a coupon. The usage
// counter is never touched here.
func (db *DB) UpdateCoupon(ctx context.Context, c models.Coupon) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE coupons SET
		code = ?, title = ?, description = ?, merchant_name = ?, discount_type = ?, discount_value = ?,
		min_spend_amount = ?, max_discount_amount = ?, valid_from = ?, valid_until = ?, usage_limit = ?,
		is_active = ?, updated_at = ?
		WHERE id = ?`,
		c.Code, c.Title, c.Description, c.MerchantName, c.DiscountType, c.DiscountValue,
		c.MinSpendAmount, c.MaxDiscountAmount, formatTime(c.ValidFrom), formatTime(c.ValidUntil),
		nullLimit(c.UsageLimit), c.IsActive, formatTime(c.UpdatedAt), c.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("coupon code %q: %w", c.Code, apperrors.ErrDuplicateCode)
		}
		return fmt.Errorf("failed to update coupon: %w", err)
	}
	return requireRow(res, "coupon", c.ID)
}

func (db *DB) DeleteCoupon(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM coupons WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete coupon: %w", err)
	}
	return requireRow(res, "coupon", id)
}

func (db *DB) GetCoupon(ctx context.Context, id string) (models.Coupon, error) {
	c, err := scanCoupon(db.conn.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Coupon{}, fmt.Errorf("coupon %s: %w", id, apperrors.ErrNotFound)
	}
	return c, err
}

// ListCoupons returns all coupons, newest first.
func (db *DB) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	return db.queryCoupons(ctx, `SELECT `+couponColumns+` FROM coupons ORDER BY created_at DESC`)
}

// ListActiveCoupons returns coupons with the active flag set, in storage order.
func (db *DB) ListActiveCoupons(ctx context.Context) ([]models.Coupon, error) {
	return db.queryCoupons(ctx, `SELECT `+couponColumns+` FROM coupons WHERE is_active = 1 ORDER BY rowid`)
}

func (db *DB) queryCoupons(ctx context.Context, query string, args ...interface{}) ([]models.Coupon, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query coupons: %w", err)
	}
	defer rows.Close()

	coupons := []models.Coupon{}
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		coupons = append(coupons, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating coupons: %w", err)
	}
	return coupons, nil
}

func (db *DB) InsertCashback(ctx context.Context, c models.Cashback) error {
	_, err := db.conn.ExecContext(ctx, `INSERT INTO cashbacks (`+cashbackColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Description, c.MerchantName, c.CashbackRate,
		c.MinSpendAmount, c.MaxCashbackAmount, formatTime(c.ValidFrom), formatTime(c.ValidUntil),
		nullLimit(c.UsageLimit), c.UsageCount, c.IsActive, c.CreatedBy,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert cashback: %w", err)
	}
	return nil
}

// UpdateCashback replaces the admin-editable fields of a cashback campaign.
func (db *DB) UpdateCashback(ctx context.Context, c models.Cashback) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE cashbacks SET
		title = ?, description = ?, merchant_name = ?, cashback_rate = ?,
		min_spend_amount = ?, max_cashback_amount = ?, valid_from = ?, valid_until = ?, usage_limit = ?,
		is_active = ?, updated_at = ?
		WHERE id = ?`,
		c.Title, c.Description, c.MerchantName, c.CashbackRate,
		c.MinSpendAmount, c.MaxCashbackAmount, formatTime(c.ValidFrom), formatTime(c.ValidUntil),
		nullLimit(c.UsageLimit), c.IsActive, formatTime(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update cashback: %w", err)
	}
	return requireRow(res, "cashback", c.ID)
}

func (db *DB) DeleteCashback(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM cashbacks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete cashback: %w", err)
	}
	return requireRow(res, "cashback", id)
}

func (db *DB) GetCashback(ctx context.Context, id string) (models.Cashback, error) {
	c, err := scanCashback(db.conn.QueryRowContext(ctx, `SELECT `+cashbackColumns+` FROM cashbacks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Cashback{}, fmt.Errorf("cashback %s: %w", id, apperrors.ErrNotFound)
	}
	return c, err
}

func (db *DB) ListCashbacks(ctx context.Context) ([]models.Cashback, error) {
	return db.queryCashbacks(ctx, `SELECT `+cashbackColumns+` FROM cashbacks ORDER BY created_at DESC`)
}

// ListActiveCashbacks returns cashbacks with the active flag set, in storage order.
func (db *DB) ListActiveCashbacks(ctx context.Context) ([]models.Cashback, error) {
	return db.queryCashbacks(ctx, `SELECT `+cashbackColumns+` FROM cashbacks WHERE is_active = 1 ORDER BY rowid`)
}

func (db *DB) queryCashbacks(ctx context.Context, query string, args ...interface{}) ([]models.Cashback, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cashbacks: %w", err)
	}
	defer rows.Close()

	cashbacks := []models.Cashback{}
	for rows.Next() {
		c, err := scanCashback(rows)
		if err != nil {
			return nil, err
		}
		cashbacks = append(cashbacks, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cashbacks: %w", err)
	}
	return cashbacks, nil
}

// RecordUsage bumps the campaign's usage counter and appends a usage record in
// one transaction. The counter only moves when the campaign is active, inside
// its validity window and below its usage limit; otherwise nothing is written
// and ErrNotUsable (or ErrNotFound for an unknown id) is returned.
func (db *DB) RecordUsage(ctx context.Context, kind models.CampaignKind, campaignID, userID string, amounts models.UsageAmounts, now time.Time) (models.UsageRecord, error) {
	table, err := campaignTable(kind)
	if err != nil {
		return models.UsageRecord{}, err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.UsageRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ts := formatTime(now)
	res, err := tx.ExecContext(ctx, `UPDATE `+table+` SET usage_count = usage_count + 1, updated_at = ?
		WHERE id = ? AND is_active = 1 AND valid_from <= ? AND valid_until >= ?
		AND (usage_limit IS NULL OR usage_count < usage_limit)`,
		ts, campaignID, ts, ts)
	if err != nil {
		return models.UsageRecord{}, fmt.Errorf("failed to bump usage count: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return models.UsageRecord{}, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, campaignID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return models.UsageRecord{}, fmt.Errorf("%s %s: %w", kind, campaignID, apperrors.ErrNotFound)
		}
		if err != nil {
			return models.UsageRecord{}, fmt.Errorf("failed to look up %s: %w", kind, err)
		}
		return models.UsageRecord{}, fmt.Errorf("%s %s: %w", kind, campaignID, apperrors.ErrNotUsable)
	}

	record := models.UsageRecord{
		ID:            uuid.New().String(),
		Kind:          kind,
		CampaignID:    campaignID,
		UserID:        userID,
		UsedAt:        now,
		BenefitAmount: amounts.Benefit,
		OrderAmount:   amounts.Order,
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO campaign_usage (
		id, campaign_kind, campaign_id, user_id, used_at, benefit_amount, order_amount
	) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID, string(kind), campaignID, userID, ts, record.BenefitAmount, record.OrderAmount)
	if err != nil {
		return models.UsageRecord{}, fmt.Errorf("failed to insert usage record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.UsageRecord{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return record, nil
}

// ListUsage returns the usage records of one campaign, oldest first.
func (db *DB) ListUsage(ctx context.Context, kind models.CampaignKind, campaignID string) ([]models.UsageRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, campaign_kind, campaign_id, user_id, used_at, benefit_amount, order_amount
		FROM campaign_usage WHERE campaign_kind = ? AND campaign_id = ? ORDER BY used_at, rowid`,
		string(kind), campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	records := []models.UsageRecord{}
	for rows.Next() {
		var (
			r          models.UsageRecord
			recordKind string
			usedAt     string
		)
		if err := rows.Scan(&r.ID, &recordKind, &r.CampaignID, &r.UserID, &usedAt, &r.BenefitAmount, &r.OrderAmount); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		r.Kind = models.CampaignKind(recordKind)
		if r.UsedAt, err = parseTime(usedAt); err != nil {
			return nil, fmt.Errorf("failed to parse used_at: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage: %w", err)
	}
	return records, nil
}

func campaignTable(kind models.CampaignKind) (string, error) {
	switch kind {
	case models.CampaignKindCoupon:
		return "coupons", nil
	case models.CampaignKindCashback:
		return "cashbacks", nil
	default:
		return "", fmt.Errorf("unknown campaign kind %q", kind)
	}
}

func nullLimit(limit *int) sql.NullInt64 {
	if limit == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*limit), Valid: true}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// scanCampaign fills the shared campaign columns; the kind-specific columns are
// passed in extra, in column order between merchant_name and valid_from.
func scanCampaign(row rowScanner, c *models.Campaign, head []interface{}, extra []interface{}) error {
	var (
		limit                 sql.NullInt64
		validFrom, validUntil string
		createdAt, updatedAt  string
	)

	dest := append([]interface{}{}, head...)
	dest = append(dest, &c.Title, &c.Description, &c.MerchantName)
	dest = append(dest, extra...)
	dest = append(dest, &validFrom, &validUntil, &limit, &c.UsageCount, &c.IsActive, &c.CreatedBy, &createdAt, &updatedAt)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("failed to scan campaign: %w", err)
	}

	if limit.Valid {
		l := int(limit.Int64)
		c.UsageLimit = &l
	}

	var err error
	if c.ValidFrom, err = parseTime(validFrom); err != nil {
		return fmt.Errorf("failed to parse valid_from: %w", err)
	}
	if c.ValidUntil, err = parseTime(validUntil); err != nil {
		return fmt.Errorf("failed to parse valid_until: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return fmt.Errorf("failed to parse created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return nil
}

func scanCoupon(row rowScanner) (models.Coupon, error) {
	var c models.Coupon
	err := scanCampaign(row, &c.Campaign,
		[]interface{}{&c.ID, &c.Code},
		[]interface{}{&c.DiscountType, &c.DiscountValue, &c.MinSpendAmount, &c.MaxDiscountAmount})
	return c, err
}

func scanCashback(row rowScanner) (models.Cashback, error) {
	var c models.Cashback
	err := scanCampaign(row, &c.Campaign,
		[]interface{}{&c.ID},
		[]interface{}{&c.CashbackRate, &c.MinSpendAmount, &c.MaxCashbackAmount})
	return c, err
}
