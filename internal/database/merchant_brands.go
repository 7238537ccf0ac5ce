package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dhxmo/CultureQ/internal/apperrors"
	"github.com/dhxmo/CultureQ/internal/models"
)

// GetMerchantBrands returns the cached brand list for a merchant entity.
func (db *DB) GetMerchantBrands(ctx context.Context, merchantEntityID string) (models.MerchantBrands, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT merchant_entity_id, merchant_name, brands, updated_at
		FROM merchant_brands WHERE merchant_entity_id = ?`, merchantEntityID)
	mb, err := scanMerchantBrands(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MerchantBrands{}, fmt.Errorf("merchant brands %s: %w", merchantEntityID, apperrors.ErrNotFound)
	}
	return mb, err
}

// UpsertMerchantBrands inserts or replaces the row for mb.MerchantEntityID.
// Concurrent writers for the same merchant are last-writer-wins.
func (db *DB) UpsertMerchantBrands(ctx context.Context, mb models.MerchantBrands) error {
	brands, err := encodeJSON(mb.Brands)
	if err != nil {
		return fmt.Errorf("failed to encode brands: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, `INSERT INTO merchant_brands (merchant_entity_id, merchant_name, brands, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(merchant_entity_id) DO UPDATE SET
			merchant_name = excluded.merchant_name,
			brands = excluded.brands,
			updated_at = excluded.updated_at`,
		mb.MerchantEntityID, mb.MerchantName, brands, formatTime(mb.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert merchant brands: %w", err)
	}
	return nil
}

// ListMerchantBrands returns every cached merchant row, ordered by merchant name.
func (db *DB) ListMerchantBrands(ctx context.Context) ([]models.MerchantBrands, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT merchant_entity_id, merchant_name, brands, updated_at
		FROM merchant_brands ORDER BY merchant_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query merchant brands: %w", err)
	}
	defer rows.Close()

	var result []models.MerchantBrands
	for rows.Next() {
		mb, err := scanMerchantBrands(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, mb)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating merchant brands: %w", err)
	}

	return result, nil
}

// UpsertQlooEntity memoizes a name search result, keyed by entity id.
func (db *DB) UpsertQlooEntity(ctx context.Context, entity models.QlooEntity) error {
	_, err := db.conn.ExecContext(ctx, `INSERT INTO qloo_entities (entity_id, name, name_key, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET name = excluded.name, name_key = excluded.name_key`,
		entity.EntityID, entity.Name, nameKey(entity.Name), formatTime(entity.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert qloo entity: %w", err)
	}
	return nil
}

// FindQlooEntityByName looks up a memoized entity by case-insensitive name.
func (db *DB) FindQlooEntityByName(ctx context.Context, name string) (models.QlooEntity, error) {
	var (
		entity    models.QlooEntity
		createdAt string
	)
	err := db.conn.QueryRowContext(ctx, `SELECT entity_id, name, created_at FROM qloo_entities
		WHERE name_key = ? ORDER BY created_at DESC LIMIT 1`, nameKey(name)).
		Scan(&entity.EntityID, &entity.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.QlooEntity{}, fmt.Errorf("qloo entity %q: %w", name, apperrors.ErrNotFound)
	}
	if err != nil {
		return models.QlooEntity{}, fmt.Errorf("failed to query qloo entity: %w", err)
	}

	if entity.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.QlooEntity{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return entity, nil
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func scanMerchantBrands(row rowScanner) (models.MerchantBrands, error) {
	var (
		mb         models.MerchantBrands
		brandsJSON string
		updatedAt  string
	)
	if err := row.Scan(&mb.MerchantEntityID, &mb.MerchantName, &brandsJSON, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.MerchantBrands{}, err
		}
		return models.MerchantBrands{}, fmt.Errorf("failed to scan merchant brands: %w", err)
	}

	mb.Brands = []models.BrandEntity{}
	if err := decodeJSON(brandsJSON, &mb.Brands); err != nil {
		return models.MerchantBrands{}, fmt.Errorf("failed to decode brands: %w", err)
	}

	var err error
	if mb.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return models.MerchantBrands{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return mb, nil
}
