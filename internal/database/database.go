package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed-width in UTC so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers, which the guarded usage
	// transaction relies on.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			plaid_item_id TEXT NOT NULL UNIQUE,
			email_enc TEXT NOT NULL DEFAULT '',
			access_token_enc TEXT NOT NULL,
			age INTEGER,
			city TEXT,
			excluded_merchants TEXT NOT NULL DEFAULT '[]',
			taste_profile TEXT,
			last_transaction_sync TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			chat_type TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			messages TEXT NOT NULL DEFAULT '[]',
			extraction TEXT,
			parse_outcome TEXT NOT NULL DEFAULT '',
			matched_brands TEXT NOT NULL DEFAULT '[]',
			is_completed INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, chat_type)`,
		`CREATE TABLE IF NOT EXISTS merchant_brands (
			merchant_entity_id TEXT PRIMARY KEY,
			merchant_name TEXT NOT NULL,
			brands TEXT NOT NULL DEFAULT '[]',
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS qloo_entities (
			entity_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			name_key TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_qloo_entities_name ON qloo_entities(name_key)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			merchant_name TEXT NOT NULL,
			display_name TEXT NOT NULL,
			category TEXT NOT NULL,
			amount TEXT NOT NULL,
			date TEXT NOT NULL,
			qloo_entity_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions(user_id, date)`,
		`CREATE TABLE IF NOT EXISTS coupons (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			merchant_name TEXT NOT NULL,
			discount_type TEXT NOT NULL,
			discount_value TEXT NOT NULL,
			min_spend_amount TEXT,
			max_discount_amount TEXT,
			valid_from TEXT NOT NULL,
			valid_until TEXT NOT NULL,
			usage_limit INTEGER,
			usage_count INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_coupons_active ON coupons(is_active)`,
		`CREATE TABLE IF NOT EXISTS cashbacks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			merchant_name TEXT NOT NULL,
			cashback_rate TEXT NOT NULL,
			min_spend_amount TEXT,
			max_cashback_amount TEXT,
			valid_from TEXT NOT NULL,
			valid_until TEXT NOT NULL,
			usage_limit INTEGER,
			usage_count INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cashbacks_active ON cashbacks(is_active)`,
		`CREATE TABLE IF NOT EXISTS campaign_usage (
			id TEXT PRIMARY KEY,
			campaign_kind TEXT NOT NULL,
			campaign_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			used_at TEXT NOT NULL,
			benefit_amount TEXT NOT NULL,
			order_amount TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_campaign_usage_campaign ON campaign_usage(campaign_kind, campaign_id)`,
		`CREATE INDEX IF NOT EXISTS idx_campaign_usage_user ON campaign_usage(user_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// encodeJSON serializes a nested document column. Nil slices are stored as "[]".
func encodeJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return "[]", nil
	}
	return string(data), nil
}

// decodeJSON deserializes a nested document column into dest. Empty input leaves dest untouched.
func decodeJSON(serialized string, dest interface{}) error {
	if serialized == "" {
		return nil
	}
	return json.Unmarshal([]byte(serialized), dest)
}
