package models

import "github.com/shopspring/decimal"

// RawTransaction is a transaction as reported by the bank data provider.
type RawTransaction struct {
	ID           string
	Name         string
	MerchantName string
	Category     []string
	Amount       decimal.Decimal
	Date         string
}

// SyncPage is one page of a cursor-based transaction sync.
type SyncPage struct {
	Added      []RawTransaction
	Modified   []RawTransaction
	Removed    []string
	NextCursor string
	HasMore    bool
}

// Transaction is a normalized transaction.
type Transaction struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	MerchantName string          `json:"name"`
	DisplayName  string          `json:"displayName"`
	Category     string          `json:"category"`
	Amount       decimal.Decimal `json:"amount"`
	Date         string          `json:"date"`
	QlooEntityID string          `json:"qlooEntityId,omitempty"`
}
