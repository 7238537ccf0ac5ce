package models

import "time"

// ExchangeTokenRequest is the body of POST /plaid/exchange-token.
type ExchangeTokenRequest struct {
	PublicToken string `json:"public_token"`
}

type ExchangeTokenResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId"`
	ItemID  string `json:"itemId"`
}

// SyncTransactionsRequest is the body of POST /users/{user_id}/transactions/sync.
type SyncTransactionsRequest struct {
	Count int `json:"count"`
}

type SyncTransactionsResponse struct {
	Merchants         []Transaction `json:"merchants"`
	Categories        []string      `json:"categories"`
	TotalTransactions int           `json:"totalTransactions"`
}

// UpdateProfileRequest is the body of PUT /users/{user_id}/profile.
type UpdateProfileRequest struct {
	Age               *int     `json:"age" validate:"omitempty,gte=13,lte=120"`
	City              *string  `json:"city" validate:"omitempty,max=100"`
	ExcludedMerchants []string `json:"excludedMerchants" validate:"max=100,dive,max=200"`
}

// QlooCacheStatus is the response of GET /users/{user_id}/qloo-cache.
type QlooCacheStatus struct {
	Stale          bool                 `json:"stale"`
	LastUpdated    *time.Time           `json:"lastUpdated,omitempty"`
	AttachedBrands []AttachedBrandGroup `json:"attachedBrands"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	UserID         string   `json:"userId"`
	ConversationID string   `json:"conversationId,omitempty"`
	Message        string   `json:"message"`
	ChatType       ChatType `json:"chatType"`
}

type ChatResponse struct {
	ConversationID string   `json:"conversationId"`
	Message        string   `json:"message"`
	ChatType       ChatType `json:"chatType"`
}

// ProcessRequest is the body of POST /chat/process.
type ProcessRequest struct {
	UserID         string   `json:"userId"`
	ConversationID string   `json:"conversationId"`
	ChatType       ChatType `json:"chatType"`
}

type ProcessResponse struct {
	Success            bool         `json:"success"`
	Data               Extraction   `json:"data"`
	ParseOutcome       ParseOutcome `json:"parseOutcome"`
	MatchedBrandsCount int          `json:"matchedBrandsCount"`
	TotalMatches       int          `json:"totalMatches"`
	Summary            string       `json:"summary"`
}

// FindOffersRequest is the body of POST /offers/search.
type FindOffersRequest struct {
	BrandNames []string `json:"brandNames"`
}

// RecordUsageRequest is the body of POST /admin/{kind}/{id}/usage.
type RecordUsageRequest struct {
	UserID string `json:"userId"`
	UsageAmounts
}

// AttachBrandsRequest is the body of PUT /conversations/{id}/matched-brands/attached.
type AttachBrandsRequest struct {
	BrandName      string        `json:"brandName"`
	AttachedBrands []BrandEntity `json:"attachedBrands"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
