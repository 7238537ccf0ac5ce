// Package plaid is a minimal REST client for the Plaid bank data API.
package plaid

import (
	"context"
	"fmt"
	"strings"

	"github.com/dhxmo/CultureQ/internal/httpclient"
	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/shopspring/decimal"
)

var environments = map[string]string{
	"sandbox":     "https://sandbox.plaid.com",
	"development": "https://development.plaid.com",
	"production":  "https://production.plaid.com",
}

// Provider is the bank data API used by ingestion and account linking.
type Provider interface {
	ExchangePublicToken(ctx context.Context, publicToken string) (ExchangeResult, error)
	SyncTransactions(ctx context.Context, accessToken, cursor string) (models.SyncPage, error)
	GetIdentity(ctx context.Context, accessToken string) (Identity, error)
}

type ExchangeResult struct {
	AccessToken string
	ItemID      string
}

type Identity struct {
	Emails []string
}

type Config struct {
	Env      string
	BaseURL  string
	ClientID string
	Secret   string
	HTTP     httpclient.Config
}

type Client struct {
	http     *httpclient.Client
	baseURL  string
	clientID string
	secret   string
}

// NewClient builds a client for cfg.Env unless cfg.BaseURL overrides it.
func NewClient(cfg Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		var ok bool
		baseURL, ok = environments[strings.ToLower(cfg.Env)]
		if !ok {
			return nil, fmt.Errorf("unknown plaid environment %q", cfg.Env)
		}
	}

	return &Client{
		http:     httpclient.New("plaid", cfg.HTTP),
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: cfg.ClientID,
		secret:   cfg.Secret,
	}, nil
}

func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (ExchangeResult, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
		ItemID      string `json:"item_id"`
	}
	err := c.http.PostJSON(ctx, c.baseURL+"/item/public_token/exchange", c.headers(),
		map[string]string{"public_token": publicToken}, &resp)
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("plaid token exchange: %w", err)
	}
	return ExchangeResult{AccessToken: resp.AccessToken, ItemID: resp.ItemID}, nil
}

type syncTransaction struct {
	TransactionID string          `json:"transaction_id"`
	Name          string          `json:"name"`
	MerchantName  *string         `json:"merchant_name"`
	Category      []string        `json:"category"`
	Amount        decimal.Decimal `json:"amount"`
	Date          string          `json:"date"`
}

func (t syncTransaction) raw() models.RawTransaction {
	r := models.RawTransaction{
		ID:       t.TransactionID,
		Name:     t.Name,
		Category: t.Category,
		Amount:   t.Amount,
		Date:     t.Date,
	}
	if t.MerchantName != nil {
		r.MerchantName = *t.MerchantName
	}
	return r
}

func (c *Client) SyncTransactions(ctx context.Context, accessToken, cursor string) (models.SyncPage, error) {
	req := map[string]string{"access_token": accessToken}
	if cursor != "" {
		req["cursor"] = cursor
	}

	var resp struct {
		Added    []syncTransaction `json:"added"`
		Modified []syncTransaction `json:"modified"`
		Removed  []struct {
			TransactionID string `json:"transaction_id"`
		} `json:"removed"`
		NextCursor string `json:"next_cursor"`
		HasMore    bool   `json:"has_more"`
	}
	if err := c.http.PostJSON(ctx, c.baseURL+"/transactions/sync", c.headers(), req, &resp); err != nil {
		return models.SyncPage{}, fmt.Errorf("plaid transactions sync: %w", err)
	}

	page := models.SyncPage{NextCursor: resp.NextCursor, HasMore: resp.HasMore}
	for _, t := range resp.Added {
		page.Added = append(page.Added, t.raw())
	}
	for _, t := range resp.Modified {
		page.Modified = append(page.Modified, t.raw())
	}
	for _, r := range resp.Removed {
		page.Removed = append(page.Removed, r.TransactionID)
	}
	return page, nil
}

func (c *Client) GetIdentity(ctx context.Context, accessToken string) (Identity, error) {
	var resp struct {
		Accounts []struct {
			Owners []struct {
				Emails []struct {
					Data string `json:"data"`
				} `json:"emails"`
			} `json:"owners"`
		} `json:"accounts"`
	}
	err := c.http.PostJSON(ctx, c.baseURL+"/identity/get", c.headers(),
		map[string]string{"access_token": accessToken}, &resp)
	if err != nil {
		return Identity{}, fmt.Errorf("plaid identity: %w", err)
	}

	var identity Identity
	for _, a := range resp.Accounts {
		for _, o := range a.Owners {
			for _, e := range o.Emails {
				if e.Data != "" {
					identity.Emails = append(identity.Emails, e.Data)
				}
			}
		}
	}
	return identity, nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"PLAID-CLIENT-ID": c.clientID,
		"PLAID-SECRET":    c.secret,
	}
}
