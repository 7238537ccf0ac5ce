package plaid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dhxmo/CultureQ/internal/httpclient"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(Config{BaseURL: server.URL, ClientID: "cid", Secret: "sec", HTTP: httpclient.DefaultConfig()})
	require.NoError(t, err)
	return c
}

func TestNewClient_UnknownEnv(t *testing.T) {
	_, err := NewClient(Config{Env: "staging"})
	assert.Error(t, err)

	c, err := NewClient(Config{Env: "Sandbox"})
	require.NoError(t, err)
	assert.Equal(t, "https://sandbox.plaid.com", c.baseURL)
}

func TestExchangePublicToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/item/public_token/exchange", r.URL.Path)
		assert.Equal(t, "cid", r.Header.Get("PLAID-CLIENT-ID"))
		assert.Equal(t, "sec", r.Header.Get("PLAID-SECRET"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "public-abc", body["public_token"])

		w.Write([]byte(`{"access_token":"access-1","item_id":"item-1"}`))
	})

	res, err := c.ExchangePublicToken(context.Background(), "public-abc")
	require.NoError(t, err)
	assert.Equal(t, "access-1", res.AccessToken)
	assert.Equal(t, "item-1", res.ItemID)
}

func TestSyncTransactions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cursor-0", body["cursor"])

		w.Write([]byte(`{
			"added":[{"transaction_id":"t1","name":"STARBUCKS 123","merchant_name":"Starbucks","category":["Food and Drink","Coffee"],"amount":4.33,"date":"2025-10-20"}],
			"modified":[{"transaction_id":"t2","name":"Uber 063015","merchant_name":null,"category":null,"amount":-5.4,"date":"2025-10-19"}],
			"removed":[{"transaction_id":"t0"}],
			"next_cursor":"cursor-1",
			"has_more":false
		}`))
	})

	page, err := c.SyncTransactions(context.Background(), "access-1", "cursor-0")
	require.NoError(t, err)
	require.Len(t, page.Added, 1)
	assert.Equal(t, "Starbucks", page.Added[0].MerchantName)
	assert.True(t, page.Added[0].Amount.Equal(decimal.RequireFromString("4.33")))
	require.Len(t, page.Modified, 1)
	assert.Empty(t, page.Modified[0].MerchantName)
	assert.Equal(t, []string{"t0"}, page.Removed)
	assert.Equal(t, "cursor-1", page.NextCursor)
	assert.False(t, page.HasMore)
}

func TestGetIdentity(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/identity/get", r.URL.Path)
		w.Write([]byte(`{"accounts":[{"owners":[{"emails":[{"data":"user@example.com"}]}]}]}`))
	})

	identity, err := c.GetIdentity(context.Background(), "access-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"user@example.com"}, identity.Emails)
}
