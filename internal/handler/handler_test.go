package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dhxmo/CultureQ/internal/apperrors"
	"github.com/dhxmo/CultureQ/internal/clock"
	"github.com/dhxmo/CultureQ/internal/crypto"
	"github.com/dhxmo/CultureQ/internal/database"
	"github.com/dhxmo/CultureQ/internal/features"
	"github.com/dhxmo/CultureQ/internal/ingestion"
	"github.com/dhxmo/CultureQ/internal/llm"
	"github.com/dhxmo/CultureQ/internal/matcher"
	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/dhxmo/CultureQ/internal/plaid"
	"github.com/dhxmo/CultureQ/internal/profile"
	"github.com/dhxmo/CultureQ/internal/service"
	"github.com/dhxmo/CultureQ/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)

type scriptedLLM struct {
	extraction string
	extractErr error
	matches    string
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	switch {
	case strings.Contains(req.SystemPrompt, "brand matching expert"):
		return s.matches, nil
	case len(req.Messages) == 1 && strings.HasPrefix(req.Messages[0].Content, "Conversation to analyze"):
		return s.extraction, s.extractErr
	default:
		return "Nice! What else?", nil
	}
}

type noQloo struct{}

func (noQloo) Insights(ctx context.Context, entityID, ageBucket, city string) ([]models.BrandEntity, error) {
	return nil, nil
}

func (noQloo) Search(ctx context.Context, name string) (string, bool, error) {
	return "", false, nil
}

type stubPlaid struct {
	exchangeErr error
	page        models.SyncPage
}

func (s *stubPlaid) ExchangePublicToken(ctx context.Context, publicToken string) (plaid.ExchangeResult, error) {
	if s.exchangeErr != nil {
		return plaid.ExchangeResult{}, s.exchangeErr
	}
	return plaid.ExchangeResult{AccessToken: "access-" + publicToken, ItemID: "item-" + publicToken}, nil
}

func (s *stubPlaid) SyncTransactions(ctx context.Context, accessToken, cursor string) (models.SyncPage, error) {
	return s.page, nil
}

func (s *stubPlaid) GetIdentity(ctx context.Context, accessToken string) (plaid.Identity, error) {
	return plaid.Identity{}, nil
}

type testEnv struct {
	router http.Handler
	db     *database.DB
	llm    *scriptedLLM
	plaid  *stubPlaid
}

func setupTestHandler(t *testing.T, opts NewHandlerOptions) *testEnv {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cipher, err := crypto.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	prompts, err := profile.LoadPrompts()
	require.NoError(t, err)

	env := &testEnv{db: db, llm: &scriptedLLM{}, plaid: &stubPlaid{}}
	svc := service.NewService(service.Deps{
		DB:             db,
		Plaid:          env.plaid,
		Qloo:           noQloo{},
		LLM:            env.llm,
		Cipher:         cipher,
		Clock:          clock.NewFixed(testNow),
		Prompts:        prompts,
		ProfileOptions: profile.DefaultOptions(),
		MatcherOptions: matcher.DefaultOptions(),
		SyncConfig:     ingestion.SyncConfig{MaxAttempts: 2, Timeout: time.Second, Backoff: time.Millisecond},
	})

	r := chi.NewRouter()
	NewHandlerWithOptions(svc, opts).Register(r)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dest), rr.Body.String())
}

func (e *testEnv) linkUser(t *testing.T, token string) string {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/plaid/exchange-token", models.ExchangeTokenRequest{PublicToken: token})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp models.ExchangeTokenResponse
	decodeBody(t, rr, &resp)
	return resp.UserID
}

func couponBody(code string, limit int) map[string]interface{} {
	return map[string]interface{}{
		"title":         "Deal " + code,
		"merchantName":  "Blue Bottle",
		"validFrom":     testNow.Add(-time.Hour).Format(time.RFC3339),
		"validUntil":    testNow.Add(time.Hour).Format(time.RFC3339),
		"usageLimit":    limit,
		"createdBy":     "admin",
		"code":          code,
		"discountType":  "percentage",
		"discountValue": 15,
	}
}

func TestHealthCheck(t *testing.T) {
	env := setupTestHandler(t, DefaultHandlerOptions())

	rr := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestExchangeToken(t *testing.T) {
	env := setupTestHandler(t, DefaultHandlerOptions())

	userID := env.linkUser(t, "abc")
	assert.NotEmpty(t, userID)

	rr := env.do(t, http.MethodPost, "/plaid/exchange-token", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/plaid/exchange-token", "{not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/plaid/exchange-token", models.ExchangeTokenRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	env.plaid.exchangeErr = fmt.Errorf("plaid: %w", apperrors.ErrProviderUnavailable)
	rr = env.do(t, http.MethodPost, "/plaid/exchange-token", models.ExchangeTokenRequest{PublicToken: "xyz"})
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestExchangeToken_BodyTooLarge(t *testing.T) {
	env := setupTestHandler(t, NewHandlerOptions{MaxBodySize: 16})

	rr := env.do(t, http.MethodPost, "/plaid/exchange-token", models.ExchangeTokenRequest{PublicToken: strings.Repeat("x", 64)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestSyncTransactions(t *testing.T) {
	env := setupTestHandler(t, DefaultHandlerOptions())
	userID := env.linkUser(t, "abc")

	env.plaid.page = models.SyncPage{
		Added: []models.RawTransaction{
			{ID: "t1", MerchantName: "Starbucks", Category: []string{"Food and Drink"}, Amount: decimal.NewFromInt(5), Date: "2025-10-01"},
		},
		NextCursor: "c1",
	}

	rr := env.do(t, http.MethodPost, "/users/"+userID+"/transactions/sync", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp models.SyncTransactionsResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, 1, resp.TotalTransactions)
	assert.Equal(t, []string{"food and drink"}, resp.Categories)

	rr = env.do(t, http.MethodPost, "/users/"+userID+"/transactions/sync", models.SyncTransactionsRequest{Count: 501})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/users/not-a-uuid/transactions/sync", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/users/9b2f7f0e-0c8a-4b44-9d38-5a5d3c2d1e10/transactions/sync", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSyncTransactions_Timeout(t *testing.T) {
	env := setupTestHandler(t, DefaultHandlerOptions())
	userID := env.linkUser(t, "abc")

	rr := env.do(t, http.MethodPost, "/users/"+userID+"/transactions/sync", nil)
	assert.Equal(t, http.StatusGatewayTimeout, rr.Code)
}

func TestUpdateProfileAndGetUser(t *testing.T) {
	env := setupTestHandler(t, DefaultHandlerOptions())
	userID := env.linkUser(t, "abc")

	rr := env.do(t, http.MethodPut, "/users/"+userID+"/profile", map[string]interface{}{"age": 30, "city": "Austin"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/users/"+userID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var user models.User
	decodeBody(t, rr, &user)
	require.NotNil(t, user.City)
	assert.Equal(t, "Austin", *user.City)
	assert.NotContains(t, rr.Body.String(), "access-abc")

	rr = env.do(t, http.MethodPut, "/users/"+userID+"/profile", map[string]interface{}{"age": 200})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/users/"+userID+"/qloo-cache", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var status models.QlooCacheStatus
	decodeBody(t, rr, &status)
	assert.True(t, status.Stale)
}

func TestChatAndProcessFlow(t *testing.T) {
	env := setupTestHandler(t, DefaultHandlerOptions())
	userID := env.linkUser(t, "abc")

	require.NoError(t, env.db.UpsertMerchantBrands(context.Background(), models.MerchantBrands{
		MerchantEntityID: "m-1",
		MerchantName:     "starbucks",
		Brands:           []models.BrandEntity{{Name: "Blue Bottle", EntityID: "b-1"}},
		UpdatedAt:        testNow,
	}))
	env.llm.extraction = `{"extractedInsights":["coffee"],"merchantPreferences":["Blue Bottle"],"summary":"Coffee fan"}`
	env.llm.matches = `[{"name":"Blue Bottle","entity_id":"b-1","matchScore":91,"matchReason":"coffee"}]`

	rr := env.do(t, http.MethodPost, "/chat", models.ChatRequest{UserID: userID, Message: "I like coffee", ChatType: models.ChatTypeAspirationsBridge})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var chat models.ChatResponse
	decodeBody(t, rr, &chat)
	assert.Equal(t, "Nice! What else?", chat.Message)

	rr = env.do(t, http.MethodPost, "/chat/process", models.ProcessRequest{UserID: userID, ConversationID: chat.ConversationID})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var processed models.ProcessResponse
	decodeBody(t, rr, &processed)
	assert.True(t, processed.Success)
	assert.Equal(t, 1, processed.MatchedBrandsCount)

	rr = env.do(t, http.MethodGet, "/conversations/"+chat.ConversationID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var conv models.Conversation
	decodeBody(t, rr, &conv)
	assert.True(t, conv.IsCompleted)

	rr = env.do(t, http.MethodGet, "/users/"+userID+"/matched-brands", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var matched []models.UserMatchedBrand
	decodeBody(t, rr, &matched)
	require.Len(t, matched, 1)
	assert.Equal(t, chat.ConversationID, matched[0].ConversationID)

	rr = env.do(t, http.MethodGet, "/users/"+userID+"/merchant-preferences", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `["blue bottle"]`, rr.Body.String())

	rr = env.do(t, http.MethodPut, "/conversations/"+chat.ConversationID+"/matched-brands/attached",
		models.AttachBrandsRequest{BrandName: "Blue Bottle", AttachedBrands: []models.BrandEntity{{Name: "Stumptown", EntityID: "s-1"}}})
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestChat_Errors(t *testing.T) {
	env := setupTestHandler(t, DefaultHandlerOptions())
	userID := env.linkUser(t, "abc")

	rr := env.do(t, http.MethodPost, "/chat", models.ChatRequest{UserID: userID, Message: "hi", ChatType: "smalltalk"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/chat/process", models.ProcessRequest{UserID: userID, ConversationID: "9b2f7f0e-0c8a-4b44-9d38-5a5d3c2d1e10"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPost, "/chat", models.ChatRequest{UserID: userID, Message: "hi", ChatType: models.ChatTypeGoalSetting})
	require.Equal(t, http.StatusOK, rr.Code)
	var chat models.ChatResponse
	decodeBody(t, rr, &chat)

	env.llm.extractErr = apperrors.ErrProviderUnavailable
	rr = env.do(t, http.MethodPost, "/chat/process", models.ProcessRequest{UserID: userID, ConversationID: chat.ConversationID})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"processing failed"}`, rr.Body.String())
}

func TestCouponAdminAndUsage(t *testing.T) {
	env := setupTestHandler(t, DefaultHandlerOptions())
	userID := env.linkUser(t, "abc")

	rr := env.do(t, http.MethodPost, "/admin/coupons", couponBody("SAVE15", 1))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created models.Coupon
	decodeBody(t, rr, &created)
	assert.True(t, created.IsActive)
	assert.NotEmpty(t, created.ID)

	rr = env.do(t, http.MethodPost, "/admin/coupons", couponBody("SAVE15", 1))
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodGet, "/admin/coupons", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []models.Coupon
	decodeBody(t, rr, &list)
	assert.Len(t, list, 1)

	rr = env.do(t, http.MethodPost, "/offers/search", models.FindOffersRequest{BrandNames: []string{"blue bottle"}})
	require.Equal(t, http.StatusOK, rr.Code)
	var set models.OfferSet
	decodeBody(t, rr, &set)
	assert.Len(t, set.Coupons, 1)
	assert.NotNil(t, set.Cashbacks)

	usage := map[string]interface{}{"userId": userID, "benefitAmount": 3, "orderAmount": 20}
	rr = env.do(t, http.MethodPost, "/admin/coupons/"+created.ID+"/usage", usage)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/admin/coupons/"+created.ID+"/usage", usage)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodGet, "/admin/coupons/"+created.ID+"/analytics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var analytics models.CampaignAnalytics
	decodeBody(t, rr, &analytics)
	assert.Equal(t, 1, analytics.TotalUsage)
	assert.True(t, analytics.TotalBenefit.Equal(decimal.NewFromInt(3)))

	rr = env.do(t, http.MethodDelete, "/admin/coupons/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodGet, "/admin/coupons/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCashbackAdmin(t *testing.T) {
	env := setupTestHandler(t, DefaultHandlerOptions())

	body := map[string]interface{}{
		"title":        "Cashback",
		"merchantName": "Aesop",
		"validFrom":    testNow.Add(-time.Hour).Format(time.RFC3339),
		"validUntil":   testNow.Add(time.Hour).Format(time.RFC3339),
		"createdBy":    "admin",
		"cashbackRate": "2.5",
	}
	rr := env.do(t, http.MethodPost, "/admin/cashbacks", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created models.Cashback
	decodeBody(t, rr, &created)

	body["cashbackRate"] = "150"
	rr = env.do(t, http.MethodPut, "/admin/cashbacks/"+created.ID, body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	body["cashbackRate"] = "5"
	rr = env.do(t, http.MethodPut, "/admin/cashbacks/"+created.ID, body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var updated models.Cashback
	decodeBody(t, rr, &updated)
	assert.True(t, updated.CashbackRate.Equal(decimal.NewFromInt(5)))

	rr = env.do(t, http.MethodDelete, "/admin/cashbacks/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodDelete, "/admin/cashbacks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestFeatureFlags(t *testing.T) {
	env := setupTestHandler(t, DefaultHandlerOptions())

	rr := env.do(t, http.MethodGet, "/admin/features", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var flags []features.FeatureFlag
	decodeBody(t, rr, &flags)
	require.Len(t, flags, 3)
	assert.Equal(t, features.FeatureDedupeAcrossRuns, flags[0].Name)
	assert.Equal(t, features.FeatureStrictMatching, flags[2].Name)
	assert.True(t, flags[2].Enabled)

	rr = env.do(t, http.MethodPut, "/admin/features/"+features.FeatureStrictMatching, map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var flag features.FeatureFlag
	decodeBody(t, rr, &flag)
	assert.False(t, flag.Enabled)

	rr = env.do(t, http.MethodGet, "/admin/features", nil)
	decodeBody(t, rr, &flags)
	assert.False(t, flags[2].Enabled)

	rr = env.do(t, http.MethodPut, "/admin/features/nope", map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPut, "/admin/features/"+features.FeatureStrictMatching, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&validation.ValidationError{Field: "x", Message: "bad"}, http.StatusBadRequest},
		{fmt.Errorf("user: %w", apperrors.ErrNotFound), http.StatusNotFound},
		{apperrors.ErrNotUsable, http.StatusConflict},
		{apperrors.ErrDuplicateCode, http.StatusConflict},
		{apperrors.ErrSyncTimeout, http.StatusGatewayTimeout},
		{apperrors.ErrProviderUnavailable, http.StatusBadGateway},
		{fmt.Errorf("x: %w: %w", apperrors.ErrProcessingFailed, apperrors.ErrProviderUnavailable), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
