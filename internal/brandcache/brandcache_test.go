package brandcache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dhxmo/CultureQ/internal/apperrors"
	"github.com/dhxmo/CultureQ/internal/cache"
	"github.com/dhxmo/CultureQ/internal/clock"
	"github.com/dhxmo/CultureQ/internal/database"
	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)

type fakeQloo struct {
	mu            sync.Mutex
	ids           map[string]string
	brands        map[string][]models.BrandEntity
	failFor       map[string]bool
	insightsCalls []string
	searchCalls   []string
	lastBucket    string
	lastCity      string
}

func (f *fakeQloo) Insights(ctx context.Context, entityID, ageBucket, city string) ([]models.BrandEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insightsCalls = append(f.insightsCalls, entityID)
	f.lastBucket, f.lastCity = ageBucket, city
	if f.failFor[entityID] {
		return nil, apperrors.ErrProviderUnavailable
	}
	return f.brands[entityID], nil
}

func (f *fakeQloo) Search(ctx context.Context, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls = append(f.searchCalls, name)
	id, ok := f.ids[name]
	return id, ok, nil
}

func setup(t *testing.T, provider *fakeQloo) (*Cache, *database.DB) {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(db, cache.NewInMemoryCache(nil), provider, clock.NewFixed(testNow), DefaultOptions()), db
}

func TestIsExpired(t *testing.T) {
	eightDays := testNow.Add(-8 * 24 * time.Hour)
	sixDays := testNow.Add(-6 * 24 * time.Hour)

	assert.True(t, IsExpired(&eightDays, testNow))
	assert.False(t, IsExpired(&sixDays, testNow))
	assert.True(t, IsExpired(nil, testNow))
}

func TestPreferencesChanged(t *testing.T) {
	age, city := 30, "NYC"
	snapshot := &models.PreferenceSnapshot{Age: &age, City: &city, ExcludedMerchants: []string{"A", "B"}}

	reordered := models.PreferenceSnapshot{Age: &age, City: &city, ExcludedMerchants: []string{"B", "A"}}
	assert.False(t, PreferencesChanged(snapshot, reordered))

	otherAge, otherCity := 31, "LA"
	assert.True(t, PreferencesChanged(snapshot, models.PreferenceSnapshot{Age: &otherAge, City: &city, ExcludedMerchants: []string{"A", "B"}}))
	assert.True(t, PreferencesChanged(snapshot, models.PreferenceSnapshot{Age: &age, City: &otherCity, ExcludedMerchants: []string{"A", "B"}}))
	assert.True(t, PreferencesChanged(snapshot, models.PreferenceSnapshot{Age: &age, City: &city, ExcludedMerchants: []string{"A"}}))
	assert.True(t, PreferencesChanged(snapshot, models.PreferenceSnapshot{City: &city, ExcludedMerchants: []string{"A", "B"}}))
	assert.True(t, PreferencesChanged(nil, reordered))
}

func TestMergeAttachedBrands(t *testing.T) {
	existing := []models.AttachedBrandGroup{
		{MerchantName: "starbucks", Brands: []models.BrandEntity{{Name: "Old"}}},
		{MerchantName: "nike"},
	}
	fetched := []models.AttachedBrandGroup{
		{MerchantName: "Starbucks", Brands: []models.BrandEntity{{Name: "New"}}},
		{MerchantName: "trader joe's"},
	}

	merged := MergeAttachedBrands(existing, fetched, nil)
	require.Len(t, merged, 3)
	assert.Equal(t, "New", merged[0].Brands[0].Name)
	assert.Equal(t, "nike", merged[1].MerchantName)
	assert.Equal(t, "trader joe's", merged[2].MerchantName)
	assert.Equal(t, "Old", existing[0].Brands[0].Name)

	merged = MergeAttachedBrands(existing, fetched, []string{"Nike", " TRADER JOE'S "})
	require.Len(t, merged, 1)
	assert.Equal(t, "New", merged[0].Brands[0].Name)
}

func TestGetOrFetchAttachedBrands_ReadOrder(t *testing.T) {
	provider := &fakeQloo{brands: map[string][]models.BrandEntity{
		"m-1": {{Name: "Blue Bottle", EntityID: "b-1"}},
	}}
	bc, db := setup(t, provider)
	ctx := context.Background()

	brands, err := bc.GetOrFetchAttachedBrands(ctx, "m-1", "starbucks", Demographics{})
	require.NoError(t, err)
	require.Len(t, brands, 1)
	assert.Equal(t, []string{"m-1"}, provider.insightsCalls)
	assert.Equal(t, "35_and_younger", provider.lastBucket)
	assert.Equal(t, "New York", provider.lastCity)

	row, err := db.GetMerchantBrands(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "starbucks", row.MerchantName)

	// Front cache hit.
	_, err = bc.GetOrFetchAttachedBrands(ctx, "m-1", "starbucks", Demographics{})
	require.NoError(t, err)
	assert.Len(t, provider.insightsCalls, 1)

	// Store hit with a cold front cache.
	cold := New(db, cache.NewInMemoryCache(nil), provider, clock.NewFixed(testNow), DefaultOptions())
	brands, err = cold.GetOrFetchAttachedBrands(ctx, "m-1", "starbucks", Demographics{})
	require.NoError(t, err)
	assert.Equal(t, "Blue Bottle", brands[0].Name)
	assert.Len(t, provider.insightsCalls, 1)
}

func TestGetOrFetchAttachedBrands_UsesDemographics(t *testing.T) {
	provider := &fakeQloo{}
	bc, _ := setup(t, provider)
	age, city := 60, "Austin"

	_, err := bc.GetOrFetchAttachedBrands(context.Background(), "m-9", "rei", Demographics{Age: &age, City: &city})
	require.NoError(t, err)
	assert.Equal(t, "55_and_older", provider.lastBucket)
	assert.Equal(t, "Austin", provider.lastCity)
}

func TestGetOrFetchAttachedBrands_ProviderError(t *testing.T) {
	provider := &fakeQloo{failFor: map[string]bool{"m-1": true}}
	bc, db := setup(t, provider)

	_, err := bc.GetOrFetchAttachedBrands(context.Background(), "m-1", "starbucks", Demographics{})
	assert.True(t, errors.Is(err, apperrors.ErrProviderUnavailable))

	_, err = db.GetMerchantBrands(context.Background(), "m-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRefreshUserBrands(t *testing.T) {
	provider := &fakeQloo{
		ids: map[string]string{"starbucks": "m-1", "nike": "m-2", "target": "m-3"},
		brands: map[string][]models.BrandEntity{
			"m-1": {{Name: "Blue Bottle", EntityID: "b-1"}},
			"m-3": {{Name: "Hoka", EntityID: "b-3"}},
		},
		failFor: map[string]bool{"m-3": true},
	}
	bc, db := setup(t, provider)
	ctx := context.Background()

	user, _, err := db.UpsertUserByItemID(ctx, "item-1", "e", "t", testNow)
	require.NoError(t, err)
	require.NoError(t, db.UpdateUserProfile(ctx, user.ID, nil, nil, []string{"Uber"}, testNow))

	var txns []models.Transaction
	for i, name := range []string{"starbucks", "nike", "uber", "target", "starbucks", "unknown shop"} {
		txns = append(txns, models.Transaction{
			ID:           "t-" + string(rune('a'+i)),
			UserID:       user.ID,
			MerchantName: name,
			DisplayName:  name,
			Category:     "other",
			Amount:       decimal.NewFromInt(int64(10 + i)),
			Date:         "2025-10-1" + string(rune('0'+i)),
		})
	}
	require.NoError(t, db.ApplyTransactionSync(ctx, txns, nil))

	stale, err := bc.IsStale(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stale)

	profile, err := bc.RefreshUserBrands(ctx, user.ID)
	require.NoError(t, err)

	// nike has no brands and target failed, so only starbucks survives.
	require.Len(t, profile.AttachedBrands, 1)
	assert.Equal(t, "starbucks", profile.AttachedBrands[0].MerchantName)
	require.NotNil(t, profile.LastUpdated)
	assert.Equal(t, testNow, *profile.LastUpdated)
	require.NotNil(t, profile.Snapshot)
	assert.Equal(t, []string{"Uber"}, profile.Snapshot.ExcludedMerchants)
	assert.NotContains(t, provider.searchCalls, "uber")

	stale, err = bc.IsStale(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, stale)

	// Searches are memoized; only the merchant without an entity is searched again.
	searches := len(provider.searchCalls)
	_, err = bc.RefreshUserBrands(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, searches+1, len(provider.searchCalls))

	// Changing the exclusions makes the profile stale again.
	require.NoError(t, db.UpdateUserProfile(ctx, user.ID, nil, nil, []string{"Uber", "Nike"}, testNow))
	stale, err = bc.IsStale(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestRefreshUserBrands_DropsNewlyExcludedMerchant(t *testing.T) {
	provider := &fakeQloo{
		ids: map[string]string{"starbucks": "m-1", "nike": "m-2"},
		brands: map[string][]models.BrandEntity{
			"m-1": {{Name: "Blue Bottle", EntityID: "b-1"}},
			"m-2": {{Name: "Hoka", EntityID: "b-2"}},
		},
	}
	bc, db := setup(t, provider)
	ctx := context.Background()

	user, _, err := db.UpsertUserByItemID(ctx, "item-1", "e", "t", testNow)
	require.NoError(t, err)
	require.NoError(t, db.ApplyTransactionSync(ctx, []models.Transaction{
		{ID: "t-a", UserID: user.ID, MerchantName: "starbucks", DisplayName: "starbucks", Category: "other", Amount: decimal.NewFromInt(5), Date: "2025-10-10"},
		{ID: "t-b", UserID: user.ID, MerchantName: "nike", DisplayName: "nike", Category: "other", Amount: decimal.NewFromInt(90), Date: "2025-10-11"},
	}, nil))

	profile, err := bc.RefreshUserBrands(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, profile.AttachedBrands, 2)

	require.NoError(t, db.UpdateUserProfile(ctx, user.ID, nil, nil, []string{"Nike"}, testNow))
	stale, err := bc.IsStale(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stale)

	profile, err = bc.RefreshUserBrands(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, profile.AttachedBrands, 1)
	assert.Equal(t, "starbucks", profile.AttachedBrands[0].MerchantName)

	stale, err = bc.IsStale(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestRefreshUserBrands_UnknownUser(t *testing.T) {
	bc, _ := setup(t, &fakeQloo{})
	_, err := bc.RefreshUserBrands(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
