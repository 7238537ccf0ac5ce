// Package brandcache resolves the brands the recommendation provider
// attaches to a merchant. Results are cached per merchant with no expiry and
// copied into each user's TasteProfile, whose staleness is tracked separately.
package brandcache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dhxmo/CultureQ/internal/apperrors"
	"github.com/dhxmo/CultureQ/internal/cache"
	"github.com/dhxmo/CultureQ/internal/clock"
	"github.com/dhxmo/CultureQ/internal/ingestion"
	"github.com/dhxmo/CultureQ/internal/metrics"
	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/dhxmo/CultureQ/internal/qloo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxProfileAge is how long a user's attached brands stay fresh.
const MaxProfileAge = 7 * 24 * time.Hour

// Store is the persistence the cache needs.
type Store interface {
	GetUser(ctx context.Context, id string) (models.User, error)
	UpdateTasteProfile(ctx context.Context, id string, profile models.TasteProfile, now time.Time) error
	ListUserMerchantNames(ctx context.Context, userID string) ([]string, error)
	GetMerchantBrands(ctx context.Context, merchantEntityID string) (models.MerchantBrands, error)
	UpsertMerchantBrands(ctx context.Context, mb models.MerchantBrands) error
	FindQlooEntityByName(ctx context.Context, name string) (models.QlooEntity, error)
	UpsertQlooEntity(ctx context.Context, entity models.QlooEntity) error
}

// Demographics are the provider inputs for one lookup.
type Demographics struct {
	Age  *int
	City *string
}

type Options struct {
	DefaultAge  int
	DefaultCity string
	Concurrency int
}

func DefaultOptions() Options {
	return Options{DefaultAge: 28, DefaultCity: "New York", Concurrency: 4}
}

type Cache struct {
	store    Store
	front    cache.Cache
	provider qloo.Provider
	clock    clock.Clock
	opts     Options
}

func New(store Store, front cache.Cache, provider qloo.Provider, clk clock.Clock, opts Options) *Cache {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Cache{store: store, front: front, provider: provider, clock: clk, opts: opts}
}

// GetOrFetchAttachedBrands returns the brands attached to a merchant. A
// cached list is returned as is; only a miss in both the front cache and the
// store calls the provider.
func (c *Cache) GetOrFetchAttachedBrands(ctx context.Context, merchantEntityID, merchantName string, demo Demographics) ([]models.BrandEntity, error) {
	key := cache.MerchantBrandsKey(merchantEntityID)

	var brands []models.BrandEntity
	err := cache.GetJSON(ctx, c.front, key, &brands)
	switch {
	case err == nil:
		metrics.BrandCacheLookups.WithLabelValues("front").Inc()
		return brands, nil
	case !errors.Is(err, cache.ErrNotFound):
		zap.L().Warn("Front cache read failed", zap.String("key", key), zap.Error(err))
	}

	row, err := c.store.GetMerchantBrands(ctx, merchantEntityID)
	switch {
	case err == nil:
		metrics.BrandCacheLookups.WithLabelValues("store").Inc()
		c.fill(ctx, key, row.Brands)
		return row.Brands, nil
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, fmt.Errorf("failed to read merchant brands: %w", err)
	}

	age, city := c.resolve(demo)
	brands, err = c.provider.Insights(ctx, merchantEntityID, qloo.AgeBucket(age), city)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch brands for %s: %w", merchantName, err)
	}
	metrics.BrandCacheLookups.WithLabelValues("provider").Inc()
	if brands == nil {
		brands = []models.BrandEntity{}
	}

	if err := c.store.UpsertMerchantBrands(ctx, models.MerchantBrands{
		MerchantEntityID: merchantEntityID,
		MerchantName:     merchantName,
		Brands:           brands,
		UpdatedAt:        c.clock.Now(),
	}); err != nil {
		return nil, fmt.Errorf("failed to store merchant brands: %w", err)
	}
	c.fill(ctx, key, brands)

	return brands, nil
}

func (c *Cache) fill(ctx context.Context, key string, brands []models.BrandEntity) {
	if err := cache.SetJSON(ctx, c.front, key, brands, 0); err != nil {
		zap.L().Warn("Front cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) resolve(demo Demographics) (int, string) {
	age, city := c.opts.DefaultAge, c.opts.DefaultCity
	if demo.Age != nil {
		age = *demo.Age
	}
	if demo.City != nil && strings.TrimSpace(*demo.City) != "" {
		city = *demo.City
	}
	return age, city
}

// IsStale reports whether the user's attached brands need a refresh.
func (c *Cache) IsStale(ctx context.Context, userID string) (bool, error) {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return ProfileStale(user, c.clock.Now()), nil
}

// ProfileStale is true when the user has no profile, the profile expired, or
// the demographic inputs changed since the last fetch.
func ProfileStale(user models.User, now time.Time) bool {
	if user.TasteProfile == nil {
		return true
	}
	if IsExpired(user.TasteProfile.LastUpdated, now) {
		return true
	}
	return PreferencesChanged(user.TasteProfile.Snapshot, CurrentSnapshot(user))
}

// IsExpired reports whether lastFetch is missing or older than MaxProfileAge.
func IsExpired(lastFetch *time.Time, now time.Time) bool {
	if lastFetch == nil {
		return true
	}
	return now.Sub(*lastFetch) > MaxProfileAge
}

// CurrentSnapshot captures the user's current demographic inputs with the
// excluded merchants sorted.
func CurrentSnapshot(user models.User) models.PreferenceSnapshot {
	excluded := slices.Clone(user.ExcludedMerchants)
	if excluded == nil {
		excluded = []string{}
	}
	sort.Strings(excluded)
	return models.PreferenceSnapshot{
		Age:               user.Age,
		City:              user.City,
		ExcludedMerchants: excluded,
	}
}

// PreferencesChanged compares age, city and the sorted excluded merchants.
// A missing snapshot always counts as changed.
func PreferencesChanged(snapshot *models.PreferenceSnapshot, current models.PreferenceSnapshot) bool {
	if snapshot == nil {
		return true
	}
	if !equalPtr(snapshot.Age, current.Age) || !equalPtr(snapshot.City, current.City) {
		return true
	}

	a := slices.Clone(snapshot.ExcludedMerchants)
	b := slices.Clone(current.ExcludedMerchants)
	sort.Strings(a)
	sort.Strings(b)
	return !slices.Equal(a, b)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// RefreshUserBrands fetches attached brands for every merchant the user has
// transacted with, excluding the merchants they opted out of, and merges the
// groups into their TasteProfile. A merchant that cannot be resolved or
// fetched is logged and skipped.
func (c *Cache) RefreshUserBrands(ctx context.Context, userID string) (models.TasteProfile, error) {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return models.TasteProfile{}, err
	}

	names, err := c.store.ListUserMerchantNames(ctx, userID)
	if err != nil {
		return models.TasteProfile{}, fmt.Errorf("failed to list merchants: %w", err)
	}
	names = ingestion.ExcludeMerchants(ingestion.DedupeMerchants(names), user.ExcludedMerchants)

	demo := Demographics{Age: user.Age, City: user.City}
	groups := make([]*models.AttachedBrandGroup, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			group, err := c.merchantGroup(gctx, name, demo)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				zap.L().Warn("Skipping merchant during brand refresh",
					zap.String("user_id", userID),
					zap.String("merchant", name),
					zap.Error(err))
				return nil
			}
			groups[i] = group
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.TasteProfile{}, fmt.Errorf("brand refresh cancelled: %w", err)
	}

	var fetched []models.AttachedBrandGroup
	for _, group := range groups {
		if group != nil {
			fetched = append(fetched, *group)
		}
	}

	var profile models.TasteProfile
	if user.TasteProfile != nil {
		profile = *user.TasteProfile
	}
	now := c.clock.Now()
	snapshot := CurrentSnapshot(user)
	profile.AttachedBrands = MergeAttachedBrands(profile.AttachedBrands, fetched, user.ExcludedMerchants)
	profile.Snapshot = &snapshot
	profile.LastUpdated = &now

	if err := c.store.UpdateTasteProfile(ctx, userID, profile, now); err != nil {
		return models.TasteProfile{}, fmt.Errorf("failed to save taste profile: %w", err)
	}

	zap.L().Info("Refreshed attached brands",
		zap.String("user_id", userID),
		zap.Int("merchants", len(names)),
		zap.Int("groups", len(fetched)))

	return profile, nil
}

// merchantGroup returns nil, nil when the merchant is unknown to the provider
// or has no attached brands.
func (c *Cache) merchantGroup(ctx context.Context, name string, demo Demographics) (*models.AttachedBrandGroup, error) {
	entityID, found, err := c.resolveEntity(ctx, name)
	if err != nil || !found {
		return nil, err
	}

	brands, err := c.GetOrFetchAttachedBrands(ctx, entityID, name, demo)
	if err != nil {
		return nil, err
	}
	if len(brands) == 0 {
		return nil, nil
	}
	return &models.AttachedBrandGroup{MerchantName: name, Brands: brands}, nil
}

// resolveEntity maps a merchant name to a provider entity id, memoizing
// successful searches.
func (c *Cache) resolveEntity(ctx context.Context, name string) (string, bool, error) {
	entity, err := c.store.FindQlooEntityByName(ctx, name)
	if err == nil {
		return entity.EntityID, true, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return "", false, err
	}

	entityID, found, err := c.provider.Search(ctx, name)
	if err != nil || !found {
		return "", false, err
	}

	if err := c.store.UpsertQlooEntity(ctx, models.QlooEntity{
		EntityID:  entityID,
		Name:      name,
		CreatedAt: c.clock.Now(),
	}); err != nil {
		zap.L().Warn("Failed to memoize entity search", zap.String("merchant", name), zap.Error(err))
	}
	return entityID, true, nil
}

// MergeAttachedBrands replaces groups whose merchant already exists and
// appends new merchants, keeping existing order. Existing groups for excluded
// merchants are dropped.
func MergeAttachedBrands(existing, fetched []models.AttachedBrandGroup, excluded []string) []models.AttachedBrandGroup {
	skip := make(map[string]bool, len(excluded))
	for _, e := range excluded {
		skip[strings.ToLower(strings.TrimSpace(e))] = true
	}

	merged := make([]models.AttachedBrandGroup, 0, len(existing)+len(fetched))
	index := make(map[string]int, len(existing))
	for _, g := range existing {
		key := strings.ToLower(strings.TrimSpace(g.MerchantName))
		if skip[key] {
			continue
		}
		index[key] = len(merged)
		merged = append(merged, g)
	}

	for _, g := range fetched {
		key := strings.ToLower(strings.TrimSpace(g.MerchantName))
		if skip[key] {
			continue
		}
		if i, ok := index[key]; ok {
			merged[i] = g
			continue
		}
		index[key] = len(merged)
		merged = append(merged, g)
	}
	return merged
}
