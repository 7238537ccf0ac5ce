package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func TestInMemoryCache_TTL(t *testing.T) {
	clk := &stepClock{now: time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)}
	c := NewInMemoryCache(clk)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("a"), time.Minute))
	require.NoError(t, c.Set(ctx, "forever", []byte("b"), 0))

	clk.now = clk.now.Add(2 * time.Minute)

	_, err := c.Get(ctx, "short")
	assert.True(t, errors.Is(err, ErrNotFound))

	val, err := c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), val)
}

func TestInMemoryCache_DeleteAndClear(t *testing.T) {
	c := NewInMemoryCache(nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))

	require.NoError(t, c.Delete(ctx, "a"))
	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Clear(ctx))
	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJSONHelpers(t *testing.T) {
	c := NewInMemoryCache(nil)
	ctx := context.Background()
	key := MerchantBrandsKey("m-1")
	assert.Equal(t, "merchant_brands:m-1", key)

	brands := []models.BrandEntity{{Name: "Hoka", EntityID: "b-3", Affinity: 0.8}}
	require.NoError(t, SetJSON(ctx, c, key, brands, 0))

	var got []models.BrandEntity
	require.NoError(t, GetJSON(ctx, c, key, &got))
	assert.Equal(t, brands, got)
}
