package matcher

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dhxmo/CultureQ/internal/apperrors"
	"github.com/dhxmo/CultureQ/internal/clock"
	"github.com/dhxmo/CultureQ/internal/llm"
	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	reply string
	err   error
	reqs  []llm.Request
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.reqs = append(f.reqs, req)
	return f.reply, f.err
}

var matchedAt = time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)

func testCatalog() []models.CatalogEntry {
	return BuildCatalog([]models.MerchantBrands{
		{
			MerchantEntityID: "m-1",
			MerchantName:     "Starbucks",
			Brands: []models.BrandEntity{
				{Name: "Blue Bottle", EntityID: "b-1", ShortDescription: "Specialty coffee"},
				{Name: "Peet's", EntityID: "b-2", ShortDescription: "Dark roast"},
			},
		},
		{
			MerchantEntityID: "m-2",
			MerchantName:     "Nike",
			Brands: []models.BrandEntity{
				{Name: "Hoka", EntityID: "b-3", ShortDescription: "Running shoes"},
			},
		},
	})
}

func newMatcher(reply string, strict bool) (*Matcher, *fakeLLM) {
	fake := &fakeLLM{reply: reply}
	opts := DefaultOptions()
	opts.Strict = strict
	return New(fake, clock.NewFixed(matchedAt), opts), fake
}

func userContext() models.UserContext {
	return models.UserContext{
		Insights: []string{"coffee lover", "runs marathons"},
		Summary:  "Coffee and running",
		ChatType: models.ChatTypeAspirationsBridge,
	}
}

func TestBuildCatalog(t *testing.T) {
	catalog := testCatalog()
	require.Len(t, catalog, 3)
	assert.Equal(t, models.CatalogEntry{
		Name: "Hoka", EntityID: "b-3", MerchantName: "Nike", Description: "Running shoes",
	}, catalog[2])
}

func TestMatchBrands_ScoreRange(t *testing.T) {
	reply := `[
		{"name":"Blue Bottle","entity_id":"b-1","matchScore":95,"matchReason":"coffee"},
		{"name":"Peet's","entity_id":"b-2","matchScore":59,"matchReason":"weak"},
		{"name":"Hoka","entity_id":"b-3","matchScore":120,"matchReason":"bogus"}
	]`
	m, _ := newMatcher(reply, true)

	matches, outcome, err := m.MatchBrands(context.Background(), userContext(), testCatalog())
	require.NoError(t, err)
	assert.Equal(t, models.ParseOutcomeParsed, outcome)
	require.Len(t, matches, 1)
	assert.Equal(t, "Blue Bottle", matches[0].Name)
	assert.Equal(t, matchedAt, matches[0].MatchedAt)

	for _, match := range matches {
		assert.GreaterOrEqual(t, match.MatchScore, MinScore)
		assert.LessOrEqual(t, match.MatchScore, MaxScore)
	}
}

func TestMatchBrands_StrictRejectsInventedIDs(t *testing.T) {
	reply := `[
		{"name":"Blue Bottle","entity_id":"b-1","merchantName":"Made Up","short_description":"wrong","matchScore":80},
		{"name":"Invented Brand","entity_id":"nope","merchantName":"Nowhere","matchScore":90}
	]`

	strict, _ := newMatcher(reply, true)
	matches, _, err := strict.MatchBrands(context.Background(), userContext(), testCatalog())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b-1", matches[0].EntityID)
	assert.Equal(t, "Starbucks", matches[0].MerchantName)
	assert.Equal(t, "Specialty coffee", matches[0].ShortDescription)

	lenient, _ := newMatcher(reply, false)
	matches, _, err = lenient.MatchBrands(context.Background(), userContext(), testCatalog())
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "Made Up", matches[0].MerchantName)
}

func TestMatchBrands_FractionalScoreKeepsOtherMatches(t *testing.T) {
	reply := `[
		{"name":"Blue Bottle","entity_id":"b-1","matchScore":90,"matchReason":"coffee"},
		{"name":"Hoka","entity_id":"b-3","matchScore":72.5,"matchReason":"running"}
	]`
	m, _ := newMatcher(reply, true)

	matches, outcome, err := m.MatchBrands(context.Background(), userContext(), testCatalog())
	require.NoError(t, err)
	assert.Equal(t, models.ParseOutcomeParsed, outcome)
	require.Len(t, matches, 2)
	assert.Equal(t, 90, matches[0].MatchScore)
	assert.Equal(t, 73, matches[1].MatchScore)
}

func TestMatchBrands_MalformedEntrySkipped(t *testing.T) {
	reply := `[
		{"name":"Blue Bottle","entity_id":"b-1","matchScore":90,"matchReason":"coffee"},
		{"name":"Hoka","entity_id":"b-3","matchScore":"high","matchReason":"running"},
		"Peet's"
	]`
	m, _ := newMatcher(reply, true)

	matches, outcome, err := m.MatchBrands(context.Background(), userContext(), testCatalog())
	require.NoError(t, err)
	assert.Equal(t, models.ParseOutcomeParsed, outcome)
	require.Len(t, matches, 1)
	assert.Equal(t, "Blue Bottle", matches[0].Name)
}

func TestMatchBrands_DedupesByName(t *testing.T) {
	reply := `[
		{"name":"Hoka","entity_id":"b-3","matchScore":70},
		{"name":"hoka","entity_id":"b-3","matchScore":90}
	]`
	m, _ := newMatcher(reply, false)

	matches, _, err := m.MatchBrands(context.Background(), userContext(), testCatalog())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 70, matches[0].MatchScore)
}

func TestMatchBrands_TruncatedOutputIsRepaired(t *testing.T) {
	reply := "```json\n[{\"name\":\"Hoka\",\"entity_id\":\"b-3\",\"matchScore\":88},{\"name\":\"Blue Bo"
	m, _ := newMatcher(reply, true)

	matches, outcome, err := m.MatchBrands(context.Background(), userContext(), testCatalog())
	require.NoError(t, err)
	assert.Equal(t, models.ParseOutcomeRepaired, outcome)
	require.Len(t, matches, 1)
	assert.Equal(t, "Hoka", matches[0].Name)
}

func TestMatchBrands_GarbageFallsBack(t *testing.T) {
	m, _ := newMatcher("I could not find any brands.", true)

	matches, outcome, err := m.MatchBrands(context.Background(), userContext(), testCatalog())
	require.NoError(t, err)
	assert.Equal(t, models.ParseOutcomeFallback, outcome)
	assert.Empty(t, matches)
}

func TestMatchBrands_ProviderError(t *testing.T) {
	m, fake := newMatcher("", true)
	fake.err = apperrors.ErrProviderUnavailable

	_, _, err := m.MatchBrands(context.Background(), userContext(), testCatalog())
	assert.True(t, errors.Is(err, apperrors.ErrProviderUnavailable))
}

func TestMatchBrands_EmptyCatalogSkipsCall(t *testing.T) {
	m, fake := newMatcher("[]", true)

	matches, _, err := m.MatchBrands(context.Background(), userContext(), nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Empty(t, fake.reqs)
}

func TestMatchBrands_PromptCarriesCatalog(t *testing.T) {
	m, fake := newMatcher("[]", true)

	_, _, err := m.MatchBrands(context.Background(), userContext(), testCatalog())
	require.NoError(t, err)
	require.Len(t, fake.reqs, 1)

	content := fake.reqs[0].Messages[0].Content
	assert.True(t, strings.HasPrefix(content, "User Context:\nExtracted Insights: coffee lover, runs marathons\n"))
	assert.Contains(t, content, "Brand: Hoka\nEntity ID: b-3\nMerchant: Nike\nDescription: Running shoes\n---")
	assert.Equal(t, 2000, fake.reqs[0].MaxTokens)
}
