// Package matcher scores catalog brands against a user's extracted insights
// with a single model call and filters the result in code.
package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/dhxmo/CultureQ/internal/clock"
	"github.com/dhxmo/CultureQ/internal/llm"
	"github.com/dhxmo/CultureQ/internal/metrics"
	"github.com/dhxmo/CultureQ/internal/models"
	"go.uber.org/zap"
)

const (
	MinScore = 60
	MaxScore = 100
)

const systemPrompt = `You are a brand matching expert. Analyze the user's insights and match them with relevant brands from the provided list.

CRITICAL: Use the EXACT data from the brand list provided. Do not create new entity IDs, merchant names, or descriptions.

For each relevant brand, return a JSON array with this exact structure:
[
  {
    "name": "exact brand name from the list",
    "entity_id": "exact entity ID from the list",
    "merchantName": "exact merchant name from the list",
    "short_description": "exact description from the list",
    "matchScore": 85,
    "matchReason": "Specific reason why this brand matches the user's insights"
  }
]

Rules:
1. ONLY use brands that exist in the provided list
2. Copy the exact name, entity_id, merchantName and short_description from the list
3. Only include brands with matchScore >= 60
4. Do not include duplicate brands (same name)
5. Match based on the user's interests, preferences, goals and aspirations

Return ONLY the JSON array, no other text.`

type Options struct {
	MaxTokens   int
	Temperature float64
	// Strict rejects entries whose entity id is not in the catalog and takes
	// name, merchant and description from the catalog entry.
	Strict bool
}

func DefaultOptions() Options {
	return Options{MaxTokens: 2000, Temperature: 0.1, Strict: true}
}

type Matcher struct {
	provider llm.Provider
	clock    clock.Clock
	opts     Options
}

func New(provider llm.Provider, clk clock.Clock, opts Options) *Matcher {
	return &Matcher{provider: provider, clock: clk, opts: opts}
}

// WithStrict returns a copy of m with strict mode set.
func (m *Matcher) WithStrict(strict bool) *Matcher {
	c := *m
	c.opts.Strict = strict
	return &c
}

// candidate is one entry of the model's JSON array.
type candidate struct {
	Name             string  `json:"name"`
	EntityID         string  `json:"entity_id"`
	MerchantName     string  `json:"merchantName"`
	ShortDescription string  `json:"short_description"`
	MatchScore       float64 `json:"matchScore"`
	MatchReason      string  `json:"matchReason"`
}

// BuildCatalog flattens every merchant's attached brands into the matcher catalog.
func BuildCatalog(rows []models.MerchantBrands) []models.CatalogEntry {
	var catalog []models.CatalogEntry
	for _, row := range rows {
		for _, b := range row.Brands {
			catalog = append(catalog, models.CatalogEntry{
				Name:         b.Name,
				EntityID:     b.EntityID,
				MerchantName: row.MerchantName,
				Description:  b.ShortDescription,
			})
		}
	}
	return catalog
}

// MatchBrands returns the catalog brands the model scored at or above
// MinScore. Unparseable output yields no matches and ParseOutcomeFallback;
// only provider failures are returned as errors.
func (m *Matcher) MatchBrands(ctx context.Context, uc models.UserContext, catalog []models.CatalogEntry) ([]models.MatchedBrand, models.ParseOutcome, error) {
	if len(catalog) == 0 {
		return nil, models.ParseOutcomeParsed, nil
	}

	raw, err := m.provider.Complete(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: buildUserContent(uc, catalog)},
		},
		MaxTokens:   m.opts.MaxTokens,
		Temperature: m.opts.Temperature,
	})
	if err != nil {
		return nil, "", fmt.Errorf("brand matching: %w", err)
	}

	var elements []json.RawMessage
	outcome, err := llm.ParseArray(raw, &elements)
	metrics.ParseOutcomes.WithLabelValues("matching", string(outcome)).Inc()
	if err != nil {
		zap.L().Warn("Failed to parse brand matches",
			zap.String("chat_type", string(uc.ChatType)),
			zap.Error(err))
		return nil, models.ParseOutcomeFallback, nil
	}

	return m.filter(decodeCandidates(elements), catalog), outcome, nil
}

// decodeCandidates decodes each array element on its own so one malformed
// entry does not discard the rest.
func decodeCandidates(elements []json.RawMessage) []candidate {
	candidates := make([]candidate, 0, len(elements))
	for i, el := range elements {
		var c candidate
		if err := json.Unmarshal(el, &c); err != nil {
			zap.L().Debug("Skipping malformed match entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates
}

func (m *Matcher) filter(candidates []candidate, catalog []models.CatalogEntry) []models.MatchedBrand {
	byID := make(map[string]models.CatalogEntry, len(catalog))
	for _, e := range catalog {
		byID[e.EntityID] = e
	}

	now := m.clock.Now()
	seen := make(map[string]bool)
	matches := make([]models.MatchedBrand, 0, len(candidates))

	for _, c := range candidates {
		if c.MatchScore < MinScore || c.MatchScore > MaxScore {
			continue
		}

		match := models.MatchedBrand{
			Name:             strings.TrimSpace(c.Name),
			EntityID:         strings.TrimSpace(c.EntityID),
			MerchantName:     c.MerchantName,
			ShortDescription: c.ShortDescription,
			MatchScore:       int(math.Round(c.MatchScore)),
			MatchReason:      c.MatchReason,
			MatchedAt:        now,
		}

		if m.opts.Strict {
			entry, ok := byID[match.EntityID]
			if !ok {
				zap.L().Debug("Dropping match with unknown entity id",
					zap.String("name", match.Name),
					zap.String("entity_id", match.EntityID))
				continue
			}
			match.Name = entry.Name
			match.MerchantName = entry.MerchantName
			match.ShortDescription = entry.Description
		}

		key := strings.ToLower(match.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		matches = append(matches, match)
	}
	return matches
}

func buildUserContent(uc models.UserContext, catalog []models.CatalogEntry) string {
	var b strings.Builder
	b.WriteString("User Context:\n")
	fmt.Fprintf(&b, "Extracted Insights: %s\n", strings.Join(uc.Insights, ", "))
	fmt.Fprintf(&b, "Summary: %s\n", uc.Summary)
	fmt.Fprintf(&b, "Chat Type: %s\n\n", uc.ChatType)
	b.WriteString("Available Brands (use EXACT data from this list):\n")
	for _, e := range catalog {
		fmt.Fprintf(&b, "Brand: %s\nEntity ID: %s\nMerchant: %s\nDescription: %s\n---\n",
			e.Name, e.EntityID, e.MerchantName, e.Description)
	}
	return b.String()
}
