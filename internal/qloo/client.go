// Package qloo is the REST client for the Qloo cultural recommendation API.
package qloo

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/dhxmo/CultureQ/internal/httpclient"
	"github.com/dhxmo/CultureQ/internal/models"
)

const DefaultBaseURL = "https://hackathon.api.qloo.com"

// Provider is the subset of Qloo used by the brand cache.
type Provider interface {
	// Insights returns brands with an affinity to entityID for the given audience.
	Insights(ctx context.Context, entityID, ageBucket, city string) ([]models.BrandEntity, error)
	// Search resolves a brand name to an entity id. found is false when Qloo has no match.
	Search(ctx context.Context, name string) (entityID string, found bool, err error)
}

type Client struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
}

func NewClient(baseURL, apiKey string, cfg httpclient.Config) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    httpclient.New("qloo", cfg),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// AgeBucket maps an age to Qloo's demographic age signal.
func AgeBucket(age int) string {
	switch {
	case age <= 35:
		return "35_and_younger"
	case age <= 55:
		return "36_to_55"
	default:
		return "55_and_older"
	}
}

type insightsResponse struct {
	Results struct {
		Entities []struct {
			Name       string  `json:"name"`
			EntityID   string  `json:"entity_id"`
			Popularity float64 `json:"popularity"`
			Query      struct {
				Affinity     float64 `json:"affinity"`
				Measurements struct {
					AudienceGrowth float64 `json:"audience_growth"`
				} `json:"measurements"`
			} `json:"query"`
			Properties struct {
				ShortDescription string `json:"short_description"`
			} `json:"properties"`
		} `json:"entities"`
	} `json:"results"`
}

func (c *Client) Insights(ctx context.Context, entityID, ageBucket, city string) ([]models.BrandEntity, error) {
	q := url.Values{}
	q.Set("filter.type", "urn:entity:brand")
	q.Set("signal.interests.entities", entityID)
	q.Set("bias.trends", "high")
	q.Set("feature.explainability", "true")
	q.Set("signal.demographics.age", ageBucket)
	q.Set("signal.location.query", city)

	var resp insightsResponse
	if err := c.http.GetJSON(ctx, c.baseURL+"/v2/insights?"+q.Encode(), c.headers(), &resp); err != nil {
		return nil, fmt.Errorf("qloo insights for %s: %w", entityID, err)
	}

	brands := make([]models.BrandEntity, 0, len(resp.Results.Entities))
	for _, e := range resp.Results.Entities {
		brands = append(brands, models.BrandEntity{
			Name:             e.Name,
			EntityID:         e.EntityID,
			Popularity:       e.Popularity,
			Affinity:         e.Query.Affinity,
			AudienceGrowth:   e.Query.Measurements.AudienceGrowth,
			ShortDescription: e.Properties.ShortDescription,
		})
	}
	return brands, nil
}

type searchResponse struct {
	Results []struct {
		EntityID string `json:"entity_id"`
		Name     string `json:"name"`
	} `json:"results"`
}

func (c *Client) Search(ctx context.Context, name string) (string, bool, error) {
	q := url.Values{}
	q.Set("query", name)
	q.Set("types", "urn:entity:brand")

	var resp searchResponse
	if err := c.http.GetJSON(ctx, c.baseURL+"/search?"+q.Encode(), c.headers(), &resp); err != nil {
		return "", false, fmt.Errorf("qloo search for %q: %w", name, err)
	}

	if len(resp.Results) == 0 || resp.Results[0].EntityID == "" {
		return "", false, nil
	}
	return resp.Results[0].EntityID, true, nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Accept":    "application/json",
		"X-Api-Key": c.apiKey,
	}
}
