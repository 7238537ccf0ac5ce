package service

import (
	"context"
	"sort"

	"github.com/dhxmo/CultureQ/internal/brandcache"
	"github.com/dhxmo/CultureQ/internal/events"
	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/dhxmo/CultureQ/internal/profile"
	"github.com/dhxmo/CultureQ/internal/validation"
	"go.opentelemetry.io/otel/attribute"
)

// QlooCacheStatus reports whether the user's attached brands are stale and
// returns the brands currently stored.
func (s *Service) QlooCacheStatus(ctx context.Context, userID string) (models.QlooCacheStatus, error) {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return models.QlooCacheStatus{}, err
	}

	status := models.QlooCacheStatus{
		Stale:          brandcache.ProfileStale(user, s.clock.Now()),
		AttachedBrands: []models.AttachedBrandGroup{},
	}
	if user.TasteProfile != nil {
		status.LastUpdated = user.TasteProfile.LastUpdated
		if user.TasteProfile.AttachedBrands != nil {
			status.AttachedBrands = user.TasteProfile.AttachedBrands
		}
	}
	return status, nil
}

// RefreshAttachedBrands refetches attached brands for the user's merchants.
func (s *Service) RefreshAttachedBrands(ctx context.Context, userID string) (tp models.TasteProfile, err error) {
	ctx, span := s.tracer.Start(ctx, "Service.RefreshAttachedBrands")
	span.SetAttributes(attribute.String("user_id", userID))
	defer func() { endSpan(span, err) }()

	if _, err := s.requireUser(ctx, userID); err != nil {
		return models.TasteProfile{}, err
	}

	tp, err = s.brands.RefreshUserBrands(ctx, userID)
	if err != nil {
		return models.TasteProfile{}, err
	}

	s.events.PublishBrandsRefreshed(ctx, events.BrandsRefreshedData{
		UserID:    userID,
		Merchants: len(tp.AttachedBrands),
	})
	return tp, nil
}

// GetUserMatchedBrands returns every brand matched across the user's
// conversations, best score first and newest first among equal scores.
func (s *Service) GetUserMatchedBrands(ctx context.Context, userID string) ([]models.UserMatchedBrand, error) {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	convs, err := s.db.ListConversations(ctx, userID, "", false, 0)
	if err != nil {
		return nil, err
	}

	brands := []models.UserMatchedBrand{}
	for _, c := range convs {
		for _, m := range c.MatchedBrands {
			brands = append(brands, models.UserMatchedBrand{
				MatchedBrand:   m,
				ConversationID: c.ID,
				ChatType:       c.ChatType,
			})
		}
	}

	sort.SliceStable(brands, func(i, j int) bool {
		if brands[i].MatchScore != brands[j].MatchScore {
			return brands[i].MatchScore > brands[j].MatchScore
		}
		return brands[i].MatchedAt.After(brands[j].MatchedAt)
	})
	return brands, nil
}

// GetUserMerchantPreferences returns the lower-cased merchant preferences
// extracted from the user's completed conversations.
func (s *Service) GetUserMerchantPreferences(ctx context.Context, userID string) ([]string, error) {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	convs, err := s.db.ListConversations(ctx, userID, "", true, 0)
	if err != nil {
		return nil, err
	}

	var extractions []models.Extraction
	for _, c := range convs {
		if c.Extraction != nil {
			extractions = append(extractions, *c.Extraction)
		}
	}
	return profile.MerchantPreferences(extractions), nil
}

// GetUserOffers resolves offers for the user's matched brand names and
// merchant preferences.
func (s *Service) GetUserOffers(ctx context.Context, userID string) (models.OfferSet, error) {
	matched, err := s.GetUserMatchedBrands(ctx, userID)
	if err != nil {
		return models.OfferSet{}, err
	}
	prefs, err := s.GetUserMerchantPreferences(ctx, userID)
	if err != nil {
		return models.OfferSet{}, err
	}

	names := make([]string, 0, len(matched)+len(prefs))
	for _, m := range matched {
		names = append(names, m.Name)
	}
	names = append(names, prefs...)

	return s.offers.FindOffers(ctx, names)
}

func (s *Service) FindOffers(ctx context.Context, req models.FindOffersRequest) (models.OfferSet, error) {
	if len(req.BrandNames) > 500 {
		return models.OfferSet{}, &validation.ValidationError{Field: "brandNames", Message: "must have at most 500 entries"}
	}
	return s.offers.FindOffers(ctx, validation.SanitizeStrings(req.BrandNames))
}

// RecordUsage redeems a campaign and publishes the usage event.
func (s *Service) RecordUsage(ctx context.Context, kind models.CampaignKind, campaignID string, req models.RecordUsageRequest) (models.UsageRecord, error) {
	record, err := s.offers.RecordUsage(ctx, kind, campaignID, req)
	if err != nil {
		return models.UsageRecord{}, err
	}
	s.events.PublishUsageRecorded(ctx, record)
	return record, nil
}
