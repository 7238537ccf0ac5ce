// Package offers resolves brand names to redeemable coupons and cashbacks,
// records redemptions, and manages campaigns for admins.
package offers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dhxmo/CultureQ/internal/apperrors"
	"github.com/dhxmo/CultureQ/internal/clock"
	"github.com/dhxmo/CultureQ/internal/metrics"
	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/dhxmo/CultureQ/internal/validation"
	"go.uber.org/zap"
)

// Store is the campaign persistence used by the resolver.
type Store interface {
	InsertCoupon(ctx context.Context, c models.Coupon) error
	UpdateCoupon(ctx context.Context, c models.Coupon) error
	DeleteCoupon(ctx context.Context, id string) error
	GetCoupon(ctx context.Context, id string) (models.Coupon, error)
	ListCoupons(ctx context.Context) ([]models.Coupon, error)
	ListActiveCoupons(ctx context.Context) ([]models.Coupon, error)

	InsertCashback(ctx context.Context, c models.Cashback) error
	UpdateCashback(ctx context.Context, c models.Cashback) error
	DeleteCashback(ctx context.Context, id string) error
	GetCashback(ctx context.Context, id string) (models.Cashback, error)
	ListCashbacks(ctx context.Context) ([]models.Cashback, error)
	ListActiveCashbacks(ctx context.Context) ([]models.Cashback, error)

	RecordUsage(ctx context.Context, kind models.CampaignKind, campaignID, userID string, amounts models.UsageAmounts, now time.Time) (models.UsageRecord, error)
	ListUsage(ctx context.Context, kind models.CampaignKind, campaignID string) ([]models.UsageRecord, error)
}

type Resolver struct {
	store Store
	clock clock.Clock
}

func NewResolver(store Store, clk clock.Clock) *Resolver {
	return &Resolver{store: store, clock: clk}
}

// FindOffers returns the usable coupons and cashbacks whose merchant name
// equals one of brandNames, ignoring case. Storage order is kept.
func (r *Resolver) FindOffers(ctx context.Context, brandNames []string) (models.OfferSet, error) {
	result := models.OfferSet{Coupons: []models.Coupon{}, Cashbacks: []models.Cashback{}}

	names := make(map[string]bool, len(brandNames))
	for _, n := range brandNames {
		if key := strings.ToLower(strings.TrimSpace(n)); key != "" {
			names[key] = true
		}
	}
	if len(names) == 0 {
		return result, nil
	}

	now := r.clock.Now()

	coupons, err := r.store.ListActiveCoupons(ctx)
	if err != nil {
		return models.OfferSet{}, fmt.Errorf("failed to load coupons: %w", err)
	}
	for _, c := range coupons {
		if eligible(c.Campaign, names, now) {
			result.Coupons = append(result.Coupons, c)
		}
	}

	cashbacks, err := r.store.ListActiveCashbacks(ctx)
	if err != nil {
		return models.OfferSet{}, fmt.Errorf("failed to load cashbacks: %w", err)
	}
	for _, c := range cashbacks {
		if eligible(c.Campaign, names, now) {
			result.Cashbacks = append(result.Cashbacks, c)
		}
	}

	return result, nil
}

func eligible(c models.Campaign, names map[string]bool, now time.Time) bool {
	return names[strings.ToLower(strings.TrimSpace(c.MerchantName))] && c.Usable(now)
}

// RecordUsage redeems one use of a campaign for userID.
func (r *Resolver) RecordUsage(ctx context.Context, kind models.CampaignKind, campaignID string, req models.RecordUsageRequest) (models.UsageRecord, error) {
	if err := validateKind(kind); err != nil {
		return models.UsageRecord{}, err
	}
	if err := validation.Required(req.UserID, "userId"); err != nil {
		return models.UsageRecord{}, err
	}
	if req.Benefit.IsNegative() {
		return models.UsageRecord{}, &validation.ValidationError{Field: "benefitAmount", Message: "must not be negative"}
	}
	if req.Order.IsNegative() {
		return models.UsageRecord{}, &validation.ValidationError{Field: "orderAmount", Message: "must not be negative"}
	}

	record, err := r.store.RecordUsage(ctx, kind, campaignID, validation.SanitizeString(req.UserID), req.UsageAmounts, r.clock.Now())
	if err != nil {
		metrics.RedemptionsTotal.WithLabelValues(string(kind), redemptionResult(err)).Inc()
		return models.UsageRecord{}, err
	}
	metrics.RedemptionsTotal.WithLabelValues(string(kind), "recorded").Inc()

	zap.L().Info("Recorded campaign usage",
		zap.String("kind", string(kind)),
		zap.String("campaign_id", campaignID),
		zap.String("user_id", record.UserID))

	return record, nil
}

func redemptionResult(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperrors.ErrNotUsable):
		return "not_usable"
	default:
		return "error"
	}
}

// CampaignAnalytics totals the recorded usage of one campaign.
func (r *Resolver) CampaignAnalytics(ctx context.Context, kind models.CampaignKind, campaignID string) (models.CampaignAnalytics, error) {
	var err error
	switch kind {
	case models.CampaignKindCoupon:
		_, err = r.store.GetCoupon(ctx, campaignID)
	case models.CampaignKindCashback:
		_, err = r.store.GetCashback(ctx, campaignID)
	default:
		err = validateKind(kind)
	}
	if err != nil {
		return models.CampaignAnalytics{}, err
	}

	records, err := r.store.ListUsage(ctx, kind, campaignID)
	if err != nil {
		return models.CampaignAnalytics{}, err
	}

	analytics := models.CampaignAnalytics{
		Kind:         kind,
		CampaignID:   campaignID,
		TotalUsage:   len(records),
		UsageRecords: records,
	}
	for _, rec := range records {
		analytics.TotalBenefit = analytics.TotalBenefit.Add(rec.BenefitAmount)
		analytics.TotalOrderValue = analytics.TotalOrderValue.Add(rec.OrderAmount)
	}
	return analytics, nil
}

func validateKind(kind models.CampaignKind) error {
	switch kind {
	case models.CampaignKindCoupon, models.CampaignKindCashback:
		return nil
	default:
		return &validation.ValidationError{Field: "kind", Message: "must be coupon or cashback"}
	}
}
