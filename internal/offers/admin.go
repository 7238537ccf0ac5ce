package offers

import (
	"context"
	"strings"

	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/dhxmo/CultureQ/internal/validation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

func (r *Resolver) CreateCoupon(ctx context.Context, c models.Coupon) (models.Coupon, error) {
	now := r.clock.Now()
	c.ID = uuid.New().String()
	c.UsageCount = 0
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := validateCoupon(&c); err != nil {
		return models.Coupon{}, err
	}
	if err := r.store.InsertCoupon(ctx, c); err != nil {
		return models.Coupon{}, err
	}
	return c, nil
}

// UpdateCoupon replaces the editable fields of an existing coupon. The id,
// usage count, creator and creation time are kept.
func (r *Resolver) UpdateCoupon(ctx context.Context, id string, c models.Coupon) (models.Coupon, error) {
	existing, err := r.store.GetCoupon(ctx, id)
	if err != nil {
		return models.Coupon{}, err
	}

	c.ID = existing.ID
	c.UsageCount = existing.UsageCount
	c.CreatedAt = existing.CreatedAt
	if strings.TrimSpace(c.CreatedBy) == "" {
		c.CreatedBy = existing.CreatedBy
	}
	c.UpdatedAt = r.clock.Now()

	if err := validateCoupon(&c); err != nil {
		return models.Coupon{}, err
	}
	if err := r.store.UpdateCoupon(ctx, c); err != nil {
		return models.Coupon{}, err
	}
	return c, nil
}

func (r *Resolver) DeleteCoupon(ctx context.Context, id string) error {
	return r.store.DeleteCoupon(ctx, id)
}

func (r *Resolver) GetCoupon(ctx context.Context, id string) (models.Coupon, error) {
	return r.store.GetCoupon(ctx, id)
}

func (r *Resolver) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	return r.store.ListCoupons(ctx)
}

func (r *Resolver) CreateCashback(ctx context.Context, c models.Cashback) (models.Cashback, error) {
	now := r.clock.Now()
	c.ID = uuid.New().String()
	c.UsageCount = 0
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := validateCashback(&c); err != nil {
		return models.Cashback{}, err
	}
	if err := r.store.InsertCashback(ctx, c); err != nil {
		return models.Cashback{}, err
	}
	return c, nil
}

func (r *Resolver) UpdateCashback(ctx context.Context, id string, c models.Cashback) (models.Cashback, error) {
	existing, err := r.store.GetCashback(ctx, id)
	if err != nil {
		return models.Cashback{}, err
	}

	c.ID = existing.ID
	c.UsageCount = existing.UsageCount
	c.CreatedAt = existing.CreatedAt
	if strings.TrimSpace(c.CreatedBy) == "" {
		c.CreatedBy = existing.CreatedBy
	}
	c.UpdatedAt = r.clock.Now()

	if err := validateCashback(&c); err != nil {
		return models.Cashback{}, err
	}
	if err := r.store.UpdateCashback(ctx, c); err != nil {
		return models.Cashback{}, err
	}
	return c, nil
}

func (r *Resolver) DeleteCashback(ctx context.Context, id string) error {
	return r.store.DeleteCashback(ctx, id)
}

func (r *Resolver) GetCashback(ctx context.Context, id string) (models.Cashback, error) {
	return r.store.GetCashback(ctx, id)
}

func (r *Resolver) ListCashbacks(ctx context.Context) ([]models.Cashback, error) {
	return r.store.ListCashbacks(ctx)
}

func sanitizeCampaign(c *models.Campaign) {
	c.Title = validation.SanitizeString(c.Title)
	c.Description = validation.SanitizeString(c.Description)
	c.MerchantName = validation.SanitizeString(c.MerchantName)
	c.CreatedBy = validation.SanitizeString(c.CreatedBy)
	c.ValidFrom = c.ValidFrom.UTC()
	c.ValidUntil = c.ValidUntil.UTC()
}

func validateCoupon(c *models.Coupon) error {
	sanitizeCampaign(&c.Campaign)
	c.Code = validation.SanitizeString(c.Code)

	if err := validation.Struct(c); err != nil {
		return err
	}
	if !c.DiscountValue.IsPositive() {
		return &validation.ValidationError{Field: "discountValue", Message: "must be greater than 0"}
	}
	if c.DiscountType == "percentage" && c.DiscountValue.GreaterThan(hundred) {
		return &validation.ValidationError{Field: "discountValue", Message: "must be at most 100 for percentage discounts"}
	}
	if err := nonNegative(c.MinSpendAmount, "minSpendAmount"); err != nil {
		return err
	}
	return nonNegative(c.MaxDiscountAmount, "maxDiscountAmount")
}

func validateCashback(c *models.Cashback) error {
	sanitizeCampaign(&c.Campaign)

	if err := validation.Struct(c); err != nil {
		return err
	}
	if !c.CashbackRate.IsPositive() || c.CashbackRate.GreaterThan(hundred) {
		return &validation.ValidationError{Field: "cashbackRate", Message: "must be greater than 0 and at most 100"}
	}
	if err := nonNegative(c.MinSpendAmount, "minSpendAmount"); err != nil {
		return err
	}
	return nonNegative(c.MaxCashbackAmount, "maxCashbackAmount")
}

func nonNegative(d decimal.NullDecimal, field string) error {
	if d.Valid && d.Decimal.IsNegative() {
		return &validation.ValidationError{Field: field, Message: "must not be negative"}
	}
	return nil
}
