package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CampaignKind distinguishes coupons from cashbacks in shared tables.
type CampaignKind string

const (
	CampaignKindCoupon   CampaignKind = "coupon"
	CampaignKindCashback CampaignKind = "cashback"
)

// Campaign holds the fields shared by coupons and cashbacks.
type Campaign struct {
	ID           string    `json:"id"`
	Title        string    `json:"title" validate:"required,max=200"`
	Description  string    `json:"description" validate:"max=2000"`
	MerchantName string    `json:"merchantName" validate:"required,max=200"`
	ValidFrom    time.Time `json:"validFrom" validate:"required"`
	ValidUntil   time.Time `json:"validUntil" validate:"required,gtfield=ValidFrom"`
	UsageLimit   *int      `json:"usageLimit,omitempty" validate:"omitempty,gt=0"`
	UsageCount   int       `json:"usageCount"`
	IsActive     bool      `json:"isActive"`
	CreatedBy    string    `json:"createdBy" validate:"required"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// InWindow reports validFrom <= now <= validUntil.
func (c Campaign) InWindow(now time.Time) bool {
	return !now.Before(c.ValidFrom) && !now.After(c.ValidUntil)
}

// HasCapacity reports whether the usage limit is unset or not yet reached.
func (c Campaign) HasCapacity() bool {
	return c.UsageLimit == nil || c.UsageCount < *c.UsageLimit
}

// Usable reports whether the campaign can be redeemed at now.
func (c Campaign) Usable(now time.Time) bool {
	return c.IsActive && c.InWindow(now) && c.HasCapacity()
}

type Coupon struct {
	Campaign
	Code              string              `json:"code" validate:"required,max=64"`
	DiscountType      string              `json:"discountType" validate:"required,oneof=percentage fixed_amount"`
	DiscountValue     decimal.Decimal     `json:"discountValue"`
	MinSpendAmount    decimal.NullDecimal `json:"minSpendAmount"`
	MaxDiscountAmount decimal.NullDecimal `json:"maxDiscountAmount"`
}

type Cashback struct {
	Campaign
	CashbackRate      decimal.Decimal     `json:"cashbackRate"`
	MinSpendAmount    decimal.NullDecimal `json:"minSpendAmount"`
	MaxCashbackAmount decimal.NullDecimal `json:"maxCashbackAmount"`
}

// UsageAmounts are the amounts recorded with one redemption.
type UsageAmounts struct {
	Benefit decimal.Decimal `json:"benefitAmount"`
	Order   decimal.Decimal `json:"orderAmount"`
}

// UsageRecord is an immutable log entry of one redemption.
type UsageRecord struct {
	ID            string          `json:"id"`
	Kind          CampaignKind    `json:"kind"`
	CampaignID    string          `json:"campaignId"`
	UserID        string          `json:"userId"`
	UsedAt        time.Time       `json:"usedAt"`
	BenefitAmount decimal.Decimal `json:"benefitAmount"`
	OrderAmount   decimal.Decimal `json:"orderAmount"`
}

// OfferSet is the result of resolving brand names to campaigns.
type OfferSet struct {
	Coupons   []Coupon   `json:"coupons"`
	Cashbacks []Cashback `json:"cashbacks"`
}

// CampaignAnalytics summarizes the usage of one campaign.
type CampaignAnalytics struct {
	Kind            CampaignKind    `json:"kind"`
	CampaignID      string          `json:"campaignId"`
	TotalUsage      int             `json:"totalUsage"`
	TotalBenefit    decimal.Decimal `json:"totalBenefit"`
	TotalOrderValue decimal.Decimal `json:"totalOrderValue"`
	UsageRecords    []UsageRecord   `json:"usageRecords"`
}
