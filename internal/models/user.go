package models

import "time"

// User is created on the first successful bank link and never hard-deleted.
type User struct {
	ID                   string        `json:"id"`
	PlaidItemID          string        `json:"plaidItemId"`
	EncryptedEmail       string        `json:"-"`
	EncryptedAccessToken string        `json:"-"`
	Age                  *int          `json:"age,omitempty"`
	City                 *string       `json:"city,omitempty"`
	ExcludedMerchants    []string      `json:"excludedMerchants"`
	TasteProfile         *TasteProfile `json:"tasteProfile,omitempty"`
	LastTransactionSync  *time.Time    `json:"lastTransactionSync,omitempty"`
	CreatedAt            time.Time     `json:"createdAt"`
	UpdatedAt            time.Time     `json:"updatedAt"`
}

// TasteProfile is owned 1:1 by a User. Tag lists are replaced on refresh;
// AttachedBrands is merged per merchant.
type TasteProfile struct {
	Interests      []string             `json:"interests"`
	Preferences    []string             `json:"preferences"`
	Aspirations    []string             `json:"aspirations"`
	Lifestyle      []string             `json:"lifestyle"`
	AttachedBrands []AttachedBrandGroup `json:"attachedBrands,omitempty"`
	Snapshot       *PreferenceSnapshot  `json:"snapshot,omitempty"`
	LastUpdated    *time.Time           `json:"lastUpdated,omitempty"`
}

// PreferenceSnapshot records the demographic inputs in effect when attached
// brands were last fetched for a user.
type PreferenceSnapshot struct {
	Age               *int     `json:"age,omitempty"`
	City              *string  `json:"city,omitempty"`
	ExcludedMerchants []string `json:"excludedMerchants"`
}

// BrandEntity is one recommendation-provider result.
type BrandEntity struct {
	Name             string  `json:"name"`
	EntityID         string  `json:"entityId"`
	Popularity       float64 `json:"popularity"`
	Affinity         float64 `json:"affinity"`
	AudienceGrowth   float64 `json:"audienceGrowth"`
	ShortDescription string  `json:"shortDescription"`
}

// AttachedBrandGroup holds the brands attached to one merchant.
type AttachedBrandGroup struct {
	MerchantName string        `json:"merchantName"`
	Brands       []BrandEntity `json:"brands"`
}

// MerchantBrands is the merchant-level cache row, one per merchant entity id.
type MerchantBrands struct {
	MerchantEntityID string        `json:"merchantEntityId"`
	MerchantName     string        `json:"merchantName"`
	Brands           []BrandEntity `json:"brands"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// QlooEntity memoizes a name search against the recommendation provider.
type QlooEntity struct {
	EntityID  string    `json:"entityId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
