package models

import (
	"strings"
	"time"
)

// ChatType selects the chat prompt, the extraction schema and whether brand
// matching runs.
type ChatType string

const (
	ChatTypeAspirationsBridge ChatType = "aspirations_bridge"
	ChatTypeCouponRequest     ChatType = "coupon_request"
	ChatTypeProfileBuilding   ChatType = "profile_building"
	ChatTypeActivityPlanning  ChatType = "activity_planning"
	ChatTypeGoalSetting       ChatType = "goal_setting"
)

// ChatTypes lists every accepted chat type.
var ChatTypes = []ChatType{
	ChatTypeAspirationsBridge,
	ChatTypeCouponRequest,
	ChatTypeProfileBuilding,
	ChatTypeActivityPlanning,
	ChatTypeGoalSetting,
}

// Valid reports whether c is one of ChatTypes.
func (c ChatType) Valid() bool {
	for _, t := range ChatTypes {
		if c == t {
			return true
		}
	}
	return false
}

// SkipsBrandMatching reports whether conversations of this type complete
// without brand matching or recommendation-provider calls.
func (c ChatType) SkipsBrandMatching() bool {
	return c == ChatTypeCouponRequest
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation's append-only history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ParseOutcome tags how model output was turned into a typed value.
type ParseOutcome string

const (
	ParseOutcomeParsed   ParseOutcome = "parsed"
	ParseOutcomeRepaired ParseOutcome = "repaired"
	ParseOutcomeFallback ParseOutcome = "fallback"
)

// Extraction is the structured result of the insight-extraction call.
type Extraction struct {
	ExtractedInsights   []string `json:"extractedInsights"`
	MerchantPreferences []string `json:"merchantPreferences,omitempty"`
	CategoryPreferences []string `json:"categoryPreferences,omitempty"`
	AspirationGoals     []string `json:"aspirationGoals,omitempty"`
	Summary             string   `json:"summary"`
}

// FallbackExtraction is stored when the model output cannot be parsed.
func FallbackExtraction() Extraction {
	return Extraction{
		ExtractedInsights: []string{"could not parse"},
		Summary:           "extraction failed",
	}
}

// Conversation belongs to exactly one user.
type Conversation struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	ChatType      ChatType       `json:"chatType"`
	Title         string         `json:"title,omitempty"`
	Messages      []Message      `json:"messages"`
	Extraction    *Extraction    `json:"extraction,omitempty"`
	ParseOutcome  ParseOutcome   `json:"parseOutcome,omitempty"`
	MatchedBrands []MatchedBrand `json:"matchedBrands"`
	IsCompleted   bool           `json:"isCompleted"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Transcript renders the history as "role: content" lines.
func (c Conversation) Transcript() string {
	lines := make([]string, 0, len(c.Messages))
	for _, m := range c.Messages {
		lines = append(lines, string(m.Role)+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// MatchedBrand is a catalog brand the matcher scored at or above the threshold.
type MatchedBrand struct {
	Name                    string        `json:"name"`
	EntityID                string        `json:"entityId"`
	MerchantName            string        `json:"merchantName"`
	ShortDescription        string        `json:"shortDescription"`
	MatchScore              int           `json:"matchScore"`
	MatchReason             string        `json:"matchReason"`
	MatchedAt               time.Time     `json:"matchedAt"`
	AttachedBrands          []BrandEntity `json:"attachedBrands,omitempty"`
	AttachedBrandsFetchedAt *time.Time    `json:"attachedBrandsFetchedAt,omitempty"`
}

// UserMatchedBrand is a MatchedBrand annotated with the conversation it came from.
type UserMatchedBrand struct {
	MatchedBrand
	ConversationID string   `json:"conversationId"`
	ChatType       ChatType `json:"chatType"`
}

// CatalogEntry is one brand offered to the matcher.
type CatalogEntry struct {
	Name         string `json:"name"`
	EntityID     string `json:"entity_id"`
	MerchantName string `json:"merchantName"`
	Description  string `json:"short_description"`
}

// UserContext is the matcher input derived from an extraction.
type UserContext struct {
	Insights []string
	Summary  string
	ChatType ChatType
}
