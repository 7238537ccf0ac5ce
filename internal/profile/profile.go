// Package profile drives the multi-turn taste chat, extracts structured
// insights from finished conversations and folds them into the user's
// TasteProfile.
package profile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dhxmo/CultureQ/internal/apperrors"
	"github.com/dhxmo/CultureQ/internal/llm"
	"github.com/dhxmo/CultureQ/internal/metrics"
	"github.com/dhxmo/CultureQ/internal/models"
	"go.uber.org/zap"
)

// Options tunes the two model calls.
type Options struct {
	ChatMaxTokens      int
	ChatTemperature    float64
	ExtractMaxTokens   int
	ExtractTemperature float64
}

func DefaultOptions() Options {
	return Options{
		ChatMaxTokens:      300,
		ChatTemperature:    0.7,
		ExtractMaxTokens:   500,
		ExtractTemperature: 0.1,
	}
}

type Builder struct {
	provider llm.Provider
	prompts  Prompts
	opts     Options
}

func NewBuilder(provider llm.Provider, prompts Prompts, opts Options) *Builder {
	return &Builder{provider: provider, prompts: prompts, opts: opts}
}

// ConversationTitle is the default title for a new conversation of chatType.
func ConversationTitle(chatType models.ChatType) string {
	return strings.ReplaceAll(string(chatType), "_", " ") + " conversation"
}

// Reply returns the assistant's next message for conv, whose history must
// already include the latest user message.
func (b *Builder) Reply(ctx context.Context, conv models.Conversation) (string, error) {
	prompt, ok := b.prompts[conv.ChatType]
	if !ok {
		return "", fmt.Errorf("no prompt for chat type %q", conv.ChatType)
	}

	text, err := b.provider.Complete(ctx, llm.Request{
		SystemPrompt: prompt.Chat,
		Messages:     conv.Messages,
		MaxTokens:    b.opts.ChatMaxTokens,
		Temperature:  b.opts.ChatTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat reply: %w", err)
	}
	return text, nil
}

// ExtractInsights runs the single extraction call for a transcript. Output
// that cannot be parsed yields FallbackExtraction with ParseOutcomeFallback and
// no error. A provider failure is returned wrapping both ErrProcessingFailed
// and the provider error.
func (b *Builder) ExtractInsights(ctx context.Context, transcript string, chatType models.ChatType) (models.Extraction, models.ParseOutcome, error) {
	prompt, ok := b.prompts[chatType]
	if !ok {
		return models.Extraction{}, "", fmt.Errorf("no prompt for chat type %q", chatType)
	}

	raw, err := b.provider.Complete(ctx, llm.Request{
		SystemPrompt: prompt.Extraction,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "Conversation to analyze:\n\n" + transcript},
		},
		MaxTokens:   b.opts.ExtractMaxTokens,
		Temperature: b.opts.ExtractTemperature,
	})
	if err != nil {
		return models.Extraction{}, "", fmt.Errorf("insight extraction: %w: %w", apperrors.ErrProcessingFailed, err)
	}

	var extraction models.Extraction
	outcome, err := llm.ParseObject(raw, &extraction)
	metrics.ParseOutcomes.WithLabelValues("extraction", string(outcome)).Inc()
	if err != nil {
		zap.L().Warn("Failed to parse extraction, using fallback",
			zap.String("chat_type", string(chatType)),
			zap.Error(err))
		return models.FallbackExtraction(), models.ParseOutcomeFallback, nil
	}

	if extraction.ExtractedInsights == nil {
		extraction.ExtractedInsights = []string{}
	}
	if chatType == models.ChatTypeCouponRequest {
		extraction.AspirationGoals = nil
	}
	return extraction, outcome, nil
}

// BuildProfile replaces the tag lists of current with tags folded from
// extractions, newest first. Attached brands, the snapshot and lastUpdated
// are carried over unchanged.
func BuildProfile(current *models.TasteProfile, extractions []models.Extraction) models.TasteProfile {
	var next models.TasteProfile
	if current != nil {
		next.AttachedBrands = current.AttachedBrands
		next.Snapshot = current.Snapshot
		next.LastUpdated = current.LastUpdated
	}

	interests := newTagSet()
	preferences := newTagSet()
	aspirations := newTagSet()
	lifestyle := newTagSet()

	for _, e := range extractions {
		interests.add(e.ExtractedInsights...)
		preferences.add(e.MerchantPreferences...)
		aspirations.add(e.AspirationGoals...)
		lifestyle.add(e.CategoryPreferences...)
	}

	next.Interests = interests.items
	next.Preferences = preferences.items
	next.Aspirations = aspirations.items
	next.Lifestyle = lifestyle.items
	return next
}

// MerchantPreferences returns the lower-cased merchant preferences of
// extractions as a set, in first-seen order.
func MerchantPreferences(extractions []models.Extraction) []string {
	set := newTagSet()
	for _, e := range extractions {
		for _, m := range e.MerchantPreferences {
			set.add(strings.ToLower(m))
		}
	}
	return set.items
}

// StampMessages returns the user and assistant messages of one chat turn.
func StampMessages(userText, assistantText string, now time.Time) []models.Message {
	return []models.Message{
		{Role: models.RoleUser, Content: userText, Timestamp: now},
		{Role: models.RoleAssistant, Content: assistantText, Timestamp: now},
	}
}

// tagSet keeps trimmed, non-empty tags in first-seen order, deduplicated case-insensitively.
type tagSet struct {
	seen  map[string]bool
	items []string
}

func newTagSet() *tagSet {
	return &tagSet{seen: make(map[string]bool), items: []string{}}
}

func (s *tagSet) add(tags ...string) {
	for _, t := range tags {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || s.seen[key] {
			continue
		}
		s.seen[key] = true
		s.items = append(s.items, t)
	}
}
