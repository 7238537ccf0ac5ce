// Package ingestion turns bank transactions into the normalized merchant
// tuples the taste pipeline works with.
package ingestion

import (
	"sort"
	"strings"

	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/dhxmo/CultureQ/internal/validation"
)

const (
	DefaultCount = 8
	MaxCount     = 500

	unknownMerchant = "Unknown Merchant"
	otherCategory   = "other"
)

// ResolveCount applies the default to a zero count and rejects counts outside 1..MaxCount.
func ResolveCount(count int) (int, error) {
	if count == 0 {
		return DefaultCount, nil
	}
	if count < 1 || count > MaxCount {
		return 0, &validation.ValidationError{Field: "count", Message: "must be between 1 and 500"}
	}
	return count, nil
}

// Normalize maps a provider transaction to a Transaction owned by userID.
func Normalize(userID string, raw models.RawTransaction) models.Transaction {
	merchant := strings.TrimSpace(raw.MerchantName)
	if merchant == "" {
		merchant = strings.TrimSpace(raw.Name)
	}
	if merchant == "" {
		merchant = unknownMerchant
	}

	category := otherCategory
	if len(raw.Category) > 0 && strings.TrimSpace(raw.Category[0]) != "" {
		category = strings.ToLower(strings.TrimSpace(raw.Category[0]))
	}

	return models.Transaction{
		ID:           raw.ID,
		UserID:       userID,
		MerchantName: strings.ToLower(merchant),
		DisplayName:  merchant,
		Category:     category,
		Amount:       raw.Amount.Abs(),
		Date:         raw.Date,
	}
}

// NormalizeAll normalizes every transaction in order.
func NormalizeAll(userID string, raws []models.RawTransaction) []models.Transaction {
	out := make([]models.Transaction, 0, len(raws))
	for _, r := range raws {
		out = append(out, Normalize(userID, r))
	}
	return out
}

// Recent returns the count most recent transactions, newest first. Dates are
// YYYY-MM-DD so they order lexically; ties keep their input order.
func Recent(txns []models.Transaction, count int) []models.Transaction {
	sorted := make([]models.Transaction, len(txns))
	copy(sorted, txns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date > sorted[j].Date
	})
	if count >= 0 && len(sorted) > count {
		sorted = sorted[:count]
	}
	return sorted
}

// Categories returns the sorted unique categories of txns.
func Categories(txns []models.Transaction) []string {
	seen := make(map[string]bool)
	categories := []string{}
	for _, t := range txns {
		if !seen[t.Category] {
			seen[t.Category] = true
			categories = append(categories, t.Category)
		}
	}
	sort.Strings(categories)
	return categories
}

// DedupeMerchants lower-cases and trims names and drops repeats and blanks,
// keeping first-seen order.
func DedupeMerchants(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}

// ExcludeMerchants drops names present in excluded, comparing case-insensitively.
func ExcludeMerchants(names, excluded []string) []string {
	if len(excluded) == 0 {
		return names
	}
	skip := make(map[string]bool, len(excluded))
	for _, e := range excluded {
		skip[strings.ToLower(strings.TrimSpace(e))] = true
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !skip[strings.ToLower(strings.TrimSpace(n))] {
			out = append(out, n)
		}
	}
	return out
}
