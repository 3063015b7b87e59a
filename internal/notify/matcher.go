package notify

import (
	"strings"

	"github.com/user/examslots/internal/model"
)

// MatchesSubscription checks if a slot satisfies every filter the subscription sets.
// Unset filters, including empty strings, match any slot:
// - region, town and exam type must be equal
// - the category filter must be a substring of the slot categories
// - a translator filter of true requires a slot with a translator
func MatchesSubscription(slot *model.Slot, sub *model.Subscription) bool {
	if slot == nil || sub == nil {
		return false
	}

	if sub.FilterRegion != nil {
		if slot.Region == nil || *slot.Region != *sub.FilterRegion {
			return false
		}
	}

	if sub.FilterTown != nil && *sub.FilterTown != "" {
		if slot.Town == nil || *slot.Town != *sub.FilterTown {
			return false
		}
	}

	if sub.FilterExamType != nil && *sub.FilterExamType != "" {
		if slot.ExamType == nil || *slot.ExamType != *sub.FilterExamType {
			return false
		}
	}

	if sub.FilterTranslator != nil && *sub.FilterTranslator && !slot.HasTranslator {
		return false
	}

	if sub.FilterCategories != nil && *sub.FilterCategories != "" {
		if !strings.Contains(slot.Categories, *sub.FilterCategories) {
			return false
		}
	}

	return true
}
