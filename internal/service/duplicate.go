package service

import (
	"math"
	"strings"
	"time"

	"github.com/ecomanager/backend/internal/models"
	"github.com/ecomanager/backend/internal/phone"
)

// Duplicate scoring weights and threshold. Tunable heuristics, kept at the
// values the rest of the fulfillment pipeline was calibrated against.
const (
	scoreSamePhone      = 30
	scoreSameAddress    = 25
	scoreCloseAmount    = 20
	scoreSameItemCount  = 15
	scoreSameProductSet = 30

	DuplicateThreshold = 70
	amountTolerance    = 0.10

	// DuplicateWindow bounds the same-customer comparison set around the
	// candidate's creation time.
	DuplicateWindow = 24 * time.Hour
)

type DuplicateResult struct {
	IsDuplicate     bool   `json:"is_duplicate"`
	Score           int    `json:"score"`
	OriginalOrderID string `json:"original_order_id,omitempty"`
}

// DetectDuplicate scores a candidate order against recent orders from the
// same customer and keeps the maximum score across comparisons. Ties keep the
// first comparison encountered, so callers should pass comparisons sorted by
// creation time ascending for deterministic output.
func DetectDuplicate(candidate models.Order, comparisons []models.Order) DuplicateResult {
	res := DuplicateResult{}

	for _, other := range comparisons {
		if other.ID == candidate.ID {
			continue
		}
		gap := candidate.CreatedAt.Sub(other.CreatedAt)
		if gap < -DuplicateWindow || gap > DuplicateWindow {
			continue
		}

		score := scoreAgainst(candidate, other)
		if score > res.Score {
			res.Score = score
			res.OriginalOrderID = other.ID
		}
	}

	if res.Score >= DuplicateThreshold {
		res.IsDuplicate = true
	} else {
		res.OriginalOrderID = ""
	}
	return res
}

func scoreAgainst(candidate, other models.Order) int {
	score := 0

	if phone.Same(candidate.Shipping.Phone, other.Shipping.Phone) {
		score += scoreSamePhone
	}
	if sameAddress(candidate.Shipping, other.Shipping) {
		score += scoreSameAddress
	}
	if closeAmount(candidate.Totals.Total, other.Totals.Total) {
		score += scoreCloseAmount
	}
	if candidate.ItemCount() == other.ItemCount() {
		score += scoreSameItemCount
	}
	if sameProductSet(candidate, other) {
		score += scoreSameProductSet
	}

	return score
}

func sameAddress(a, b models.Address) bool {
	return foldEq(a.Street, b.Street) && foldEq(a.City, b.City) && a.Street != "" && a.City != ""
}

// closeAmount matches when the relative difference is under the tolerance.
// A zero candidate total never matches.
func closeAmount(candidate, other float64) bool {
	if candidate == 0 {
		return false
	}
	return math.Abs(candidate-other)/candidate < amountTolerance
}

func sameProductSet(a, b models.Order) bool {
	pa := a.ProductIDsSorted()
	pb := b.ProductIDsSorted()
	if len(pa) != len(pb) {
		return false
	}
	for i := range pa {
		if pa[i] != pb[i] {
			return false
		}
	}
	return len(pa) > 0
}

func foldEq(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
