package service

import "github.com/ecomanager/backend/internal/models"

// High-value threshold in DZD for the monetary priority rule.
const highValueTotal = 10000

// Priority derives the dispatch priority from the order value and the
// customer tier. Rules are evaluated in order, first match wins: the vip
// check precedes the monetary one, which precedes the bad-tier demotion.
func Priority(order models.Order, tier string) string {
	switch {
	case tier == models.TierVIP:
		return models.PriorityUrgent
	case order.Totals.Total > highValueTotal:
		return models.PriorityHigh
	case tier == models.TierBad:
		return models.PriorityLow
	case tier == models.TierLoyal:
		return models.PriorityHigh
	default:
		return models.PriorityNormal
	}
}
