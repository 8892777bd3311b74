package service

import (
	"math"

	"github.com/ecomanager/backend/internal/models"
)

// Classification score weights.
const (
	pointsPerOrder       = 5
	pointsPer1000Spent   = 2
	cancellationPenalty  = 50
	returnPenalty        = 30
	vipScoreFloor        = 100
	vipSpentFloor        = 50000
	loyalScoreFloor      = 50
	loyalOrdersFloor     = 5
	badScoreCeiling      = -20
	badCancellationLimit = 0.5
	badReturnLimit       = 0.3
	regularOrdersFloor   = 2
)

// Classify recomputes a customer's classification from their full order
// history. It is a pure function: identical histories yield identical output,
// and the caller persists the result.
func Classify(history []models.Order) models.CustomerClassification {
	cls := models.CustomerClassification{Tier: models.TierNew}

	for _, o := range history {
		cls.TotalOrders++
		cls.TotalSpent += o.Totals.Total
		switch o.Status {
		case models.OrderCancelled:
			cls.CancelledOrders++
		case models.OrderReturned:
			cls.ReturnedOrders++
		}
		if cls.LastOrderAt == nil || o.CreatedAt.After(*cls.LastOrderAt) {
			t := o.CreatedAt
			cls.LastOrderAt = &t
		}
	}

	var cancellationRate, returnRate float64
	if cls.TotalOrders > 0 {
		cancellationRate = float64(cls.CancelledOrders) / float64(cls.TotalOrders)
		returnRate = float64(cls.ReturnedOrders) / float64(cls.TotalOrders)
	}

	score := float64(pointsPerOrder*cls.TotalOrders) +
		float64(pointsPer1000Spent)*math.Floor(cls.TotalSpent/1000) -
		cancellationPenalty*cancellationRate -
		returnPenalty*returnRate
	cls.Score = int(math.Round(score))

	switch {
	case cls.TotalOrders == 0:
		cls.Tier = models.TierNew
	case score < badScoreCeiling || cancellationRate > badCancellationLimit || returnRate > badReturnLimit:
		cls.Tier = models.TierBad
	case score >= vipScoreFloor && cls.TotalSpent >= vipSpentFloor:
		cls.Tier = models.TierVIP
	case score >= loyalScoreFloor && cls.TotalOrders >= loyalOrdersFloor:
		cls.Tier = models.TierLoyal
	case cls.TotalOrders >= regularOrdersFloor:
		cls.Tier = models.TierRegular
	default:
		cls.Tier = models.TierNew
	}

	return cls
}
