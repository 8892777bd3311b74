package service

import (
	"time"

	"github.com/ecomanager/backend/internal/models"
	"github.com/ecomanager/backend/internal/utils"
)

// Agent scoring weights.
const (
	scoreLanguageMatch = 30
	scoreRegionMatch   = 20
	scoreWorkingHours  = 25
	ratingWeight       = 5
	workloadWeight     = 5
)

type AgentScore struct {
	AgentID       string  `json:"agent_id"`
	Score         float64 `json:"score"`
	LanguageMatch bool    `json:"language_match"`
	RegionMatch   bool    `json:"region_match"`
	InWindow      bool    `json:"in_window"`
	OverDailyCap  bool    `json:"over_daily_cap"`
}

// ScoreAgent computes the additive dispatch score of one agent for one order.
// openAssignments is the agent's current attempting workload, derived from
// the order store.
func ScoreAgent(customer models.Customer, order models.Order, agent models.Agent, openAssignments int, now time.Time) AgentScore {
	s := AgentScore{AgentID: agent.ID}

	if containsFold(agent.PreferredLanguages, customer.PreferredLanguage) {
		s.LanguageMatch = true
		s.Score += scoreLanguageMatch
	}
	if containsFold(agent.Regions, order.Shipping.Province) {
		s.RegionMatch = true
		s.Score += scoreRegionMatch
	}
	if utils.WithinWindow(now, agent.WorkStart, agent.WorkEnd) {
		s.InWindow = true
		s.Score += scoreWorkingHours
	}
	s.Score += agent.Rating * ratingWeight
	s.Score -= float64(openAssignments) * workloadWeight

	return s
}

// PickAgent selects the best agent for an order. Scores are computed in
// candidate order and the strictly highest wins, so ties keep the first
// candidate. An agent whose today's assignment count has reached its daily
// cap is excluded and the next best is evaluated; a zero cap means the agent
// takes no new orders. A nil result is normal backpressure, not an error:
// the order stays unassigned for a later pass.
func PickAgent(customer models.Customer, order models.Order, candidates []models.Agent, workloads map[string]int, todayAssigned map[string]int, now time.Time) (*models.Agent, []AgentScore) {
	scores := make([]AgentScore, 0, len(candidates))
	excluded := map[string]bool{}

	for i := range candidates {
		sc := ScoreAgent(customer, order, candidates[i], workloads[candidates[i].ID], now)
		scores = append(scores, sc)
	}

	for {
		bestIdx := -1
		var bestScore float64
		for i := range candidates {
			if excluded[candidates[i].ID] {
				continue
			}
			if bestIdx == -1 || scores[i].Score > bestScore {
				bestIdx = i
				bestScore = scores[i].Score
			}
		}
		if bestIdx == -1 {
			return nil, scores
		}

		best := candidates[bestIdx]
		if todayAssigned[best.ID] >= best.MaxOrdersPerDay {
			scores[bestIdx].OverDailyCap = true
			excluded[best.ID] = true
			continue
		}
		return &best, scores
	}
}

func containsFold(list []string, target string) bool {
	if target == "" {
		return false
	}
	for _, v := range list {
		if foldEq(v, target) {
			return true
		}
	}
	return false
}
