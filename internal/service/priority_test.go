package service

import (
	"testing"

	"github.com/ecomanager/backend/internal/models"
)

func TestPriorityVIPUrgent(t *testing.T) {
	o := models.Order{Totals: models.Totals{Total: 500}}
	if got := Priority(o, models.TierVIP); got != models.PriorityUrgent {
		t.Fatalf("expected urgent for vip, got %s", got)
	}
}

func TestPriorityHighValue(t *testing.T) {
	o := models.Order{Totals: models.Totals{Total: 12000}}
	if got := Priority(o, models.TierRegular); got != models.PriorityHigh {
		t.Fatalf("expected high for 12000 DZD order, got %s", got)
	}
}

func TestPriorityHighValueBeatsBadTier(t *testing.T) {
	o := models.Order{Totals: models.Totals{Total: 12000}}
	if got := Priority(o, models.TierBad); got != models.PriorityHigh {
		t.Fatalf("expected monetary rule to precede bad demotion, got %s", got)
	}
}

func TestPriorityBadLow(t *testing.T) {
	o := models.Order{Totals: models.Totals{Total: 500}}
	if got := Priority(o, models.TierBad); got != models.PriorityLow {
		t.Fatalf("expected low for bad tier, got %s", got)
	}
}

func TestPriorityLoyalHigh(t *testing.T) {
	o := models.Order{Totals: models.Totals{Total: 500}}
	if got := Priority(o, models.TierLoyal); got != models.PriorityHigh {
		t.Fatalf("expected high for loyal tier, got %s", got)
	}
}

func TestPriorityDefaultNormal(t *testing.T) {
	o := models.Order{Totals: models.Totals{Total: 10000}}
	if got := Priority(o, models.TierRegular); got != models.PriorityNormal {
		t.Fatalf("expected normal at exactly 10000, got %s", got)
	}
}
