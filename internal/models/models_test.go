package models

import (
	"testing"
	"time"
)

func TestCalculateTotals(t *testing.T) {
	o := Order{
		Items: []OrderItem{
			{ProductID: "p1", Quantity: 2, UnitPrice: 1500},
			{ProductID: "p2", Quantity: 1, UnitPrice: 2000},
		},
		Totals: Totals{Shipping: 400, Tax: 100, Discount: 500},
	}
	got := o.CalculateTotals()
	if got.Subtotal != 5000 {
		t.Fatalf("expected subtotal 5000, got %f", got.Subtotal)
	}
	if got.Total != 5000 {
		t.Fatalf("expected total 5000, got %f", got.Total)
	}
}

func TestCalculateTotalsPanicsOnNegative(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on negative quantity")
		}
	}()
	o := Order{Items: []OrderItem{{ProductID: "p1", Quantity: -1, UnitPrice: 100}}}
	o.CalculateTotals()
}

func TestOrderNumberFormat(t *testing.T) {
	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	if got := OrderNumber(at, 7); got != "BV202603100007" {
		t.Fatalf("unexpected order number %s", got)
	}
}

func TestProductIDsSorted(t *testing.T) {
	o := Order{Items: []OrderItem{{ProductID: "b"}, {ProductID: "a"}, {ProductID: "a"}}}
	ids := o.ProductIDsSorted()
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "a" || ids[2] != "b" {
		t.Fatalf("unexpected sorted ids %v", ids)
	}
}

func TestConfirmationTerminal(t *testing.T) {
	for _, status := range []string{ConfirmationConfirmed, ConfirmationFailed, ConfirmationAbandoned} {
		if !(ConfirmationState{Status: status}).Terminal() {
			t.Fatalf("expected %s terminal", status)
		}
	}
	for _, status := range []string{ConfirmationPending, ConfirmationAttempting} {
		if (ConfirmationState{Status: status}).Terminal() {
			t.Fatalf("expected %s not terminal", status)
		}
	}
}
