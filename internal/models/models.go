package models

import (
	"fmt"
	"sort"
	"time"
)

// Confirmation lifecycle statuses. Transitions only move forward:
// pending -> attempting -> confirmed|failed, attempting -> abandoned
// (operator action only).
const (
	ConfirmationPending    = "pending"
	ConfirmationAttempting = "attempting"
	ConfirmationConfirmed  = "confirmed"
	ConfirmationFailed     = "failed"
	ConfirmationAbandoned  = "abandoned"
)

// Dispatch priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Attempt outcomes recorded by confirmation agents.
const (
	OutcomeNoAnswer    = "no_answer"
	OutcomeConfirmed   = "confirmed"
	OutcomeCancelled   = "cancelled"
	OutcomeReschedule  = "reschedule"
	OutcomeWrongNumber = "wrong_number"
	OutcomeBusy        = "busy"
)

// Attempt contact methods.
const (
	MethodCall = "call"
	MethodSMS  = "sms"
)

// Fulfillment statuses. Separate from the confirmation status; the
// confirmation workflow only ever advances it to confirmed or cancelled.
const (
	OrderPending    = "pending"
	OrderConfirmed  = "confirmed"
	OrderProcessing = "processing"
	OrderShipped    = "shipped"
	OrderDelivered  = "delivered"
	OrderCancelled  = "cancelled"
	OrderReturned   = "returned"
)

// Customer trust tiers.
const (
	TierNew     = "new"
	TierRegular = "regular"
	TierLoyal   = "loyal"
	TierVIP     = "vip"
	TierBad     = "bad"
)

// Duplicate detection methods.
const (
	DetectionAutomatic = "automatic"
	DetectionManual    = "manual"
)

type OrderItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type Totals struct {
	Subtotal float64 `json:"subtotal"`
	Shipping float64 `json:"shipping"`
	Tax      float64 `json:"tax"`
	Discount float64 `json:"discount"`
	Total    float64 `json:"total"`
}

type Address struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Phone      string `json:"phone"`
	Street     string `json:"street"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postal_code"`
}

// Attempt is immutable once appended; numbers are 1-based and gapless.
type Attempt struct {
	Number          int        `json:"number"`
	AgentID         string     `json:"agent_id"`
	Method          string     `json:"method"`
	Outcome         string     `json:"outcome"`
	Notes           string     `json:"notes,omitempty"`
	NextAttemptAt   *time.Time `json:"next_attempt_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type ConfirmationState struct {
	Status        string     `json:"status"`
	Priority      string     `json:"priority"`
	AssignedAgent *string    `json:"assigned_agent,omitempty"`
	AssignedAt    *time.Time `json:"assigned_at,omitempty"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	Attempts      []Attempt  `json:"attempts"`
}

func (c ConfirmationState) Terminal() bool {
	switch c.Status {
	case ConfirmationConfirmed, ConfirmationFailed, ConfirmationAbandoned:
		return true
	}
	return false
}

type DuplicateInfo struct {
	IsDuplicate     bool       `json:"is_duplicate"`
	OriginalOrderID *string    `json:"original_order_id,omitempty"`
	Score           int        `json:"score"`
	Method          string     `json:"method,omitempty"`
	DetectedAt      *time.Time `json:"detected_at,omitempty"`
}

type Order struct {
	ID            string            `json:"id"`
	OrderNumber   string            `json:"order_number"`
	CustomerID    string            `json:"customer_id"`
	Items         []OrderItem       `json:"items"`
	Totals        Totals            `json:"totals"`
	Currency      string            `json:"currency"`
	Shipping      Address           `json:"shipping"`
	PaymentMethod string            `json:"payment_method"`
	Status        string            `json:"status"`
	CancelledAt   *time.Time        `json:"cancelled_at,omitempty"`
	Confirmation  ConfirmationState `json:"confirmation"`
	Duplicate     DuplicateInfo     `json:"duplicate"`
	CreatedAt     time.Time         `json:"created_at"`
}

// CalculateTotals is the single place order totals are derived.
// total = subtotal - discount + shipping + tax.
func (o *Order) CalculateTotals() Totals {
	subtotal := 0.0
	for _, it := range o.Items {
		if it.Quantity < 0 || it.UnitPrice < 0 {
			panic(fmt.Sprintf("order %s: negative quantity or price on product %s", o.ID, it.ProductID))
		}
		subtotal += it.UnitPrice * float64(it.Quantity)
	}
	o.Totals.Subtotal = subtotal
	o.Totals.Total = subtotal - o.Totals.Discount + o.Totals.Shipping + o.Totals.Tax
	return o.Totals
}

func (o Order) ItemCount() int {
	return len(o.Items)
}

// ProductIDsSorted returns the order's product ids as a sorted list, one entry
// per line item, for order-independent product set comparison.
func (o Order) ProductIDsSorted() []string {
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ProductID)
	}
	sort.Strings(ids)
	return ids
}

// OrderNumber builds a date-coded order number, sequential within the day.
func OrderNumber(t time.Time, seq int) string {
	return fmt.Sprintf("BV%s%04d", t.Format("20060102"), seq)
}

type CustomerClassification struct {
	Tier            string     `json:"tier"`
	Score           int        `json:"score"`
	TotalOrders     int        `json:"total_orders"`
	TotalSpent      float64    `json:"total_spent"`
	CancelledOrders int        `json:"cancelled_orders"`
	ReturnedOrders  int        `json:"returned_orders"`
	LastOrderAt     *time.Time `json:"last_order_at,omitempty"`
}

type Customer struct {
	ID                string                 `json:"id"`
	FirstName         string                 `json:"first_name"`
	LastName          string                 `json:"last_name"`
	Phone             string                 `json:"phone"`
	Email             string                 `json:"email"`
	PreferredLanguage string                 `json:"preferred_language"`
	Classification    CustomerClassification `json:"classification"`
	FlagCount         int                    `json:"flag_count"`
	LastFlagReason    string                 `json:"last_flag_reason,omitempty"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

type Agent struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	PreferredLanguages []string `json:"preferred_languages"`
	Regions            []string `json:"regions"`
	WorkStart          string   `json:"work_start"`
	WorkEnd            string   `json:"work_end"`
	MaxOrdersPerDay    int      `json:"max_orders_per_day"`
	Rating             float64  `json:"rating"`
	Active             bool     `json:"active"`
	// OpenAssignments is derived from the order store at dispatch time,
	// never stored on the agent row.
	OpenAssignments int `json:"open_assignments"`
}

// Notification statuses.
const (
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

type NotificationRecord struct {
	ID                string    `json:"id"`
	OrderID           string    `json:"order_id"`
	Event             string    `json:"event"`
	Status            string    `json:"status"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	Error             string    `json:"error,omitempty"`
	SentAt            time.Time `json:"sent_at"`
}

type Run struct {
	ID         string     `json:"id"`
	Pass       string     `json:"pass"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Status     string     `json:"status"`
	Summary    []byte     `json:"summary"`
}
