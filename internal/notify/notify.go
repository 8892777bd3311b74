package notify

import (
	"context"

	"github.com/ecomanager/backend/internal/models"
)

// Lifecycle events sent to customers.
const (
	EventAssigned   = "assigned"
	EventConfirmed  = "confirmed"
	EventCancelled  = "cancelled"
	EventReschedule = "reschedule"
	EventAbandoned  = "abandoned"
)

type Result struct {
	Success           bool    `json:"success"`
	ProviderMessageID string  `json:"provider_message_id"`
	Cost              float64 `json:"cost"`
}

// Notifier delivers a customer-facing message for an order lifecycle event.
// Message text and localization live with the SMS gateway; the engine only
// names the event.
type Notifier interface {
	Notify(ctx context.Context, order models.Order, customer models.Customer, event string) (Result, error)
}
