package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ecomanager/backend/internal/models"
	"github.com/ecomanager/backend/internal/phone"
)

// MockNotifier logs instead of sending. Used in development when no SMS
// gateway is configured.
type MockNotifier struct {
	SenderID string
	Logger   zerolog.Logger
}

func (m MockNotifier) Notify(ctx context.Context, order models.Order, customer models.Customer, event string) (Result, error) {
	to := order.Shipping.Phone
	if to == "" {
		to = customer.Phone
	}
	if to == "" {
		return Result{}, fmt.Errorf("order %s: no phone number for notification", order.ID)
	}

	m.Logger.Info().
		Str("order_number", order.OrderNumber).
		Str("event", event).
		Str("to", phone.NormalizeE164(to)).
		Str("language", customer.PreferredLanguage).
		Msg("mock sms")

	return Result{
		Success:           true,
		ProviderMessageID: "mock_" + uuid.NewString(),
		Cost:              5,
	}, nil
}
