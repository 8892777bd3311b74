package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ecomanager/backend/internal/models"
	"github.com/ecomanager/backend/internal/phone"
)

// HTTPNotifier posts lifecycle events to an SMS gateway that owns message
// templating and localization.
type HTTPNotifier struct {
	BaseURL  string
	APIKey   string
	SenderID string
	Client   *http.Client
}

type sendRequest struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Event       string `json:"event"`
	OrderNumber string `json:"order_number"`
	Language    string `json:"language"`
	FirstName   string `json:"first_name"`
	Total       string `json:"total"`
}

type sendResponse struct {
	MessageID string  `json:"message_id"`
	Status    string  `json:"status"`
	Cost      float64 `json:"cost"`
}

func (h HTTPNotifier) Notify(ctx context.Context, order models.Order, customer models.Customer, event string) (Result, error) {
	if h.Client == nil {
		h.Client = &http.Client{Timeout: 5 * time.Second}
	}

	to := order.Shipping.Phone
	if to == "" {
		to = customer.Phone
	}
	if to == "" {
		return Result{}, fmt.Errorf("order %s: no phone number for notification", order.ID)
	}

	payload := sendRequest{
		From:        h.SenderID,
		To:          phone.NormalizeE164(to),
		Event:       event,
		OrderNumber: order.OrderNumber,
		Language:    customer.PreferredLanguage,
		FirstName:   customer.FirstName,
		Total:       fmt.Sprintf("%.0f %s", order.Totals.Total, order.Currency),
	}
	b, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/send", bytes.NewBuffer(b))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, errors.New("sms gateway error")
	}

	var r sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Result{}, err
	}

	return Result{
		Success:           true,
		ProviderMessageID: r.MessageID,
		Cost:              r.Cost,
	}, nil
}
