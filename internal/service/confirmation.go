package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/ecomanager/backend/internal/db"
	"github.com/ecomanager/backend/internal/models"
	"github.com/ecomanager/backend/internal/notify"
	"github.com/ecomanager/backend/internal/utils"
)

const defaultNotifyTimeout = 3 * time.Second

// OrderStore is the slice of the store the engine needs, so the state machine
// can be exercised against in-memory fakes.
type OrderStore interface {
	LoadOrder(ctx context.Context, id string) (models.Order, error)
	QueryOrders(ctx context.Context, f db.OrderFilter) ([]models.Order, error)
	UpdateConfirmation(ctx context.Context, o models.Order, expectedStatus string, attempt *models.Attempt) (bool, error)
	CustomerOrdersWithin(ctx context.Context, customerID string, center time.Time, window time.Duration) ([]models.Order, error)
	UpdateDuplicateInfo(ctx context.Context, orderID string, d models.DuplicateInfo) error
	OrdersForDuplicateSweep(ctx context.Context, since time.Time) ([]models.Order, error)
	OpenAssignmentCounts(ctx context.Context) (map[string]int, error)
	AssignmentCountsBetween(ctx context.Context, from, to time.Time) (map[string]int, error)
	ListAgents(ctx context.Context, activeOnly bool) ([]models.Agent, error)
	LoadAgent(ctx context.Context, id string) (models.Agent, error)
	LoadCustomer(ctx context.Context, id string) (models.Customer, error)
	ListCustomerIDs(ctx context.Context) ([]string, error)
	LoadCustomerHistory(ctx context.Context, customerID string) ([]models.Order, error)
	SaveClassification(ctx context.Context, customerID string, cls models.CustomerClassification) error
	FlagCustomer(ctx context.Context, customerID string, reason string) error
	InsertNotification(ctx context.Context, n models.NotificationRecord) error
}

// Engine owns the confirmation lifecycle. Transitions for one order are
// serialized through a per-order mutex; batch passes additionally commit via
// compare-and-set so a stale snapshot can never double-transition an order.
type Engine struct {
	Store         OrderStore
	Notifier      notify.Notifier
	Logger        zerolog.Logger
	NotifyTimeout time.Duration

	// Now is swappable in tests; defaults to time.Now.
	Now func() time.Time

	locks sync.Map // order id -> *sync.Mutex
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *Engine) lockOrder(orderID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(orderID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func mapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

type AttemptInput struct {
	AgentID         string
	Method          string
	Outcome         string
	Notes           string
	NextAttemptAt   *time.Time
	DurationSeconds int
}

// Assign moves a pending, unassigned order to attempting under the given
// agent and priority.
func (e *Engine) Assign(ctx context.Context, orderID string, agentID string, priority string) (models.Order, error) {
	mu := e.lockOrder(orderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := e.Store.LoadOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, mapNotFound(err)
	}
	if o.Confirmation.Terminal() {
		return models.Order{}, fmt.Errorf("order %s is %s: %w", orderID, o.Confirmation.Status, ErrInvalidTransition)
	}
	if o.Confirmation.Status != models.ConfirmationPending || o.Confirmation.AssignedAgent != nil {
		return models.Order{}, fmt.Errorf("order %s already assigned: %w", orderID, ErrInvalidTransition)
	}
	if _, err := e.Store.LoadAgent(ctx, agentID); err != nil {
		return models.Order{}, fmt.Errorf("agent %s: %w", agentID, mapNotFound(err))
	}
	if priority == "" {
		priority = models.PriorityNormal
	}

	now := e.now()
	expected := o.Confirmation.Status
	o.Confirmation.Status = models.ConfirmationAttempting
	o.Confirmation.Priority = priority
	o.Confirmation.AssignedAgent = &agentID
	o.Confirmation.AssignedAt = &now

	changed, err := e.Store.UpdateConfirmation(ctx, o, expected, nil)
	if err != nil {
		return models.Order{}, err
	}
	if !changed {
		return models.Order{}, fmt.Errorf("order %s: %w", orderID, ErrStaleOrder)
	}

	e.sendNotification(ctx, o, notify.EventAssigned)
	return o, nil
}

// AssignOrder is the exposed single-order operation. Agent and priority are
// optional: a missing priority is derived from the customer's tier, a missing
// agent is picked by the dispatcher. The bool result is false when no agent
// qualified, which is normal backpressure rather than an error.
func (e *Engine) AssignOrder(ctx context.Context, orderID string, agentID string, priority string) (models.Order, bool, error) {
	o, err := e.Store.LoadOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, false, mapNotFound(err)
	}
	customer, err := e.Store.LoadCustomer(ctx, o.CustomerID)
	if err != nil {
		return models.Order{}, false, fmt.Errorf("customer %s: %w", o.CustomerID, mapNotFound(err))
	}
	if priority == "" {
		priority = Priority(o, customer.Classification.Tier)
	}

	if agentID == "" {
		agents, err := e.Store.ListAgents(ctx, true)
		if err != nil {
			return models.Order{}, false, err
		}
		open, err := e.Store.OpenAssignmentCounts(ctx)
		if err != nil {
			return models.Order{}, false, err
		}
		now := e.now()
		dayStart, dayEnd := utils.DayBounds(now)
		today, err := e.Store.AssignmentCountsBetween(ctx, dayStart, dayEnd)
		if err != nil {
			return models.Order{}, false, err
		}
		picked, _ := PickAgent(customer, o, agents, open, today, now)
		if picked == nil {
			return o, false, nil
		}
		agentID = picked.ID
	}

	assigned, err := e.Assign(ctx, orderID, agentID, priority)
	if err != nil {
		return models.Order{}, false, err
	}
	return assigned, true, nil
}

// RecordAttempt appends one contact attempt and applies its outcome. Attempt
// numbers are gapless and 1-based; the attempts list is append-only.
func (e *Engine) RecordAttempt(ctx context.Context, orderID string, in AttemptInput) (models.Order, error) {
	mu := e.lockOrder(orderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := e.Store.LoadOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, mapNotFound(err)
	}
	if o.Confirmation.Terminal() {
		return models.Order{}, fmt.Errorf("order %s is %s: %w", orderID, o.Confirmation.Status, ErrOrderAlreadyTerminal)
	}

	now := e.now()
	attempt := models.Attempt{
		Number:          len(o.Confirmation.Attempts) + 1,
		AgentID:         in.AgentID,
		Method:          in.Method,
		Outcome:         in.Outcome,
		Notes:           in.Notes,
		NextAttemptAt:   in.NextAttemptAt,
		DurationSeconds: in.DurationSeconds,
		CreatedAt:       now,
	}

	expected := o.Confirmation.Status
	switch in.Outcome {
	case models.OutcomeConfirmed:
		o.Confirmation.Status = models.ConfirmationConfirmed
		o.Confirmation.ConfirmedAt = &now
		o.Status = models.OrderConfirmed
	case models.OutcomeCancelled:
		o.Confirmation.Status = models.ConfirmationFailed
		o.Status = models.OrderCancelled
		o.CancelledAt = &now
	case models.OutcomeNoAnswer, models.OutcomeReschedule, models.OutcomeWrongNumber, models.OutcomeBusy:
		o.Confirmation.Status = models.ConfirmationAttempting
	default:
		return models.Order{}, fmt.Errorf("unknown attempt outcome %q", in.Outcome)
	}

	changed, err := e.Store.UpdateConfirmation(ctx, o, expected, &attempt)
	if err != nil {
		return models.Order{}, err
	}
	if !changed {
		return models.Order{}, fmt.Errorf("order %s: %w", orderID, ErrStaleOrder)
	}
	o.Confirmation.Attempts = append(o.Confirmation.Attempts, attempt)

	switch in.Outcome {
	case models.OutcomeConfirmed:
		e.sendNotification(ctx, o, notify.EventConfirmed)
		e.reclassify(ctx, o.CustomerID)
	case models.OutcomeCancelled:
		if err := e.Store.FlagCustomer(ctx, o.CustomerID, fmt.Sprintf("cancelled_order: order %s cancelled during confirmation", o.OrderNumber)); err != nil {
			e.Logger.Error().Err(err).Str("customer_id", o.CustomerID).Msg("failed to flag customer")
		}
		e.sendNotification(ctx, o, notify.EventCancelled)
		e.reclassify(ctx, o.CustomerID)
	case models.OutcomeReschedule:
		if in.NextAttemptAt != nil {
			e.sendNotification(ctx, o, notify.EventReschedule)
		}
	}

	return o, nil
}

// Abandon is the explicit operator action ending an attempting order without
// an outcome. It is never taken automatically.
func (e *Engine) Abandon(ctx context.Context, orderID string) (models.Order, error) {
	mu := e.lockOrder(orderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := e.Store.LoadOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, mapNotFound(err)
	}
	if o.Confirmation.Terminal() {
		return models.Order{}, fmt.Errorf("order %s is %s: %w", orderID, o.Confirmation.Status, ErrOrderAlreadyTerminal)
	}
	if o.Confirmation.Status != models.ConfirmationAttempting {
		return models.Order{}, fmt.Errorf("order %s is %s, not attempting: %w", orderID, o.Confirmation.Status, ErrInvalidTransition)
	}

	expected := o.Confirmation.Status
	o.Confirmation.Status = models.ConfirmationAbandoned

	changed, err := e.Store.UpdateConfirmation(ctx, o, expected, nil)
	if err != nil {
		return models.Order{}, err
	}
	if !changed {
		return models.Order{}, fmt.Errorf("order %s: %w", orderID, ErrStaleOrder)
	}

	e.reclassify(ctx, o.CustomerID)
	return o, nil
}

// OverrideDuplicate manually confirms or clears the duplicate flag on an
// order, for agent review of the automatic heuristic.
func (e *Engine) OverrideDuplicate(ctx context.Context, orderID string, isDuplicate bool, originalOrderID string) (models.Order, error) {
	o, err := e.Store.LoadOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, mapNotFound(err)
	}

	now := e.now()
	info := models.DuplicateInfo{
		IsDuplicate: isDuplicate,
		Method:      models.DetectionManual,
		DetectedAt:  &now,
	}
	if isDuplicate {
		info.Score = o.Duplicate.Score
		if originalOrderID != "" {
			info.OriginalOrderID = &originalOrderID
		} else {
			info.OriginalOrderID = o.Duplicate.OriginalOrderID
		}
	}

	if err := e.Store.UpdateDuplicateInfo(ctx, orderID, info); err != nil {
		return models.Order{}, err
	}
	o.Duplicate = info
	return o, nil
}

// reclassify recomputes the customer's classification after a terminal
// confirmation outcome. Failures are logged and never roll back the
// transition that triggered them.
func (e *Engine) reclassify(ctx context.Context, customerID string) {
	history, err := e.Store.LoadCustomerHistory(ctx, customerID)
	if err != nil {
		e.Logger.Error().Err(err).Str("customer_id", customerID).Msg("failed to load history for reclassification")
		return
	}
	cls := Classify(history)
	if err := e.Store.SaveClassification(ctx, customerID, cls); err != nil {
		e.Logger.Error().Err(err).Str("customer_id", customerID).Msg("failed to save classification")
	}
}

// sendNotification delivers a lifecycle event with a bounded timeout and
// records the outcome. Notification is best-effort: failures never roll back
// the state transition that triggered them.
func (e *Engine) sendNotification(ctx context.Context, o models.Order, event string) {
	timeout := e.NotifyTimeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	nctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rec := models.NotificationRecord{
		ID:      uuid.NewString(),
		OrderID: o.ID,
		Event:   event,
		SentAt:  e.now(),
	}

	customer, err := e.Store.LoadCustomer(nctx, o.CustomerID)
	if err == nil {
		var res notify.Result
		res, err = e.Notifier.Notify(nctx, o, customer, event)
		rec.ProviderMessageID = res.ProviderMessageID
	}

	if err != nil {
		rec.Status = models.NotificationFailed
		rec.Error = err.Error()
		e.Logger.Warn().Err(err).Str("order_id", o.ID).Str("event", event).Msg("notification failed")
	} else {
		rec.Status = models.NotificationSent
	}

	if err := e.Store.InsertNotification(ctx, rec); err != nil {
		e.Logger.Error().Err(err).Str("order_id", o.ID).Msg("failed to record notification")
	}
}
