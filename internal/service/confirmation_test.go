package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/ecomanager/backend/internal/db"
	"github.com/ecomanager/backend/internal/models"
	"github.com/ecomanager/backend/internal/notify"
)

type fakeStore struct {
	mu            sync.Mutex
	orders        map[string]models.Order
	agents        map[string]models.Agent
	customers     map[string]models.Customer
	history       map[string][]models.Order
	customerIDs   []string
	sweep         []models.Order
	open          map[string]int
	today         map[string]int
	notifications []models.NotificationRecord
	classified    map[string]models.CustomerClassification
	flags         map[string][]string
	duplicates    map[string]models.DuplicateInfo

	staleUpdates bool
	classifyErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:     map[string]models.Order{},
		agents:     map[string]models.Agent{},
		customers:  map[string]models.Customer{},
		history:    map[string][]models.Order{},
		open:       map[string]int{},
		today:      map[string]int{},
		classified: map[string]models.CustomerClassification{},
		flags:      map[string][]string{},
		duplicates: map[string]models.DuplicateInfo{},
	}
}

func (f *fakeStore) LoadOrder(_ context.Context, id string) (models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return models.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (f *fakeStore) QueryOrders(_ context.Context, filter db.OrderFilter) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if len(filter.ConfirmationStatuses) > 0 && o.Confirmation.Status != filter.ConfirmationStatuses[0] {
			continue
		}
		if filter.Unassigned && o.Confirmation.AssignedAgent != nil {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) UpdateConfirmation(_ context.Context, o models.Order, expectedStatus string, attempt *models.Attempt) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.staleUpdates {
		return false, nil
	}
	cur, ok := f.orders[o.ID]
	if !ok || cur.Confirmation.Status != expectedStatus {
		return false, nil
	}
	o.Confirmation.Attempts = cur.Confirmation.Attempts
	if attempt != nil {
		o.Confirmation.Attempts = append(o.Confirmation.Attempts, *attempt)
	}
	f.orders[o.ID] = o
	return true, nil
}

func (f *fakeStore) CustomerOrdersWithin(_ context.Context, customerID string, _ time.Time, _ time.Duration) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[customerID], nil
}

func (f *fakeStore) UpdateDuplicateInfo(_ context.Context, orderID string, d models.DuplicateInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.duplicates[orderID] = d
	if o, ok := f.orders[orderID]; ok {
		o.Duplicate = d
		f.orders[orderID] = o
	}
	return nil
}

func (f *fakeStore) OrdersForDuplicateSweep(_ context.Context, _ time.Time) ([]models.Order, error) {
	return f.sweep, nil
}

func (f *fakeStore) OpenAssignmentCounts(_ context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for k, v := range f.open {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) AssignmentCountsBetween(_ context.Context, _, _ time.Time) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for k, v := range f.today {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) ListAgents(_ context.Context, _ bool) ([]models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Agent
	for _, a := range f.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) LoadAgent(_ context.Context, id string) (models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return models.Agent{}, pgx.ErrNoRows
	}
	return a, nil
}

func (f *fakeStore) LoadCustomer(_ context.Context, id string) (models.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[id]
	if !ok {
		return models.Customer{}, pgx.ErrNoRows
	}
	return c, nil
}

func (f *fakeStore) ListCustomerIDs(_ context.Context) ([]string, error) {
	return f.customerIDs, nil
}

func (f *fakeStore) LoadCustomerHistory(_ context.Context, customerID string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[customerID], nil
}

func (f *fakeStore) SaveClassification(_ context.Context, customerID string, cls models.CustomerClassification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.classifyErr != nil {
		return f.classifyErr
	}
	f.classified[customerID] = cls
	return nil
}

func (f *fakeStore) FlagCustomer(_ context.Context, customerID string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[customerID] = append(f.flags[customerID], reason)
	return nil
}

func (f *fakeStore) InsertNotification(_ context.Context, n models.NotificationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, n)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
	fail   bool
}

func (n *fakeNotifier) Notify(_ context.Context, _ models.Order, _ models.Customer, event string) (notify.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return notify.Result{}, errors.New("gateway down")
	}
	n.events = append(n.events, event)
	return notify.Result{Success: true, ProviderMessageID: "msg-1"}, nil
}

var testNow = time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)

func newTestEngine(store *fakeStore, notifier *fakeNotifier) *Engine {
	return &Engine{
		Store:    store,
		Notifier: notifier,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return testNow },
	}
}

func pendingOrder(id, customerID string) models.Order {
	return models.Order{
		ID:         id,
		CustomerID: customerID,
		Status:     models.OrderPending,
		Totals:     models.Totals{Total: 4500},
		Confirmation: models.ConfirmationState{
			Status:   models.ConfirmationPending,
			Priority: models.PriorityNormal,
		},
		CreatedAt: testNow.Add(-time.Hour),
	}
}

func attemptingOrder(id, customerID, agentID string) models.Order {
	o := pendingOrder(id, customerID)
	o.Confirmation.Status = models.ConfirmationAttempting
	o.Confirmation.AssignedAgent = &agentID
	return o
}

func TestAssignPendingOrder(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = pendingOrder("o1", "c1")
	store.agents["a1"] = models.Agent{ID: "a1", Active: true}
	store.customers["c1"] = models.Customer{ID: "c1", Phone: "+213661234567"}
	notifier := &fakeNotifier{}
	e := newTestEngine(store, notifier)

	o, err := e.Assign(context.Background(), "o1", "a1", models.PriorityHigh)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if o.Confirmation.Status != models.ConfirmationAttempting {
		t.Fatalf("expected attempting, got %s", o.Confirmation.Status)
	}
	if o.Confirmation.AssignedAgent == nil || *o.Confirmation.AssignedAgent != "a1" {
		t.Fatalf("expected agent a1, got %v", o.Confirmation.AssignedAgent)
	}
	if o.Confirmation.Priority != models.PriorityHigh {
		t.Fatalf("expected high priority, got %s", o.Confirmation.Priority)
	}
	if len(notifier.events) != 1 || notifier.events[0] != notify.EventAssigned {
		t.Fatalf("expected assigned notification, got %v", notifier.events)
	}
	stored := store.orders["o1"]
	if stored.Confirmation.Status != models.ConfirmationAttempting {
		t.Fatalf("expected persisted attempting, got %s", stored.Confirmation.Status)
	}
}

func TestAssignAlreadyAssigned(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = attemptingOrder("o1", "c1", "a1")
	store.agents["a2"] = models.Agent{ID: "a2", Active: true}
	e := newTestEngine(store, &fakeNotifier{})

	_, err := e.Assign(context.Background(), "o1", "a2", "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAssignTerminalOrder(t *testing.T) {
	store := newFakeStore()
	o := pendingOrder("o1", "c1")
	o.Confirmation.Status = models.ConfirmationConfirmed
	store.orders["o1"] = o
	e := newTestEngine(store, &fakeNotifier{})

	_, err := e.Assign(context.Background(), "o1", "a1", "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAssignUnknownOrder(t *testing.T) {
	e := newTestEngine(newFakeStore(), &fakeNotifier{})
	_, err := e.Assign(context.Background(), "missing", "a1", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignUnknownAgent(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = pendingOrder("o1", "c1")
	e := newTestEngine(store, &fakeNotifier{})

	_, err := e.Assign(context.Background(), "o1", "ghost", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignStaleSnapshot(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = pendingOrder("o1", "c1")
	store.agents["a1"] = models.Agent{ID: "a1", Active: true}
	store.staleUpdates = true
	e := newTestEngine(store, &fakeNotifier{})

	_, err := e.Assign(context.Background(), "o1", "a1", "")
	if !errors.Is(err, ErrStaleOrder) {
		t.Fatalf("expected ErrStaleOrder, got %v", err)
	}
}

func TestRecordAttemptConfirms(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = attemptingOrder("o1", "c1", "a1")
	store.customers["c1"] = models.Customer{ID: "c1", Phone: "+213661234567"}
	store.history["c1"] = []models.Order{{Status: models.OrderConfirmed, Totals: models.Totals{Total: 4500}, CreatedAt: testNow}}
	notifier := &fakeNotifier{}
	e := newTestEngine(store, notifier)

	o, err := e.RecordAttempt(context.Background(), "o1", AttemptInput{
		AgentID: "a1",
		Method:  models.MethodCall,
		Outcome: models.OutcomeConfirmed,
	})
	if err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if o.Confirmation.Status != models.ConfirmationConfirmed {
		t.Fatalf("expected confirmed, got %s", o.Confirmation.Status)
	}
	if o.Status != models.OrderConfirmed {
		t.Fatalf("expected order status confirmed, got %s", o.Status)
	}
	if o.Confirmation.ConfirmedAt == nil || !o.Confirmation.ConfirmedAt.Equal(testNow) {
		t.Fatalf("expected confirmed_at %v, got %v", testNow, o.Confirmation.ConfirmedAt)
	}
	if len(o.Confirmation.Attempts) != 1 || o.Confirmation.Attempts[0].Number != 1 {
		t.Fatalf("expected one attempt numbered 1, got %+v", o.Confirmation.Attempts)
	}
	if len(notifier.events) != 1 || notifier.events[0] != notify.EventConfirmed {
		t.Fatalf("expected confirmed notification, got %v", notifier.events)
	}
	if _, ok := store.classified["c1"]; !ok {
		t.Fatalf("expected customer reclassified")
	}
}

func TestRecordAttemptNumbersAreGapless(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = attemptingOrder("o1", "c1", "a1")
	store.customers["c1"] = models.Customer{ID: "c1", Phone: "+213661234567"}
	e := newTestEngine(store, &fakeNotifier{})

	for i, outcome := range []string{models.OutcomeNoAnswer, models.OutcomeBusy, models.OutcomeConfirmed} {
		o, err := e.RecordAttempt(context.Background(), "o1", AttemptInput{AgentID: "a1", Method: models.MethodCall, Outcome: outcome})
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		got := o.Confirmation.Attempts[len(o.Confirmation.Attempts)-1].Number
		if got != i+1 {
			t.Fatalf("expected attempt number %d, got %d", i+1, got)
		}
	}
}

func TestRecordAttemptOnConfirmedOrder(t *testing.T) {
	store := newFakeStore()
	o := attemptingOrder("o1", "c1", "a1")
	o.Confirmation.Status = models.ConfirmationConfirmed
	store.orders["o1"] = o
	e := newTestEngine(store, &fakeNotifier{})

	_, err := e.RecordAttempt(context.Background(), "o1", AttemptInput{AgentID: "a1", Method: models.MethodCall, Outcome: models.OutcomeNoAnswer})
	if !errors.Is(err, ErrOrderAlreadyTerminal) {
		t.Fatalf("expected ErrOrderAlreadyTerminal, got %v", err)
	}
}

func TestRecordAttemptCancelledFlagsCustomer(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = attemptingOrder("o1", "c1", "a1")
	store.customers["c1"] = models.Customer{ID: "c1", Phone: "+213661234567"}
	notifier := &fakeNotifier{}
	e := newTestEngine(store, notifier)

	o, err := e.RecordAttempt(context.Background(), "o1", AttemptInput{AgentID: "a1", Method: models.MethodCall, Outcome: models.OutcomeCancelled})
	if err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if o.Confirmation.Status != models.ConfirmationFailed {
		t.Fatalf("expected failed, got %s", o.Confirmation.Status)
	}
	if o.Status != models.OrderCancelled || o.CancelledAt == nil {
		t.Fatalf("expected cancelled order with timestamp, got %s %v", o.Status, o.CancelledAt)
	}
	if len(store.flags["c1"]) != 1 {
		t.Fatalf("expected customer flagged once, got %v", store.flags["c1"])
	}
	if len(notifier.events) != 1 || notifier.events[0] != notify.EventCancelled {
		t.Fatalf("expected cancelled notification, got %v", notifier.events)
	}
}

func TestRecordAttemptRescheduleNotifiesOnlyWithTime(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = attemptingOrder("o1", "c1", "a1")
	store.customers["c1"] = models.Customer{ID: "c1", Phone: "+213661234567"}
	notifier := &fakeNotifier{}
	e := newTestEngine(store, notifier)

	if _, err := e.RecordAttempt(context.Background(), "o1", AttemptInput{AgentID: "a1", Method: models.MethodCall, Outcome: models.OutcomeReschedule}); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if len(notifier.events) != 0 {
		t.Fatalf("expected no notification without next attempt time, got %v", notifier.events)
	}

	next := testNow.Add(4 * time.Hour)
	if _, err := e.RecordAttempt(context.Background(), "o1", AttemptInput{AgentID: "a1", Method: models.MethodCall, Outcome: models.OutcomeReschedule, NextAttemptAt: &next}); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if len(notifier.events) != 1 || notifier.events[0] != notify.EventReschedule {
		t.Fatalf("expected reschedule notification, got %v", notifier.events)
	}
}

func TestRecordAttemptUnknownOutcome(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = attemptingOrder("o1", "c1", "a1")
	e := newTestEngine(store, &fakeNotifier{})

	_, err := e.RecordAttempt(context.Background(), "o1", AttemptInput{AgentID: "a1", Method: models.MethodCall, Outcome: "maybe"})
	if err == nil {
		t.Fatalf("expected error for unknown outcome")
	}
}

func TestConcurrentAttemptsSingleTerminalTransition(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = attemptingOrder("o1", "c1", "a1")
	store.customers["c1"] = models.Customer{ID: "c1", Phone: "+213661234567"}
	e := newTestEngine(store, &fakeNotifier{})

	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.RecordAttempt(context.Background(), "o1", AttemptInput{AgentID: "a1", Method: models.MethodCall, Outcome: models.OutcomeConfirmed})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, terminal int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrOrderAlreadyTerminal):
			terminal++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || terminal != workers-1 {
		t.Fatalf("expected exactly one transition, got %d succeeded / %d terminal", succeeded, terminal)
	}

	final := store.orders["o1"]
	if final.Confirmation.Status != models.ConfirmationConfirmed {
		t.Fatalf("expected confirmed, got %s", final.Confirmation.Status)
	}
	if len(final.Confirmation.Attempts) != 1 || final.Confirmation.Attempts[0].Number != 1 {
		t.Fatalf("expected a single attempt numbered 1, got %+v", final.Confirmation.Attempts)
	}
}

func TestNotificationFailureDoesNotRollBack(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = attemptingOrder("o1", "c1", "a1")
	store.customers["c1"] = models.Customer{ID: "c1", Phone: "+213661234567"}
	notifier := &fakeNotifier{fail: true}
	e := newTestEngine(store, notifier)

	o, err := e.RecordAttempt(context.Background(), "o1", AttemptInput{AgentID: "a1", Method: models.MethodCall, Outcome: models.OutcomeConfirmed})
	if err != nil {
		t.Fatalf("expected transition to survive notification failure, got %v", err)
	}
	if o.Confirmation.Status != models.ConfirmationConfirmed {
		t.Fatalf("expected confirmed, got %s", o.Confirmation.Status)
	}
	if len(store.notifications) != 1 || store.notifications[0].Status != models.NotificationFailed {
		t.Fatalf("expected failed notification record, got %+v", store.notifications)
	}
}

func TestAbandonAttempting(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = attemptingOrder("o1", "c1", "a1")
	notifier := &fakeNotifier{}
	e := newTestEngine(store, notifier)

	o, err := e.Abandon(context.Background(), "o1")
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if o.Confirmation.Status != models.ConfirmationAbandoned {
		t.Fatalf("expected abandoned, got %s", o.Confirmation.Status)
	}
	if len(notifier.events) != 0 {
		t.Fatalf("expected no notification on abandon, got %v", notifier.events)
	}
}

func TestAbandonPendingOrder(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = pendingOrder("o1", "c1")
	e := newTestEngine(store, &fakeNotifier{})

	_, err := e.Abandon(context.Background(), "o1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAbandonTerminalOrder(t *testing.T) {
	store := newFakeStore()
	o := attemptingOrder("o1", "c1", "a1")
	o.Confirmation.Status = models.ConfirmationFailed
	store.orders["o1"] = o
	e := newTestEngine(store, &fakeNotifier{})

	_, err := e.Abandon(context.Background(), "o1")
	if !errors.Is(err, ErrOrderAlreadyTerminal) {
		t.Fatalf("expected ErrOrderAlreadyTerminal, got %v", err)
	}
}

func TestOverrideDuplicate(t *testing.T) {
	store := newFakeStore()
	orig := "o0"
	o := pendingOrder("o1", "c1")
	o.Duplicate = models.DuplicateInfo{IsDuplicate: true, OriginalOrderID: &orig, Score: 85, Method: models.DetectionAutomatic}
	store.orders["o1"] = o
	e := newTestEngine(store, &fakeNotifier{})

	cleared, err := e.OverrideDuplicate(context.Background(), "o1", false, "")
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if cleared.Duplicate.IsDuplicate || cleared.Duplicate.Method != models.DetectionManual {
		t.Fatalf("expected cleared manual flag, got %+v", cleared.Duplicate)
	}
	if cleared.Duplicate.OriginalOrderID != nil {
		t.Fatalf("expected no original after clear, got %v", cleared.Duplicate.OriginalOrderID)
	}

	confirmed, err := e.OverrideDuplicate(context.Background(), "o1", true, "o9")
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if !confirmed.Duplicate.IsDuplicate || confirmed.Duplicate.OriginalOrderID == nil || *confirmed.Duplicate.OriginalOrderID != "o9" {
		t.Fatalf("expected confirmed duplicate of o9, got %+v", confirmed.Duplicate)
	}
}

func TestAssignOrderDerivesPriorityFromTier(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = pendingOrder("o1", "c1")
	store.agents["a1"] = models.Agent{ID: "a1", Active: true, Rating: 4, MaxOrdersPerDay: 20}
	store.customers["c1"] = models.Customer{ID: "c1", Phone: "+213661234567", Classification: models.CustomerClassification{Tier: models.TierVIP}}
	e := newTestEngine(store, &fakeNotifier{})

	o, assigned, err := e.AssignOrder(context.Background(), "o1", "", "")
	if err != nil {
		t.Fatalf("assign order: %v", err)
	}
	if !assigned {
		t.Fatalf("expected assignment")
	}
	if o.Confirmation.Priority != models.PriorityUrgent {
		t.Fatalf("expected urgent priority for vip customer, got %s", o.Confirmation.Priority)
	}
}

func TestAssignOrderBackpressure(t *testing.T) {
	store := newFakeStore()
	store.orders["o1"] = pendingOrder("o1", "c1")
	store.customers["c1"] = models.Customer{ID: "c1"}
	e := newTestEngine(store, &fakeNotifier{})

	o, assigned, err := e.AssignOrder(context.Background(), "o1", "", "")
	if err != nil {
		t.Fatalf("assign order: %v", err)
	}
	if assigned {
		t.Fatalf("expected backpressure with no agents")
	}
	if o.Confirmation.Status != models.ConfirmationPending {
		t.Fatalf("expected order left pending, got %s", o.Confirmation.Status)
	}
}
