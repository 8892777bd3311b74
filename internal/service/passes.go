package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ecomanager/backend/internal/db"
	"github.com/ecomanager/backend/internal/models"
	"github.com/ecomanager/backend/internal/utils"
)

// DefaultDuplicateLookback bounds how far back the duplicate sweep scans for
// unflagged orders.
const DefaultDuplicateLookback = 7 * 24 * time.Hour

const classificationSweepWorkers = 8

type PassError struct {
	OrderID    string `json:"order_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	Error      string `json:"error"`
}

// PassSummary reports one batch pass: counts plus per-item failures. Batch
// passes never abort on a single item.
type PassSummary struct {
	Pass       string         `json:"pass"`
	Counts     map[string]int `json:"counts"`
	Errors     []PassError    `json:"errors,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

func newSummary(pass string, start time.Time) PassSummary {
	return PassSummary{Pass: pass, Counts: map[string]int{}, StartedAt: start}
}

// AutoAssignPass dispatches every unassigned pending order, oldest first.
// Each agent's workload is recomputed after every successful assignment so
// later orders in the same pass see the updated load. The pass stops picking
// new orders once the caller's deadline passes and returns partial results.
func (e *Engine) AutoAssignPass(ctx context.Context) (PassSummary, error) {
	summary := newSummary("auto_assign", e.now())

	orders, err := e.Store.QueryOrders(ctx, db.OrderFilter{
		Status:               models.OrderPending,
		ConfirmationStatuses: []string{models.ConfirmationPending},
		Unassigned:           true,
	})
	if err != nil {
		return summary, err
	}
	agents, err := e.Store.ListAgents(ctx, true)
	if err != nil {
		return summary, err
	}
	open, err := e.Store.OpenAssignmentCounts(ctx)
	if err != nil {
		return summary, err
	}
	dayStart, dayEnd := utils.DayBounds(e.now())
	today, err := e.Store.AssignmentCountsBetween(ctx, dayStart, dayEnd)
	if err != nil {
		return summary, err
	}

	customers := map[string]models.Customer{}

	for _, o := range orders {
		if ctx.Err() != nil {
			summary.Counts["deadline_skipped"] = len(orders) - summary.Counts["processed"]
			break
		}
		summary.Counts["processed"]++

		customer, ok := customers[o.CustomerID]
		if !ok {
			var err error
			customer, err = e.Store.LoadCustomer(ctx, o.CustomerID)
			if err != nil {
				summary.Counts["failed"]++
				summary.Errors = append(summary.Errors, PassError{OrderID: o.ID, CustomerID: o.CustomerID, Error: err.Error()})
				continue
			}
			customers[o.CustomerID] = customer
		}

		picked, _ := PickAgent(customer, o, agents, open, today, e.now())
		if picked == nil {
			summary.Counts["unassigned"]++
			continue
		}

		priority := Priority(o, customer.Classification.Tier)
		if _, err := e.Assign(ctx, o.ID, picked.ID, priority); err != nil {
			if errors.Is(err, ErrStaleOrder) || errors.Is(err, ErrInvalidTransition) {
				summary.Counts["skipped_stale"]++
			} else {
				summary.Counts["failed"]++
			}
			summary.Errors = append(summary.Errors, PassError{OrderID: o.ID, Error: err.Error()})
			continue
		}

		summary.Counts["assigned"]++
		open[picked.ID]++
		today[picked.ID]++
	}

	summary.FinishedAt = e.now()
	return summary, nil
}

// DuplicateDetectionPass scores every unflagged order created within the
// lookback window against its same-customer siblings and flags the ones that
// cross the threshold.
func (e *Engine) DuplicateDetectionPass(ctx context.Context, lookback time.Duration) (PassSummary, error) {
	summary := newSummary("duplicate_detection", e.now())
	if lookback <= 0 {
		lookback = DefaultDuplicateLookback
	}

	orders, err := e.Store.OrdersForDuplicateSweep(ctx, e.now().Add(-lookback))
	if err != nil {
		return summary, err
	}

	for _, o := range orders {
		if ctx.Err() != nil {
			summary.Counts["deadline_skipped"] = len(orders) - summary.Counts["processed"]
			break
		}
		summary.Counts["processed"]++

		siblings, err := e.Store.CustomerOrdersWithin(ctx, o.CustomerID, o.CreatedAt, DuplicateWindow)
		if err != nil {
			summary.Counts["failed"]++
			summary.Errors = append(summary.Errors, PassError{OrderID: o.ID, Error: err.Error()})
			continue
		}

		res := DetectDuplicate(o, siblings)
		if !res.IsDuplicate {
			continue
		}

		now := e.now()
		info := models.DuplicateInfo{
			IsDuplicate:     true,
			OriginalOrderID: &res.OriginalOrderID,
			Score:           res.Score,
			Method:          models.DetectionAutomatic,
			DetectedAt:      &now,
		}
		if err := e.Store.UpdateDuplicateInfo(ctx, o.ID, info); err != nil {
			summary.Counts["failed"]++
			summary.Errors = append(summary.Errors, PassError{OrderID: o.ID, Error: err.Error()})
			continue
		}
		summary.Counts["duplicates_found"]++
	}

	summary.FinishedAt = e.now()
	return summary, nil
}

// ClassificationSweep recomputes every customer's classification from their
// full order history.
func (e *Engine) ClassificationSweep(ctx context.Context) (PassSummary, error) {
	summary := newSummary("classification_sweep", e.now())

	ids, err := e.Store.ListCustomerIDs(ctx)
	if err != nil {
		return summary, err
	}
	summary.Counts["processed"] = len(ids)

	var (
		mu      sync.Mutex
		updated int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(classificationSweepWorkers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			history, err := e.Store.LoadCustomerHistory(gctx, id)
			if err == nil {
				err = e.Store.SaveClassification(gctx, id, Classify(history))
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Errors = append(summary.Errors, PassError{CustomerID: id, Error: err.Error()})
				return nil
			}
			updated++
			return nil
		})
	}
	_ = g.Wait()

	summary.Counts["updated"] = updated
	summary.Counts["failed"] = len(summary.Errors)
	summary.FinishedAt = e.now()
	return summary, nil
}
