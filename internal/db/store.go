package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecomanager/backend/internal/models"
	"github.com/ecomanager/backend/internal/utils"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const orderColumns = `id, order_number, customer_id, items, subtotal, shipping_fee, tax, discount, total, currency,
	ship_first_name, ship_last_name, ship_phone, ship_street, ship_city, ship_province, ship_postal_code,
	payment_method, status, cancelled_at,
	confirmation_status, confirmation_priority, assigned_agent, assigned_at, confirmed_at,
	duplicate_flag, duplicate_of, duplicate_score, duplicate_method, duplicate_detected_at, created_at`

func scanOrder(row pgx.Row) (models.Order, error) {
	var (
		o     models.Order
		items []byte
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &items,
		&o.Totals.Subtotal, &o.Totals.Shipping, &o.Totals.Tax, &o.Totals.Discount, &o.Totals.Total, &o.Currency,
		&o.Shipping.FirstName, &o.Shipping.LastName, &o.Shipping.Phone, &o.Shipping.Street, &o.Shipping.City, &o.Shipping.Province, &o.Shipping.PostalCode,
		&o.PaymentMethod, &o.Status, &o.CancelledAt,
		&o.Confirmation.Status, &o.Confirmation.Priority, &o.Confirmation.AssignedAgent, &o.Confirmation.AssignedAt, &o.Confirmation.ConfirmedAt,
		&o.Duplicate.IsDuplicate, &o.Duplicate.OriginalOrderID, &o.Duplicate.Score, &o.Duplicate.Method, &o.Duplicate.DetectedAt, &o.CreatedAt,
	)
	if err != nil {
		return models.Order{}, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return models.Order{}, err
		}
	}
	return o, nil
}

// InsertOrder stores a new order, generating the id and the date-coded order
// number (sequence = count of today's orders + 1) inside one transaction.
func (s *Store) InsertOrder(ctx context.Context, o *models.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}

	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if o.OrderNumber == "" {
			dayStart, dayEnd := utils.DayBounds(o.CreatedAt)
			var todayCount int
			if err := tx.QueryRow(ctx,
				`SELECT COUNT(*) FROM orders WHERE created_at >= $1 AND created_at < $2`,
				dayStart, dayEnd,
			).Scan(&todayCount); err != nil {
				return err
			}
			o.OrderNumber = models.OrderNumber(o.CreatedAt, todayCount+1)
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31)
		`,
			o.ID, o.OrderNumber, o.CustomerID, items,
			o.Totals.Subtotal, o.Totals.Shipping, o.Totals.Tax, o.Totals.Discount, o.Totals.Total, o.Currency,
			o.Shipping.FirstName, o.Shipping.LastName, o.Shipping.Phone, o.Shipping.Street, o.Shipping.City, o.Shipping.Province, o.Shipping.PostalCode,
			o.PaymentMethod, o.Status, o.CancelledAt,
			o.Confirmation.Status, o.Confirmation.Priority, o.Confirmation.AssignedAgent, o.Confirmation.AssignedAt, o.Confirmation.ConfirmedAt,
			o.Duplicate.IsDuplicate, o.Duplicate.OriginalOrderID, o.Duplicate.Score, o.Duplicate.Method, o.Duplicate.DetectedAt, o.CreatedAt,
		)
		return err
	})
}

func (s *Store) LoadOrder(ctx context.Context, id string) (models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		return models.Order{}, err
	}
	attempts, err := s.loadAttempts(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	o.Confirmation.Attempts = attempts
	return o, nil
}

func (s *Store) loadAttempts(ctx context.Context, orderID string) ([]models.Attempt, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT attempt_number, agent_id, method, outcome, notes, next_attempt_at, duration_seconds, created_at
		FROM confirmation_attempts
		WHERE order_id = $1
		ORDER BY attempt_number ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Attempt
	for rows.Next() {
		var a models.Attempt
		if err := rows.Scan(&a.Number, &a.AgentID, &a.Method, &a.Outcome, &a.Notes, &a.NextAttemptAt, &a.DurationSeconds, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type OrderFilter struct {
	Status               string
	ConfirmationStatuses []string
	Priority             string
	AssignedAgent        string
	Unassigned           bool
	CustomerID           string
	CreatedFrom          *time.Time
	CreatedTo            *time.Time
	// SortByPriority lists urgent work first; the default is oldest first,
	// which batch passes rely on.
	SortByPriority bool
	Limit          int
	Offset         int
}

func buildOrderQuery(f OrderFilter) (string, []any) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	var args []any
	var wheres []string
	if f.Status != "" {
		args = append(args, f.Status)
		wheres = append(wheres, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(f.ConfirmationStatuses) > 0 {
		args = append(args, f.ConfirmationStatuses)
		wheres = append(wheres, fmt.Sprintf("confirmation_status = ANY($%d)", len(args)))
	}
	if f.Priority != "" {
		args = append(args, f.Priority)
		wheres = append(wheres, fmt.Sprintf("confirmation_priority = $%d", len(args)))
	}
	if f.AssignedAgent != "" {
		args = append(args, f.AssignedAgent)
		wheres = append(wheres, fmt.Sprintf("assigned_agent = $%d", len(args)))
	}
	if f.Unassigned {
		wheres = append(wheres, "assigned_agent IS NULL")
	}
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		wheres = append(wheres, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if f.CreatedFrom != nil {
		args = append(args, *f.CreatedFrom)
		wheres = append(wheres, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.CreatedTo != nil {
		args = append(args, *f.CreatedTo)
		wheres = append(wheres, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	if f.SortByPriority {
		query += " ORDER BY CASE confirmation_priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END, created_at ASC"
	} else {
		query += " ORDER BY created_at ASC"
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

func (s *Store) QueryOrders(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	query, args := buildOrderQuery(f)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CustomerOrdersWithin returns the customer's orders created within the given
// window around center, sorted by creation time ascending.
func (s *Store) CustomerOrdersWithin(ctx context.Context, customerID string, center time.Time, window time.Duration) ([]models.Order, error) {
	from := center.Add(-window)
	to := center.Add(window)
	return s.QueryOrders(ctx, OrderFilter{CustomerID: customerID, CreatedFrom: &from, CreatedTo: &to})
}

// UpdateConfirmation writes the order's confirmation and fulfillment state
// back, compare-and-set on the previously observed confirmation status. The
// returned bool is false when a concurrent writer got there first; nothing is
// written in that case. A non-nil attempt is appended in the same
// transaction.
func (s *Store) UpdateConfirmation(ctx context.Context, o models.Order, expectedStatus string, attempt *models.Attempt) (bool, error) {
	changed := false
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET
				status = $1,
				cancelled_at = $2,
				confirmation_status = $3,
				confirmation_priority = $4,
				assigned_agent = $5,
				assigned_at = $6,
				confirmed_at = $7
			WHERE id = $8 AND confirmation_status = $9
		`,
			o.Status, o.CancelledAt,
			o.Confirmation.Status, o.Confirmation.Priority, o.Confirmation.AssignedAgent, o.Confirmation.AssignedAt, o.Confirmation.ConfirmedAt,
			o.ID, expectedStatus,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		changed = true

		if attempt != nil {
			_, err = tx.Exec(ctx, `
				INSERT INTO confirmation_attempts (order_id, attempt_number, agent_id, method, outcome, notes, next_attempt_at, duration_seconds, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`, o.ID, attempt.Number, attempt.AgentID, attempt.Method, attempt.Outcome, attempt.Notes, attempt.NextAttemptAt, attempt.DurationSeconds, attempt.CreatedAt)
		}
		return err
	})
	return changed, err
}

func (s *Store) UpdateDuplicateInfo(ctx context.Context, orderID string, d models.DuplicateInfo) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE orders SET
			duplicate_flag = $1,
			duplicate_of = $2,
			duplicate_score = $3,
			duplicate_method = $4,
			duplicate_detected_at = $5
		WHERE id = $6
	`, d.IsDuplicate, d.OriginalOrderID, d.Score, d.Method, d.DetectedAt, orderID)
	return err
}

// OrdersForDuplicateSweep lists orders not yet flagged as duplicates created
// since the given time, oldest first.
func (s *Store) OrdersForDuplicateSweep(ctx context.Context, since time.Time) ([]models.Order, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE duplicate_flag = FALSE AND created_at >= $1
		ORDER BY created_at ASC
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// OpenAssignmentCounts derives each agent's current attempting workload from
// the orders table.
func (s *Store) OpenAssignmentCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT assigned_agent, COUNT(*)
		FROM orders
		WHERE confirmation_status = 'attempting' AND assigned_agent IS NOT NULL
		GROUP BY assigned_agent
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var agentID string
		var count int
		if err := rows.Scan(&agentID, &count); err != nil {
			return nil, err
		}
		out[agentID] = count
	}
	return out, rows.Err()
}

// AssignmentCountsBetween counts per-agent assignments made inside [from, to),
// used for the daily cap check.
func (s *Store) AssignmentCountsBetween(ctx context.Context, from, to time.Time) (map[string]int, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT assigned_agent, COUNT(*)
		FROM orders
		WHERE assigned_agent IS NOT NULL AND assigned_at >= $1 AND assigned_at < $2
		GROUP BY assigned_agent
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var agentID string
		var count int
		if err := rows.Scan(&agentID, &count); err != nil {
			return nil, err
		}
		out[agentID] = count
	}
	return out, rows.Err()
}

const agentColumns = `id, name, preferred_languages, regions, work_start, work_end, max_orders_per_day, rating, active`

func (s *Store) ListAgents(ctx context.Context, activeOnly bool) ([]models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.PreferredLanguages, &a.Regions, &a.WorkStart, &a.WorkEnd, &a.MaxOrdersPerDay, &a.Rating, &a.Active); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) LoadAgent(ctx context.Context, id string) (models.Agent, error) {
	var a models.Agent
	err := s.Pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.PreferredLanguages, &a.Regions, &a.WorkStart, &a.WorkEnd, &a.MaxOrdersPerDay, &a.Rating, &a.Active)
	return a, err
}

const customerColumns = `id, first_name, last_name, phone, email, preferred_language,
	tier, score, total_orders, total_spent, cancelled_orders, returned_orders, last_order_at,
	flag_count, last_flag_reason, updated_at`

func (s *Store) LoadCustomer(ctx context.Context, id string) (models.Customer, error) {
	var c models.Customer
	err := s.Pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id).Scan(
		&c.ID, &c.FirstName, &c.LastName, &c.Phone, &c.Email, &c.PreferredLanguage,
		&c.Classification.Tier, &c.Classification.Score, &c.Classification.TotalOrders, &c.Classification.TotalSpent,
		&c.Classification.CancelledOrders, &c.Classification.ReturnedOrders, &c.Classification.LastOrderAt,
		&c.FlagCount, &c.LastFlagReason, &c.UpdatedAt,
	)
	return c, err
}

func (s *Store) ListCustomerIDs(ctx context.Context) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id FROM customers ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// LoadCustomerHistory returns every order the customer ever placed, oldest
// first. Classification is always recomputed from this full set.
func (s *Store) LoadCustomerHistory(ctx context.Context, customerID string) ([]models.Order, error) {
	return s.QueryOrders(ctx, OrderFilter{CustomerID: customerID})
}

func (s *Store) SaveClassification(ctx context.Context, customerID string, cls models.CustomerClassification) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE customers SET
			tier = $1,
			score = $2,
			total_orders = $3,
			total_spent = $4,
			cancelled_orders = $5,
			returned_orders = $6,
			last_order_at = $7,
			updated_at = NOW()
		WHERE id = $8
	`, cls.Tier, cls.Score, cls.TotalOrders, cls.TotalSpent, cls.CancelledOrders, cls.ReturnedOrders, cls.LastOrderAt, customerID)
	return err
}

func (s *Store) FlagCustomer(ctx context.Context, customerID string, reason string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE customers SET flag_count = flag_count + 1, last_flag_reason = $1, updated_at = NOW()
		WHERE id = $2
	`, reason, customerID)
	return err
}

func (s *Store) InsertNotification(ctx context.Context, n models.NotificationRecord) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO notifications (id, order_id, event, status, provider_message_id, error, sent_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, n.ID, n.OrderID, n.Event, n.Status, n.ProviderMessageID, n.Error, n.SentAt)
	return err
}

func (s *Store) ListNotifications(ctx context.Context, orderID string) ([]models.NotificationRecord, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, order_id, event, status, provider_message_id, error, sent_at
		FROM notifications WHERE order_id = $1 ORDER BY sent_at ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.NotificationRecord
	for rows.Next() {
		var n models.NotificationRecord
		if err := rows.Scan(&n.ID, &n.OrderID, &n.Event, &n.Status, &n.ProviderMessageID, &n.Error, &n.SentAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) CreateRun(ctx context.Context, pass string, status string) (string, error) {
	var id string
	err := s.Pool.QueryRow(ctx, `INSERT INTO runs (pass, status, started_at) VALUES ($1, $2, NOW()) RETURNING id`, pass, status).Scan(&id)
	return id, err
}

func (s *Store) FinishRun(ctx context.Context, runID string, status string, summary []byte) error {
	_, err := s.Pool.Exec(ctx, `UPDATE runs SET status = $1, summary = $2, finished_at = NOW() WHERE id = $3`, status, summary, runID)
	return err
}

func (s *Store) GetLatestRun(ctx context.Context) (models.Run, error) {
	var r models.Run
	err := s.Pool.QueryRow(ctx, `SELECT id, pass, started_at, finished_at, status, summary FROM runs ORDER BY started_at DESC LIMIT 1`).
		Scan(&r.ID, &r.Pass, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Summary)
	return r, err
}

// Dashboard counters.

func (s *Store) CountPendingConfirmations(ctx context.Context) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE confirmation_status IN ('pending', 'attempting') AND status = 'pending'
	`).Scan(&n)
	return n, err
}

func (s *Store) CountConfirmedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE confirmation_status = 'confirmed' AND confirmed_at >= $1
	`, since).Scan(&n)
	return n, err
}

func (s *Store) CountDuplicateOrders(ctx context.Context) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE duplicate_flag = TRUE`).Scan(&n)
	return n, err
}

func (s *Store) CountCustomersByTier(ctx context.Context, tiers ...string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM customers WHERE tier = ANY($1)`, tiers).Scan(&n)
	return n, err
}
