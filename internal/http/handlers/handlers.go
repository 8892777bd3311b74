package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/ecomanager/backend/internal/db"
	"github.com/ecomanager/backend/internal/models"
	"github.com/ecomanager/backend/internal/service"
)

type Handler struct {
	Store             *db.Store
	Engine            *service.Engine
	Validator         *validator.Validate
	Logger            zerolog.Logger
	AdminKey          string
	PassDeadline      time.Duration
	DuplicateLookback time.Duration
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary List orders
// @Description Orders filtered by confirmation status, priority, agent and creation range
// @Tags orders
// @Produce json
// @Param confirmation_status query string false "pending|attempting|confirmed|failed|abandoned"
// @Param priority query string false "low|normal|high|urgent"
// @Param agent query string false "assigned agent id"
// @Param unassigned query bool false "only unassigned orders"
// @Success 200 {object} map[string]any
// @Router /api/orders [get]
func (h *Handler) OrdersList(c *gin.Context) {
	filter := db.OrderFilter{
		Status:         c.Query("status"),
		Priority:       c.Query("priority"),
		AssignedAgent:  c.Query("agent"),
		CustomerID:     c.Query("customer_id"),
		Unassigned:     c.Query("unassigned") == "true",
		SortByPriority: true,
	}
	if v := c.Query("confirmation_status"); v != "" {
		filter.ConfirmationStatuses = []string{v}
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "from must be RFC3339", nil)
			return
		}
		filter.CreatedFrom = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "to must be RFC3339", nil)
			return
		}
		filter.CreatedTo = &t
	}
	filter.Limit = intQuery(c, "limit", 50)
	filter.Offset = intQuery(c, "offset", 0)

	orders, err := h.Store.QueryOrders(c.Request.Context(), filter)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list orders", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (h *Handler) OrderDetails(c *gin.Context) {
	order, err := h.Store.LoadOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Order not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load order", err.Error())
		return
	}

	notifications, err := h.Store.ListNotifications(c.Request.Context(), order.ID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load notifications", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "notifications": notifications})
}

type createOrderItem struct {
	ProductID string  `json:"product_id" validate:"required"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity" validate:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
}

type createOrderRequest struct {
	CustomerID    string            `json:"customer_id" validate:"required"`
	Items         []createOrderItem `json:"items" validate:"required,min=1,dive"`
	Shipping      models.Address    `json:"shipping"`
	PaymentMethod string            `json:"payment_method" validate:"required,oneof=cod card bank_transfer cib"`
	ShippingFee   float64           `json:"shipping_fee" validate:"gte=0"`
	Tax           float64           `json:"tax" validate:"gte=0"`
	Discount      float64           `json:"discount" validate:"gte=0"`
	Currency      string            `json:"currency"`
}

// @Summary Create order
// @Description Registers an order for confirmation; totals are computed and
// @Description the order is scored against the customer's recent orders for duplicates
// @Tags orders
// @Accept json
// @Produce json
// @Success 201 {object} map[string]any
// @Router /api/orders [post]
func (h *Handler) OrderCreate(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	ctx := c.Request.Context()
	if _, err := h.Store.LoadCustomer(ctx, req.CustomerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Customer not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load customer", err.Error())
		return
	}

	order := models.Order{
		CustomerID:    req.CustomerID,
		Shipping:      req.Shipping,
		PaymentMethod: req.PaymentMethod,
		Currency:      req.Currency,
		Status:        models.OrderPending,
		Confirmation: models.ConfirmationState{
			Status:   models.ConfirmationPending,
			Priority: models.PriorityNormal,
		},
		CreatedAt: time.Now().UTC(),
	}
	if order.Currency == "" {
		order.Currency = "DZD"
	}
	for _, it := range req.Items {
		order.Items = append(order.Items, models.OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	order.Totals.Shipping = req.ShippingFee
	order.Totals.Tax = req.Tax
	order.Totals.Discount = req.Discount
	order.CalculateTotals()

	siblings, err := h.Store.CustomerOrdersWithin(ctx, order.CustomerID, order.CreatedAt, service.DuplicateWindow)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load recent orders", err.Error())
		return
	}
	if res := service.DetectDuplicate(order, siblings); res.IsDuplicate {
		now := time.Now().UTC()
		order.Duplicate = models.DuplicateInfo{
			IsDuplicate:     true,
			OriginalOrderID: &res.OriginalOrderID,
			Score:           res.Score,
			Method:          models.DetectionAutomatic,
			DetectedAt:      &now,
		}
	}

	if err := h.Store.InsertOrder(ctx, &order); err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to create order", err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

type assignRequest struct {
	AgentID  string `json:"agent_id"`
	Priority string `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
}

// @Summary Assign order to a confirmation agent
// @Tags confirmation
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/orders/{id}/assign [post]
func (h *Handler) AssignOrder(c *gin.Context) {
	// An empty body means auto-pick agent and derive priority.
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	order, assigned, err := h.Engine.AssignOrder(c.Request.Context(), c.Param("id"), req.AgentID, req.Priority)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if !assigned {
		c.JSON(http.StatusOK, gin.H{"assigned": false, "message": "No agent available; order left unassigned"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assigned": true, "order": order})
}

type attemptRequest struct {
	AgentID         string `json:"agent_id" validate:"required"`
	Method          string `json:"method" validate:"required,oneof=call sms"`
	Outcome         string `json:"outcome" validate:"required,oneof=no_answer confirmed cancelled reschedule wrong_number busy"`
	Notes           string `json:"notes"`
	NextAttemptAt   string `json:"next_attempt_at" validate:"omitempty"`
	DurationSeconds int    `json:"duration_seconds" validate:"gte=0"`
}

// @Summary Record a confirmation attempt
// @Tags confirmation
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/orders/{id}/attempts [post]
func (h *Handler) RecordAttempt(c *gin.Context) {
	var req attemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	in := service.AttemptInput{
		AgentID:         req.AgentID,
		Method:          req.Method,
		Outcome:         req.Outcome,
		Notes:           req.Notes,
		DurationSeconds: req.DurationSeconds,
	}
	if req.NextAttemptAt != "" {
		t, err := time.Parse(time.RFC3339, req.NextAttemptAt)
		if err != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "next_attempt_at must be RFC3339", nil)
			return
		}
		in.NextAttemptAt = &t
	}

	order, err := h.Engine.RecordAttempt(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// @Summary Abandon an order's confirmation
// @Tags confirmation
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/orders/{id}/abandon [post]
func (h *Handler) AbandonOrder(c *gin.Context) {
	order, err := h.Engine.Abandon(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

type duplicateOverrideRequest struct {
	Action          string `json:"action" validate:"required,oneof=confirm clear"`
	OriginalOrderID string `json:"original_order_id"`
}

// @Summary Manually confirm or clear a duplicate flag
// @Tags orders
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/orders/{id}/duplicate [post]
func (h *Handler) DuplicateOverride(c *gin.Context) {
	var req duplicateOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	order, err := h.Engine.OverrideDuplicate(c.Request.Context(), c.Param("id"), req.Action == "confirm", req.OriginalOrderID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (h *Handler) AgentsList(c *gin.Context) {
	ctx := c.Request.Context()
	agents, err := h.Store.ListAgents(ctx, false)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list agents", err.Error())
		return
	}
	open, err := h.Store.OpenAssignmentCounts(ctx)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to derive workloads", err.Error())
		return
	}
	for i := range agents {
		agents[i].OpenAssignments = open[agents[i].ID]
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

func (h *Handler) CustomerDetails(c *gin.Context) {
	ctx := c.Request.Context()
	customer, err := h.Store.LoadCustomer(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Customer not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load customer", err.Error())
		return
	}

	history, err := h.Store.LoadCustomerHistory(ctx, customer.ID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load orders", err.Error())
		return
	}
	// Most recent 10, newest first.
	recent := make([]models.Order, 0, 10)
	for i := len(history) - 1; i >= 0 && len(recent) < 10; i-- {
		recent = append(recent, history[i])
	}
	c.JSON(http.StatusOK, gin.H{"customer": customer, "recent_orders": recent})
}

// @Summary Confirmation dashboard statistics
// @Tags stats
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/stats/dashboard [get]
func (h *Handler) DashboardStats(c *gin.Context) {
	ctx := c.Request.Context()
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := dayStart.AddDate(0, 0, -int(dayStart.Weekday()))
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	pending, err := h.Store.CountPendingConfirmations(ctx)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to count pending", err.Error())
		return
	}
	today, err := h.Store.CountConfirmedSince(ctx, dayStart)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to count confirmations", err.Error())
		return
	}
	week, err := h.Store.CountConfirmedSince(ctx, weekStart)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to count confirmations", err.Error())
		return
	}
	month, err := h.Store.CountConfirmedSince(ctx, monthStart)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to count confirmations", err.Error())
		return
	}
	duplicates, err := h.Store.CountDuplicateOrders(ctx)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to count duplicates", err.Error())
		return
	}
	bad, err := h.Store.CountCustomersByTier(ctx, models.TierBad)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to count customers", err.Error())
		return
	}
	loyal, err := h.Store.CountCustomersByTier(ctx, models.TierLoyal, models.TierVIP)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to count customers", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pending_confirmations": pending,
		"confirmations": gin.H{
			"today": today,
			"week":  week,
			"month": month,
		},
		"duplicate_orders": duplicates,
		"customers": gin.H{
			"bad":   bad,
			"loyal": loyal,
		},
	})
}

func (h *Handler) RunsLatest(c *gin.Context) {
	run, err := h.Store.GetLatestRun(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "No runs found", err.Error())
		return
	}
	c.JSON(http.StatusOK, runPayload(run))
}

// @Summary Run the auto-assignment pass
// @Tags passes
// @Produce json
// @Success 200 {object} service.PassSummary
// @Router /api/passes/auto-assign [post]
func (h *Handler) PassAutoAssign(c *gin.Context) {
	h.runPass(c, "auto_assign", func(ctx context.Context) (service.PassSummary, error) {
		return h.Engine.AutoAssignPass(ctx)
	})
}

// @Summary Run the duplicate detection pass
// @Tags passes
// @Produce json
// @Success 200 {object} service.PassSummary
// @Router /api/passes/detect-duplicates [post]
func (h *Handler) PassDetectDuplicates(c *gin.Context) {
	lookback := h.DuplicateLookback
	if v := c.Query("lookback_hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "lookback_hours must be a positive integer", nil)
			return
		}
		lookback = time.Duration(hours) * time.Hour
	}
	h.runPass(c, "duplicate_detection", func(ctx context.Context) (service.PassSummary, error) {
		return h.Engine.DuplicateDetectionPass(ctx, lookback)
	})
}

// @Summary Run the classification sweep
// @Tags passes
// @Produce json
// @Success 200 {object} service.PassSummary
// @Router /api/passes/classify [post]
func (h *Handler) PassClassify(c *gin.Context) {
	h.runPass(c, "classification_sweep", func(ctx context.Context) (service.PassSummary, error) {
		return h.Engine.ClassificationSweep(ctx)
	})
}

func (h *Handler) runPass(c *gin.Context, name string, pass func(ctx context.Context) (service.PassSummary, error)) {
	ctx := c.Request.Context()
	if h.PassDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.PassDeadline)
		defer cancel()
	}

	runID, err := h.Store.CreateRun(c.Request.Context(), name, "RUNNING")
	if err != nil {
		h.Logger.Error().Err(err).Msg("failed to create run")
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to create run", err.Error())
		return
	}

	summary, err := pass(ctx)
	status := "SUCCESS"
	if err != nil {
		status = "FAILED"
	}
	b, _ := json.Marshal(summary)
	if finishErr := h.Store.FinishRun(c.Request.Context(), runID, status, b); finishErr != nil {
		h.Logger.Error().Err(finishErr).Msg("failed to finish run")
	}

	if err != nil {
		h.Logger.Error().Err(err).Str("pass", summary.Pass).Msg("pass failed")
		writeError(c, http.StatusInternalServerError, "PASS_ERROR", "Pass failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, summary)
}

func runPayload(r models.Run) gin.H {
	var summary any
	if len(r.Summary) > 0 {
		_ = json.Unmarshal(r.Summary, &summary)
	}
	return gin.H{
		"id":          r.ID,
		"pass":        r.Pass,
		"started_at":  r.StartedAt,
		"finished_at": r.FinishedAt,
		"status":      r.Status,
		"summary":     summary,
	}
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Not found", err.Error())
	case errors.Is(err, service.ErrOrderAlreadyTerminal):
		writeError(c, http.StatusConflict, "ORDER_ALREADY_TERMINAL", "Order confirmation already terminal", err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(c, http.StatusConflict, "INVALID_TRANSITION", "Invalid confirmation transition", err.Error())
	case errors.Is(err, service.ErrStaleOrder):
		writeError(c, http.StatusConflict, "CONFLICT", "Order changed concurrently", err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Operation failed", err.Error())
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
