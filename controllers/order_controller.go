package controllers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"seed-order-service/config"
	"seed-order-service/logging"
	"seed-order-service/middlewares"
	"seed-order-service/models"
	"seed-order-service/repository"
	"seed-order-service/services"
)

const (
	IdempotencyKeyHeader = "X-Idempotency-Key"
	createScope          = "create_order"
)

// IdempotencyStore deduplicates retried order submissions.
type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Unlock(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}

type OrderController struct {
	orders       *services.OrderService
	idem         IdempotencyStore
	exposeErrors bool
	timeout      time.Duration
}

// NewOrderController builds the HTTP handlers. idem may be nil, in which
// case X-Idempotency-Key is ignored.
func NewOrderController(orders *services.OrderService, idem IdempotencyStore, cfg *config.Config) *OrderController {
	return &OrderController{
		orders:       orders,
		idem:         idem,
		exposeErrors: !cfg.IsProduction(),
		timeout:      cfg.RequestTimeout,
	}
}

func (oc *OrderController) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	ctx := logging.WithCtx(c.Request.Context(), logging.From(c))
	if oc.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, oc.timeout)
}

func recordOperation(c *gin.Context, operation string) {
	status := c.Writer.Status()
	middlewares.RecordOrderOperation(operation, status >= 200 && status < 300)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondFailure(c, http.StatusBadRequest, "Invalid order ID", nil)
		return 0, false
	}
	return id, true
}

func (oc *OrderController) CreateOrder(c *gin.Context) {
	defer recordOperation(c, "create")

	var in models.OrderInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondFailure(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	ctx, cancel := oc.requestContext(c)
	defer cancel()

	key := c.GetHeader(IdempotencyKeyHeader)
	if key == "" || oc.idem == nil {
		oc.create(ctx, c, in)
		return
	}

	l := logging.From(c).With("idempotency_key", key)
	if prev, ok, err := oc.idem.Recall(ctx, createScope, key); err != nil {
		l.Error("idempotency recall failed", "error", err)
		respondFailure(c, http.StatusServiceUnavailable, "Idempotency store unavailable", oc.internalDetail(err))
		return
	} else if ok {
		oc.replay(ctx, c, prev)
		return
	}

	locked, err := oc.idem.TryLock(ctx, createScope, key)
	if err != nil {
		l.Error("idempotency lock failed", "error", err)
		respondFailure(c, http.StatusServiceUnavailable, "Idempotency store unavailable", oc.internalDetail(err))
		return
	}
	if !locked {
		respondFailure(c, http.StatusConflict, "A request with this idempotency key is already in progress", nil)
		return
	}

	order, ok := oc.create(ctx, c, in)
	if !ok {
		// the lock outlives a cancelled request context
		if err := oc.idem.Unlock(context.WithoutCancel(ctx), createScope, key); err != nil {
			l.Warn("idempotency unlock failed", "error", err)
		}
		return
	}
	if err := oc.idem.Remember(context.WithoutCancel(ctx), createScope, key, strconv.FormatInt(order.ID, 10)); err != nil {
		l.Warn("idempotency remember failed", "order_id", order.ID, "error", err)
	}
}

func (oc *OrderController) create(ctx context.Context, c *gin.Context, in models.OrderInput) (*models.Order, bool) {
	order, err := oc.orders.Create(ctx, in)
	if err != nil {
		oc.respondError(c, err)
		return nil, false
	}
	respond(c, http.StatusCreated, "Order created successfully", order)
	return order, true
}

// replay answers a retried create with the order the first attempt produced.
func (oc *OrderController) replay(ctx context.Context, c *gin.Context, prev string) {
	id, err := strconv.ParseInt(prev, 10, 64)
	if err != nil {
		respondFailure(c, http.StatusInternalServerError, "Corrupt idempotency record", oc.internalDetail(err))
		return
	}
	order, err := oc.orders.Get(ctx, id)
	if err != nil {
		oc.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Order already created", order)
}

func (oc *OrderController) GetOrder(c *gin.Context) {
	defer recordOperation(c, "details")

	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx, cancel := oc.requestContext(c)
	defer cancel()

	order, err := oc.orders.Get(ctx, id)
	if err != nil {
		oc.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Order retrieved successfully", order)
}

func (oc *OrderController) GetOrderByNumber(c *gin.Context) {
	defer recordOperation(c, "details")

	ctx, cancel := oc.requestContext(c)
	defer cancel()

	order, err := oc.orders.GetByNumber(ctx, c.Param("orderNumber"))
	if err != nil {
		oc.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Order retrieved successfully", order)
}

type pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

func (oc *OrderController) ListOrders(c *gin.Context) {
	defer recordOperation(c, "list")

	filter := models.OrderFilter{
		Status:        models.OrderStatus(c.Query("status")),
		CustomerEmail: c.Query("customer_email"),
		OrderNumber:   c.Query("order_number"),
	}
	for name, dst := range map[string]*int{"page": &filter.Page, "limit": &filter.Limit} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondFailure(c, http.StatusBadRequest, "Invalid "+name+" parameter", nil)
			return
		}
		*dst = n
	}
	filter = repository.NormalizePage(filter)

	ctx, cancel := oc.requestContext(c)
	defer cancel()

	orders, total, err := oc.orders.List(ctx, filter)
	if err != nil {
		oc.respondError(c, err)
		return
	}
	pages := total / int64(filter.Limit)
	if total%int64(filter.Limit) != 0 {
		pages++
	}
	respond(c, http.StatusOK, "Orders retrieved successfully", gin.H{
		"orders": orders,
		"pagination": pagination{
			Page:       filter.Page,
			Limit:      filter.Limit,
			Total:      total,
			TotalPages: pages,
		},
	})
}

func (oc *OrderController) UpdateOrder(c *gin.Context) {
	defer recordOperation(c, "update")

	id, ok := parseID(c)
	if !ok {
		return
	}
	var in models.OrderInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondFailure(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	ctx, cancel := oc.requestContext(c)
	defer cancel()

	order, err := oc.orders.Replace(ctx, id, in)
	if err != nil {
		oc.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Order updated successfully", order)
}

func (oc *OrderController) UpdateOrderStatus(c *gin.Context) {
	defer recordOperation(c, "update_status")

	id, ok := parseID(c)
	if !ok {
		return
	}
	var request struct {
		Status models.OrderStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		respondFailure(c, http.StatusBadRequest, "Status is required", err.Error())
		return
	}

	ctx, cancel := oc.requestContext(c)
	defer cancel()

	order, err := oc.orders.UpdateStatus(ctx, id, request.Status)
	if err != nil {
		oc.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Order status updated successfully", order)
}

func (oc *OrderController) DeleteOrder(c *gin.Context) {
	defer recordOperation(c, "delete")

	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx, cancel := oc.requestContext(c)
	defer cancel()

	if err := oc.orders.Delete(ctx, id); err != nil {
		oc.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Order deleted successfully", gin.H{"orderId": id})
}

func (oc *OrderController) GetStatistics(c *gin.Context) {
	defer recordOperation(c, "statistics")

	ctx, cancel := oc.requestContext(c)
	defer cancel()

	stats, err := oc.orders.Statistics(ctx)
	if err != nil {
		oc.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Order statistics retrieved successfully", stats)
}

// HandleDeadLetter lets operators report a dead-lettered order event that
// was handled out of band.
func (oc *OrderController) HandleDeadLetter(c *gin.Context) {
	defer recordOperation(c, "dead_letter")

	var deadLetter struct {
		OrderID int64  `json:"order_id" binding:"required"`
		Reason  string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&deadLetter); err != nil {
		respondFailure(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	logging.From(c).Warn("dead letter handled", "order_id", deadLetter.OrderID, "reason", deadLetter.Reason)
	respond(c, http.StatusOK, "Dead letter processed", nil)
}
