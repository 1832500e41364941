package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seed-order-service/config"
	"seed-order-service/models"
	"seed-order-service/repository"
	"seed-order-service/services"
	"seed-order-service/utils"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type memoryIdempotency struct {
	mu     sync.Mutex
	locked map[string]bool
	values map[string]string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{locked: map[string]bool{}, values: map[string]string{}}
}

func (m *memoryIdempotency) TryLock(ctx context.Context, scope, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked[scope+key] {
		return false, nil
	}
	m.locked[scope+key] = true
	return true, nil
}

func (m *memoryIdempotency) Unlock(ctx context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locked, scope+key)
	return nil
}

func (m *memoryIdempotency) Remember(ctx context.Context, scope, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[scope+key] = value
	return nil
}

func (m *memoryIdempotency) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[scope+key]
	return v, ok, nil
}

type testEnv struct {
	router *gin.Engine
	store  *repository.MemoryStore
	idem   *memoryIdempotency
}

func newTestEnv(t *testing.T, appEnv string) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	store.SetProductStock(1, 5)
	store.SetProductStock(2, 100)

	idem := newMemoryIdempotency()
	cfg := &config.Config{AppEnv: appEnv, RequestTimeout: time.Second}
	oc := NewOrderController(services.NewOrderService(store), idem, cfg)

	r := gin.New()
	RegisterRoutes(r, oc, testSecret)
	return &testEnv{router: r, store: store, idem: idem}
}

func adminToken(t *testing.T, role string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, utils.Claims{
		UserID:           1,
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

type testResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) (int, testResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp testResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func asAdmin(t *testing.T) map[string]string {
	return map[string]string{"Authorization": "Bearer " + adminToken(t, "admin")}
}

func orderBody(qty int) map[string]any {
	return map[string]any{
		"customer_first_name": "Ana",
		"customer_last_name":  "Reyes",
		"customer_email":      "ana@example.com",
		"shipping_address":    "12 Farm Rd",
		"shipping_cost":       "50",
		"items": []map[string]any{
			{"product_id": 1, "product_name": "Tomato seed", "quantity": qty, "price": "120.50"},
		},
	}
}

func decodeOrder(t *testing.T, raw json.RawMessage) models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, json.Unmarshal(raw, &o))
	return o
}

func TestCreateOrder(t *testing.T) {
	env := newTestEnv(t, "development")

	code, resp := env.do(t, http.MethodPost, "/orders", orderBody(3), nil)
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, resp.Success)

	o := decodeOrder(t, resp.Data)
	assert.True(t, o.Total.Equal(decimal.RequireFromString("411.50")))
	assert.Equal(t, models.StatusPending, o.Status)
	require.Len(t, o.Items, 1)

	stock, _ := env.store.ProductStock(1)
	assert.Equal(t, 2, stock)
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	env := newTestEnv(t, "development")

	code, resp := env.do(t, http.MethodPost, "/orders", orderBody(10), nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "Insufficient stock for product 1")
	assert.Zero(t, env.store.OrderCount())
}

func TestCreateOrder_Validation(t *testing.T) {
	env := newTestEnv(t, "development")

	body := orderBody(1)
	body["customer_email"] = "not-an-email"
	body["items"] = []map[string]any{}

	code, resp := env.do(t, http.MethodPost, "/orders", body, nil)
	require.Equal(t, http.StatusBadRequest, code)

	var details []string
	require.NoError(t, json.Unmarshal(resp.Error, &details))
	assert.Contains(t, details, "Customer email is invalid")
	assert.Contains(t, details, "Order must contain at least one item")
}

func TestCreateOrder_DuplicateNumber(t *testing.T) {
	env := newTestEnv(t, "development")
	body := orderBody(1)
	body["order_number"] = "ORD-FIXED-001"

	code, _ := env.do(t, http.MethodPost, "/orders", body, nil)
	require.Equal(t, http.StatusCreated, code)
	code, _ = env.do(t, http.MethodPost, "/orders", body, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestCreateOrder_Idempotent(t *testing.T) {
	env := newTestEnv(t, "development")
	key := map[string]string{IdempotencyKeyHeader: "checkout-42"}

	code, first := env.do(t, http.MethodPost, "/orders", orderBody(1), key)
	require.Equal(t, http.StatusCreated, code)
	code, second := env.do(t, http.MethodPost, "/orders", orderBody(1), key)
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, decodeOrder(t, first.Data).ID, decodeOrder(t, second.Data).ID)
	assert.Equal(t, 1, env.store.OrderCount())
	stock, _ := env.store.ProductStock(1)
	assert.Equal(t, 4, stock)
}

func TestCreateOrder_IdempotencyKeyInFlight(t *testing.T) {
	env := newTestEnv(t, "development")
	_, err := env.idem.TryLock(context.Background(), createScope, "busy")
	require.NoError(t, err)

	code, _ := env.do(t, http.MethodPost, "/orders", orderBody(1), map[string]string{IdempotencyKeyHeader: "busy"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Zero(t, env.store.OrderCount())
}

func TestCreateOrder_FailedAttemptReleasesKey(t *testing.T) {
	env := newTestEnv(t, "development")
	key := map[string]string{IdempotencyKeyHeader: "retry-me"}

	code, _ := env.do(t, http.MethodPost, "/orders", orderBody(10), key)
	require.Equal(t, http.StatusInternalServerError, code)
	code, _ = env.do(t, http.MethodPost, "/orders", orderBody(1), key)
	assert.Equal(t, http.StatusCreated, code)
}

func TestInternalErrorsHiddenInProduction(t *testing.T) {
	for _, tt := range []struct {
		env        string
		wantDetail bool
	}{
		{"development", true},
		{"production", false},
	} {
		t.Run(tt.env, func(t *testing.T) {
			env := newTestEnv(t, tt.env)
			env.store.FailNextCommit(errors.New("deadlock found"))

			code, resp := env.do(t, http.MethodPost, "/orders", orderBody(1), nil)
			assert.Equal(t, http.StatusInternalServerError, code)
			if tt.wantDetail {
				assert.Contains(t, string(resp.Error), "deadlock found")
			} else {
				assert.Empty(t, resp.Error)
			}
		})
	}
}

func TestGetOrder(t *testing.T) {
	env := newTestEnv(t, "development")
	_, created := env.do(t, http.MethodPost, "/orders", orderBody(1), nil)
	o := decodeOrder(t, created.Data)

	code, resp := env.do(t, http.MethodGet, "/orders/"+itoa(o.ID), nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, o.OrderNumber, decodeOrder(t, resp.Data).OrderNumber)

	code, resp = env.do(t, http.MethodGet, "/orders/number/"+o.OrderNumber, nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, o.ID, decodeOrder(t, resp.Data).ID)

	code, _ = env.do(t, http.MethodGet, "/orders/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodGet, "/orders/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	env := newTestEnv(t, "development")

	code, _ := env.do(t, http.MethodGet, "/orders", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = env.do(t, http.MethodGet, "/orders", nil, map[string]string{"Authorization": "Bearer " + adminToken(t, "customer")})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = env.do(t, http.MethodDelete, "/orders/1", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestListOrders(t *testing.T) {
	env := newTestEnv(t, "development")
	for range 3 {
		code, _ := env.do(t, http.MethodPost, "/orders", orderBody(1), nil)
		require.Equal(t, http.StatusCreated, code)
	}

	code, resp := env.do(t, http.MethodGet, "/orders?page=2&limit=2", nil, asAdmin(t))
	require.Equal(t, http.StatusOK, code)

	var data struct {
		Orders     []models.Order `json:"orders"`
		Pagination pagination     `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Len(t, data.Orders, 1)
	assert.Equal(t, pagination{Page: 2, Limit: 2, Total: 3, TotalPages: 2}, data.Pagination)

	code, _ = env.do(t, http.MethodGet, "/orders?status=lost", nil, asAdmin(t))
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodGet, "/orders?page=x", nil, asAdmin(t))
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = env.do(t, http.MethodGet, "/orders?page=9223372036854775807&limit=100", nil, asAdmin(t))
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Empty(t, data.Orders)
	assert.Equal(t, int64(3), data.Pagination.Total)
}

func TestUpdateOrderStatus(t *testing.T) {
	env := newTestEnv(t, "development")
	_, created := env.do(t, http.MethodPost, "/orders", orderBody(1), nil)
	id := itoa(decodeOrder(t, created.Data).ID)

	code, resp := env.do(t, http.MethodPut, "/orders/"+id+"/status", map[string]string{"status": "shipped"}, asAdmin(t))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.StatusShipped, decodeOrder(t, resp.Data).Status)

	code, _ = env.do(t, http.MethodPut, "/orders/"+id+"/status", map[string]string{"status": "lost"}, asAdmin(t))
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodPut, "/orders/"+id+"/status", map[string]string{}, asAdmin(t))
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodPut, "/orders/999/status", map[string]string{"status": "shipped"}, asAdmin(t))
	assert.Equal(t, http.StatusNotFound, code)

	// shipped orders cannot be deleted
	code, _ = env.do(t, http.MethodDelete, "/orders/"+id, nil, asAdmin(t))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUpdateOrder(t *testing.T) {
	env := newTestEnv(t, "development")
	_, created := env.do(t, http.MethodPost, "/orders", orderBody(1), nil)
	o := decodeOrder(t, created.Data)

	body := orderBody(1)
	body["customer_first_name"] = "Maria"
	body["items"] = []map[string]any{
		{"product_id": 2, "product_name": "Chili seed", "quantity": 4, "price": "10"},
	}
	code, resp := env.do(t, http.MethodPut, "/orders/"+itoa(o.ID), body, asAdmin(t))
	require.Equal(t, http.StatusOK, code)

	updated := decodeOrder(t, resp.Data)
	assert.Equal(t, "Maria", updated.CustomerFirstName)
	assert.Equal(t, o.OrderNumber, updated.OrderNumber)
	assert.True(t, updated.Total.Equal(decimal.RequireFromString("90")))

	code, _ = env.do(t, http.MethodPut, "/orders/999", body, asAdmin(t))
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDeleteOrder(t *testing.T) {
	env := newTestEnv(t, "development")
	_, created := env.do(t, http.MethodPost, "/orders", orderBody(3), nil)
	id := decodeOrder(t, created.Data).ID

	code, resp := env.do(t, http.MethodDelete, "/orders/"+itoa(id), nil, asAdmin(t))
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"orderId":`+itoa(id)+`}`, string(resp.Data))

	stock, _ := env.store.ProductStock(1)
	assert.Equal(t, 5, stock)

	code, _ = env.do(t, http.MethodDelete, "/orders/"+itoa(id), nil, asAdmin(t))
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = env.do(t, http.MethodDelete, "/orders/zero", nil, asAdmin(t))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGetStatistics(t *testing.T) {
	env := newTestEnv(t, "development")
	env.do(t, http.MethodPost, "/orders", orderBody(1), nil)

	code, resp := env.do(t, http.MethodGet, "/orders/statistics", nil, asAdmin(t))
	require.Equal(t, http.StatusOK, code)

	var stats models.OrderStatistics
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, int64(1), stats.TotalOrders)
	assert.True(t, stats.TotalRevenue.Equal(decimal.RequireFromString("170.50")))
	assert.Equal(t, int64(1), stats.ByStatus[models.StatusPending])
}

func TestHandleDeadLetter(t *testing.T) {
	env := newTestEnv(t, "development")

	code, _ := env.do(t, http.MethodPost, "/dead-letter", map[string]any{"order_id": 7, "reason": "consumer crashed"}, asAdmin(t))
	assert.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodPost, "/dead-letter", map[string]any{"reason": "no id"}, asAdmin(t))
	assert.Equal(t, http.StatusBadRequest, code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
