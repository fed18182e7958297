package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsridhar76/orderpulse/internal/cache"
	"github.com/nsridhar76/orderpulse/internal/domain"
	"github.com/nsridhar76/orderpulse/internal/inventory"
	"github.com/nsridhar76/orderpulse/internal/messaging/noop"
	"github.com/nsridhar76/orderpulse/internal/notification"
	"github.com/nsridhar76/orderpulse/internal/ratelimit"
	"github.com/nsridhar76/orderpulse/internal/repository/memory"
	"github.com/nsridhar76/orderpulse/internal/search"
	"github.com/nsridhar76/orderpulse/internal/service"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type testAPI struct {
	router http.Handler
	svc    *service.OrderService
	hub    *notification.MemoryHub
}

func newTestAPI(t *testing.T, limiter Limiter) *testAPI {
	t.Helper()
	svc := service.NewOrderService(service.Deps{
		Repo:      memory.NewOrderStore(),
		Inventory: inventory.NewMemory(map[string]int{"WIDGET-1": 5}),
		Cache:     cache.NewMemoryCache(time.Minute),
		Search:    search.NewProjector(search.NewMemoryIndex(), true, quiet),
		Events:    noop.Publisher{},
		Log:       quiet,
	})
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	hub := notification.NewMemoryHub()
	return &testAPI{
		router: NewRouter(NewHandler(svc, hub, notification.OrdersTopic, quiet), limiter),
		svc:    svc,
		hub:    hub,
	}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) create(t *testing.T, body string) domain.Order {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/orders", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var o domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	return o
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const aliceOrder = `{"customerName":"Alice","customerEmail":"alice@example.com","productDescription":"Blue widget","productSku":" widget-1 ","quantity":2,"totalPrice":19.98,"status":"SHIPPED"}`

func TestCreateAndGet(t *testing.T) {
	api := newTestAPI(t, nil)

	o := api.create(t, aliceOrder)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, domain.StatusPending, o.Status)
	assert.Equal(t, "WIDGET-1", o.ProductSKU)
	assert.Equal(t, int64(0), o.Version)

	rec := api.do(t, http.MethodGet, "/api/orders/"+o.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	got := decode[domain.Order](t, rec)
	assert.Equal(t, o.ID, got.ID)
	assert.True(t, got.TotalPrice.Equal(o.TotalPrice))
}

func TestCreate_ErrorMapping(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/api/orders", `{"customerName":"A","quantity":0}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "validation_failed", body.Error)
	assert.Contains(t, body.FieldErrors, "customerName")
	assert.Contains(t, body.FieldErrors, "customerEmail")
	assert.Contains(t, body.FieldErrors, "quantity")
	assert.Contains(t, body.FieldErrors, "totalPrice")

	rec = api.do(t, http.MethodPost, "/api/orders", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", decode[ErrorResponse](t, rec).Error)

	tooMany := strings.Replace(aliceOrder, `"quantity":2`, `"quantity":6`, 1)
	rec = api.do(t, http.MethodPost, "/api/orders", tooMany)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "inventory_unavailable", decode[ErrorResponse](t, rec).Error)
}

func TestGet_NotFound(t *testing.T) {
	api := newTestAPI(t, nil)
	rec := api.do(t, http.MethodGet, "/api/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "order_not_found", decode[ErrorResponse](t, rec).Error)
}

func TestList_EmptyIsArray(t *testing.T) {
	api := newTestAPI(t, nil)
	rec := api.do(t, http.MethodGet, "/api/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListAndFilters(t *testing.T) {
	api := newTestAPI(t, nil)
	a := api.create(t, aliceOrder)
	api.create(t, `{"customerName":"Bob","customerEmail":"bob@example.com","productDescription":"Red gadget","quantity":1,"totalPrice":5}`)

	rec := api.do(t, http.MethodPut, "/api/orders/"+a.ID+"/status", `{"status":"shipped"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Len(t, decode[[]domain.Order](t, api.do(t, http.MethodGet, "/api/orders", "")), 2)

	byStatus := decode[[]domain.Order](t, api.do(t, http.MethodGet, "/api/orders?status=SHIPPED", ""))
	require.Len(t, byStatus, 1)
	assert.Equal(t, a.ID, byStatus[0].ID)

	byCustomer := decode[[]domain.Order](t, api.do(t, http.MethodGet, "/api/orders?customer=bo", ""))
	require.Len(t, byCustomer, 1)
	assert.Equal(t, "Bob", byCustomer[0].CustomerName)

	exact := decode[[]domain.Order](t, api.do(t, http.MethodGet, "/api/orders/customer/ALICE", ""))
	require.Len(t, exact, 1)
	assert.Equal(t, a.ID, exact[0].ID)

	pending := decode[[]domain.Order](t, api.do(t, http.MethodGet, "/api/orders/status/pending", ""))
	require.Len(t, pending, 1)
	assert.Equal(t, "Bob", pending[0].CustomerName)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	assert.Empty(t, decode[[]domain.Order](t, api.do(t, http.MethodGet, "/api/orders?startDate="+future, "")))

	rec = api.do(t, http.MethodGet, "/api/orders?status=LOST&endDate=yesterday", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields := decode[ErrorResponse](t, rec).FieldErrors
	assert.Contains(t, fields, "status")
	assert.Contains(t, fields, "endDate")

	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/orders/status/LOST", "").Code)
}

func TestUpdateStatus(t *testing.T) {
	api := newTestAPI(t, nil)
	o := api.create(t, aliceOrder)

	rec := api.do(t, http.MethodPut, "/api/orders/"+o.ID+"/status", `{"status":"CONFIRMED"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[domain.Order](t, rec)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
	assert.Equal(t, int64(1), got.Version)

	rec = api.do(t, http.MethodPut, "/api/orders/"+o.ID+"/status", `{"status":"LOST"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).FieldErrors, "status")

	rec = api.do(t, http.MethodPut, "/api/orders/missing/status", `{"status":"CONFIRMED"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelete(t *testing.T) {
	api := newTestAPI(t, nil)
	o := api.create(t, aliceOrder)

	// warm the cache so the delete has something to invalidate
	require.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/api/orders/"+o.ID, "").Code)

	rec := api.do(t, http.MethodDelete, "/api/orders/"+o.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/api/orders/"+o.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodDelete, "/api/orders/"+o.ID, "").Code)
}

func TestSearchEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)
	a := api.create(t, aliceOrder)
	api.create(t, `{"customerName":"Bob","customerEmail":"bob@example.com","productDescription":"Red gadget","quantity":1,"totalPrice":5}`)
	require.NoError(t, api.svc.Flush(context.Background()))

	res := decode[SearchResponse](t, api.do(t, http.MethodGet, "/api/orders/search?query=WIDGET", ""))
	require.Equal(t, 1, res.Count)
	assert.Equal(t, a.ID, res.Results[0].ID)

	res = decode[SearchResponse](t, api.do(t, http.MethodGet, "/api/orders/search/status/pending", ""))
	assert.Equal(t, 2, res.Count)

	start := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	end := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	res = decode[SearchResponse](t, api.do(t, http.MethodGet, "/api/orders/search/date-range?startDate="+start+"&endDate="+end, ""))
	assert.Equal(t, 2, res.Count)

	rec := api.do(t, http.MethodGet, "/api/orders/search/date-range?startDate="+end+"&endDate="+start, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/orders/search/date-range?startDate="+start, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).FieldErrors, "endDate")

	rec = api.do(t, http.MethodGet, "/api/orders/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "query_required", decode[ErrorResponse](t, rec).Error)

	res = decode[SearchResponse](t, api.do(t, http.MethodGet, "/api/orders/search?query=nothing-matches", ""))
	assert.Equal(t, 0, res.Count)
	assert.NotNil(t, res.Results)
}

func TestAnalyticsAndRebuild(t *testing.T) {
	api := newTestAPI(t, nil)
	api.create(t, aliceOrder)
	api.create(t, `{"customerName":"Bob","customerEmail":"bob@example.com","productDescription":"Red gadget","quantity":1,"totalPrice":5}`)

	rec := api.do(t, http.MethodGet, "/api/analytics/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	a := decode[domain.Analytics](t, rec)
	assert.Equal(t, int64(2), a.TotalOrders)
	assert.Equal(t, "24.98", a.TotalRevenue.StringFixed(2))
	assert.Equal(t, "12.49", a.AverageOrderValue.StringFixed(2))
	assert.Equal(t, int64(2), a.OrdersByStatus["PENDING"])

	rec = api.do(t, http.MethodPost, "/api/admin/search/rebuild", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[RebuildResponse](t, rec).Indexed)
}

func TestMutatingRoutesAreRateLimited(t *testing.T) {
	api := newTestAPI(t, ratelimit.New(0.001, 1, time.Minute, quiet))

	api.create(t, aliceOrder)
	rec := api.do(t, http.MethodPost, "/api/orders", aliceOrder)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// reads are never limited
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/api/orders", "").Code)
	}
}

type failingService struct{ OrderService }

func (failingService) List(context.Context) ([]domain.Order, error) {
	return nil, errors.New("connection reset by peer")
}

func (failingService) UpdateStatus(context.Context, string, domain.OrderStatus) (*domain.Order, error) {
	return nil, domain.ErrConcurrentModification
}

func TestUnexpectedErrorsAreHidden(t *testing.T) {
	router := NewRouter(NewHandler(failingService{}, notification.NewMemoryHub(), notification.OrdersTopic, quiet), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/orders/x/status", strings.NewReader(`{"status":"SHIPPED"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "concurrent_modification", decode[ErrorResponse](t, rec).Error)
}

func TestStream_RelaysBroadcasts(t *testing.T) {
	api := newTestAPI(t, nil)
	srv := httptest.NewServer(api.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/orders/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewReader(resp.Body)
	first, err := lines.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", first)
	_, _ = lines.ReadString('\n')

	require.NoError(t, api.hub.Publish(context.Background(), notification.OrdersTopic, []byte(`{"id":"o-1"}`)))

	event, err := lines.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: order\n", event)
	data, err := lines.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: {\"id\":\"o-1\"}\n", data)
}
