package routes

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/cakeshop/internal/cart"
	"github.com/example/cakeshop/internal/database"
	"github.com/example/cakeshop/internal/handlers"
	"github.com/example/cakeshop/internal/models"
	"github.com/example/cakeshop/internal/seed"
	"github.com/example/cakeshop/internal/services"
)

const (
	testSecret   = "test-secret"
	testPassword = "correct horse"
	testPaymeKey = "KEY"
)

type testServer struct {
	app *fiber.App
	db  *gorm.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	require.NoError(t, database.EnsureAdmin(db, "admin", testPassword))
	catalog, err := seed.Default()
	require.NoError(t, err)
	_, err = seed.Apply(context.Background(), db, catalog)
	require.NoError(t, err)

	catalogSvc := services.NewCatalogService(db)
	orders := services.NewOrderService(db, services.NoopPublisher{}, "UZS")
	summaries := services.NewSummaryService(catalogSvc, "+998900000000")
	gateway := services.NewPaymeGateway("MID", "https://checkout.test", "", "UZS")
	payments := services.NewPaymentService(orders, summaries, gateway, nil)

	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	Register(app, Dependencies{
		DB:               db,
		JWTSecret:        testSecret,
		TokenTTL:         time.Hour,
		PaymeMerchantKey: testPaymeKey,
		Catalog:          catalogSvc,
		Orders:           orders,
		Summaries:        summaries,
		Payments:         payments,
		Payme:            services.NewPaymeService(db, orders, payments),
		Carts:            cart.NewManager(cart.NewMemoryStore()),
	})
	return &testServer{app: app, db: db}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && resp.Header.Get("Content-Type") != "image/png" {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (s *testServer) login(t *testing.T) map[string]string {
	t.Helper()
	status, out := s.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "admin", "password": testPassword,
	}, nil)
	require.Equal(t, http.StatusOK, status, out)
	return map[string]string{"Authorization": "Bearer " + out["token"].(string)}
}

func scenarioOrder() map[string]any {
	return map[string]any{
		"items": []map[string]any{{
			"cake_id":  "vanilla-bean-classic",
			"name":     "Vanilla Bean Classic",
			"quantity": 2,
			"price":    2950,
			"customizations": map[string]any{
				"flavor": "f1", "size": "s2", "color": "c1", "toppings": []string{"t1"},
			},
		}},
		"deliveryInfo": map[string]any{
			"name":    "Aziza",
			"phone":   "+998 90 123 45 67",
			"method":  "delivery",
			"address": "Tashkent, Amir Temur 1",
			"date":    "2025-03-14",
		},
		"totalPrice":    5900,
		"depositAmount": 4720,
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	status, out := s.do(t, http.MethodPut, "/api/special-offer", map[string]any{
		"cake_id": "vanilla-bean-classic", "discount_percentage": 10,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, false, out["success"])
	assert.NotEmpty(t, out["error"])

	status, _ = s.do(t, http.MethodGet, "/api/orders", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, status)

	var offer models.SpecialOffer
	require.NoError(t, s.db.First(&offer).Error)
	assert.Equal(t, "red-velvet-dream", offer.CakeID)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s := newTestServer(t)
	status, _ := s.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "admin", "password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSpecialOfferReplaceAndRead(t *testing.T) {
	s := newTestServer(t)
	auth := s.login(t)

	status, out := s.do(t, http.MethodPut, "/api/special-offer", map[string]any{
		"cake_id": "red-velvet-dream", "discount_percentage": 20,
	}, auth)
	require.Equal(t, http.StatusOK, status, out)

	status, out = s.do(t, http.MethodGet, "/api/special-offer", nil, nil)
	require.Equal(t, http.StatusOK, status)
	data := out["data"].(map[string]any)
	assert.Equal(t, "red-velvet-dream", data["cake_id"])
	assert.EqualValues(t, 2560, data["special_price"])
	assert.EqualValues(t, 640, data["savings"])

	status, _ = s.do(t, http.MethodPut, "/api/special-offer", map[string]any{
		"cake_id": "red-velvet-dream", "discount_percentage": 150,
	}, auth)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodDelete, "/api/cakes/red-velvet-dream", nil, auth)
	assert.Equal(t, http.StatusConflict, status)
}

func TestSubmitOrderOverHTTP(t *testing.T) {
	s := newTestServer(t)

	bad := scenarioOrder()
	bad["deliveryInfo"].(map[string]any)["address"] = "  "
	status, out := s.do(t, http.MethodPost, "/api/orders", bad, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, out["success"])

	var count int64
	require.NoError(t, s.db.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)

	key := map[string]string{"Idempotency-Key": "checkout-1"}
	status, out = s.do(t, http.MethodPost, "/api/orders", scenarioOrder(), key)
	require.Equal(t, http.StatusCreated, status, out)
	assert.Equal(t, true, out["success"])
	assert.EqualValues(t, 4720, out["depositAmount"])
	number := out["orderNumber"].(string)
	assert.Regexp(t, `^CK-\d{6}-[A-Z0-9]{5}$`, number)

	status, out = s.do(t, http.MethodPost, "/api/orders", scenarioOrder(), key)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, number, out["orderNumber"])

	tampered := scenarioOrder()
	tampered["items"].([]map[string]any)[0]["price"] = 100
	tampered["totalPrice"] = 200
	tampered["depositAmount"] = 160
	status, _ = s.do(t, http.MethodPost, "/api/orders", tampered, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, out = s.do(t, http.MethodGet, "/api/orders/"+number+"/track", nil, nil)
	require.Equal(t, http.StatusOK, status)
	track := out["data"].(map[string]any)
	assert.Equal(t, "pending", track["payment_status"])
	assert.Equal(t, "processing", track["order_status"])

	status, out = s.do(t, http.MethodGet, "/api/orders/"+number+"/summary", nil, nil)
	require.Equal(t, http.StatusOK, status)
	summary := out["data"].(map[string]any)
	assert.Contains(t, summary["text"], "Size: Medium")
	assert.Contains(t, summary["whatsapp_url"], "https://wa.me/998900000000")

	status, _ = s.do(t, http.MethodGet, "/api/orders/"+number+"/qr", nil, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodGet, "/api/orders/CK-000000-XXXXX/track", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestOrderStatusTransitions(t *testing.T) {
	s := newTestServer(t)
	auth := s.login(t)

	status, out := s.do(t, http.MethodPost, "/api/orders", scenarioOrder(), nil)
	require.Equal(t, http.StatusCreated, status, out)
	id := out["data"].(map[string]any)["id"].(string)

	status, out = s.do(t, http.MethodPut, "/api/orders/"+id+"/status", map[string]string{"status": "complete"}, auth)
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, "complete", out["data"].(map[string]any)["order_status"])

	status, _ = s.do(t, http.MethodPut, "/api/orders/"+id+"/status", map[string]string{"status": "processing"}, auth)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = s.do(t, http.MethodPut, "/api/orders/"+id+"/status", map[string]string{"status": "shipped"}, auth)
	assert.Equal(t, http.StatusBadRequest, status)

	status, out = s.do(t, http.MethodGet, "/api/orders?status=complete", nil, auth)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, out["data"], 1)

	status, out = s.do(t, http.MethodGet, "/api/admin/stats", nil, auth)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, out["data"].(map[string]any)["total_orders"])
}

func TestPaymentInitiateAndCallback(t *testing.T) {
	s := newTestServer(t)

	_, out := s.do(t, http.MethodPost, "/api/orders", scenarioOrder(), nil)
	number := out["orderNumber"].(string)

	status, _ := s.do(t, http.MethodPost, "/api/orders/"+number+"/payment", map[string]string{"phone": "12"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, out = s.do(t, http.MethodPost, "/api/orders/"+number+"/payment", map[string]string{"phone": "+998901234567"}, nil)
	require.Equal(t, http.StatusOK, status, out)
	checkout := out["data"].(map[string]any)
	assert.Equal(t, "payme", checkout["provider"])
	assert.EqualValues(t, 472000, checkout["amount"])

	status, out = s.do(t, http.MethodPost, "/api/orders/"+number+"/payment/callback", map[string]string{"event": "close"}, nil)
	require.Equal(t, http.StatusOK, status)
	result := out["data"].(map[string]any)
	assert.Equal(t, true, result["retry"])
	assert.Equal(t, "pending", result["payment_status"])
}

func TestPaymeRPC(t *testing.T) {
	s := newTestServer(t)

	_, out := s.do(t, http.MethodPost, "/api/orders", scenarioOrder(), nil)
	number := out["orderNumber"].(string)

	call := map[string]any{
		"id":     1,
		"method": "CheckPerformTransaction",
		"params": map[string]any{"amount": 472000, "account": map[string]string{"order_number": number}},
	}

	status, out := s.do(t, http.MethodPost, "/api/payments/payme", call, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, -32504, out["error"].(map[string]any)["code"])

	auth := map[string]string{
		"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte("Paycom:"+testPaymeKey)),
	}
	status, out = s.do(t, http.MethodPost, "/api/payments/payme", call, auth)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["result"].(map[string]any)["allow"], out)

	call["method"] = "Refund"
	_, out = s.do(t, http.MethodPost, "/api/payments/payme", call, auth)
	assert.EqualValues(t, -32601, out["error"].(map[string]any)["code"])
}

func TestCartOverHTTP(t *testing.T) {
	s := newTestServer(t)

	status, out := s.do(t, http.MethodPost, "/api/cart/c-1/items", map[string]any{
		"cake_id":        "vanilla-bean-classic",
		"quantity":       2,
		"customizations": map[string]any{"size": "s2", "toppings": []string{"t1"}},
	}, nil)
	require.Equal(t, http.StatusCreated, status, out)
	data := out["data"].(map[string]any)
	assert.EqualValues(t, 5900, data["total_price"])
	assert.EqualValues(t, 4720, data["deposit_amount"])

	status, _ = s.do(t, http.MethodPost, "/api/cart/c-1/items", map[string]any{
		"cake_id": "red-velvet-dream", "quantity": 1, "special_offer": true,
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	status, out = s.do(t, http.MethodGet, "/api/cart/c-1", nil, nil)
	require.Equal(t, http.StatusOK, status)
	data = out["data"].(map[string]any)
	assert.EqualValues(t, 3, data["item_count"])
	assert.EqualValues(t, 8460, data["total_price"])

	items := data["items"].([]any)
	firstID := items[0].(map[string]any)["id"].(string)
	status, out = s.do(t, http.MethodPatch, "/api/cart/c-1/items/"+firstID, map[string]int{"quantity": 0}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, out["data"].(map[string]any)["item_count"])

	status, _ = s.do(t, http.MethodPost, "/api/cart/c-1/items", map[string]any{"cake_id": "missing", "quantity": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	for _, qty := range []int{0, -3} {
		status, _ = s.do(t, http.MethodPost, "/api/cart/c-1/items", map[string]any{
			"cake_id": "vanilla-bean-classic", "quantity": qty,
		}, nil)
		assert.Equal(t, http.StatusBadRequest, status, qty)
	}
	status, out = s.do(t, http.MethodGet, "/api/cart/c-1", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, out["data"].(map[string]any)["item_count"])

	status, out = s.do(t, http.MethodDelete, "/api/cart/c-1", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, out["data"].(map[string]any)["item_count"])
}

func TestCatalogEndpoints(t *testing.T) {
	s := newTestServer(t)
	auth := s.login(t)

	status, out := s.do(t, http.MethodGet, "/api/cakes?customizable=true&limit=2", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, out["data"], 2)
	assert.EqualValues(t, 3, out["pagination"].(map[string]any)["total_items"])

	status, _ = s.do(t, http.MethodGet, "/api/cakes?customizable=maybe", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, out = s.do(t, http.MethodPost, "/api/customizations/toppings", map[string]any{
		"id": "t9", "name": "Sparklers", "price": 30,
	}, auth)
	require.Equal(t, http.StatusCreated, status, out)

	status, _ = s.do(t, http.MethodPost, "/api/customizations/sprinkles", map[string]any{"id": "x", "name": "x"}, auth)
	assert.Equal(t, http.StatusNotFound, status)

	status, out = s.do(t, http.MethodGet, "/api/customizations", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, out["data"].(map[string]any)["toppings"], 5)

	status, _ = s.do(t, http.MethodDelete, "/api/customizations/toppings/t9", nil, auth)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodGet, "/api/cakes/no-such-cake", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodPost, "/api/cakes/carrot-walnut/image", nil, auth)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
