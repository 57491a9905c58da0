package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"storefront/internal/auth"
	"storefront/internal/domain"
	"storefront/internal/events"
	"storefront/internal/metrics"
	"storefront/internal/payment"
	"storefront/internal/repository"
	"storefront/internal/service"
)

const (
	keySecret     = "key_secret"
	webhookSecret = "webhook_secret"
)

type stubCreator struct{}

func (stubCreator) CreateOrder(_ context.Context, _ int64, _, receipt string) (string, error) {
	return "order_" + receipt, nil
}

type testServer struct {
	*Server
	store *repository.MemoryStore
	admin string
	alice string
	bob   string
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := repository.NewMemoryStore()
	keys, err := auth.NewKeys("jwt-test-secret")
	if err != nil {
		t.Fatal(err)
	}
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	m := metrics.New()
	gw := payment.NewGateway(payment.Config{KeyID: "rzp_test", KeySecret: keySecret, WebhookSecret: webhookSecret}, stubCreator{})
	s := NewServer(Deps{
		Products:          service.NewProductService(store, store),
		Carts:             service.NewCartService(store.Carts(), store),
		Checkout:          service.NewCheckoutService(store, gw, &events.Recorder{}, m, log),
		Keys:              keys,
		Metrics:           m,
		Logger:            log,
		LowStockThreshold: 5,
	})
	token := func(sub string, roles ...string) string {
		tok, err := keys.GenerateToken(sub, roles, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		return tok
	}
	return &testServer{
		Server: s,
		store:  store,
		admin:  token("root", auth.RoleUser, auth.RoleAdmin),
		alice:  token("alice", auth.RoleUser),
		bob:    token("bob", auth.RoleUser),
	}
}

func doJSON(t *testing.T, s *testServer, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func address() map[string]string {
	return map[string]string{
		"full_name":    "Asha Rao",
		"phone":        "9000000000",
		"address_line": "12 MG Road",
		"city":         "Pune",
		"state":        "MH",
		"postal_code":  "411001",
	}
}

func (s *testServer) product(t *testing.T, name, price string, stock int64) domain.Product {
	t.Helper()
	w := doJSON(t, s, s.admin, http.MethodPost, "/api/v1/products", map[string]any{"name": name, "sku": name, "price": price, "stock": stock})
	if w.Code != http.StatusCreated {
		t.Fatalf("create product: %d %s", w.Code, w.Body.String())
	}
	return decode[domain.Product](t, w)
}

func (s *testServer) placeOrder(t *testing.T, token string, items ...domain.CartItem) domain.Order {
	t.Helper()
	w := doJSON(t, s, token, http.MethodPost, "/api/v1/orders", map[string]any{"items": items, "shipping_address": address()})
	if w.Code != http.StatusCreated {
		t.Fatalf("place order: %d %s", w.Code, w.Body.String())
	}
	return *decode[orderResp](t, w).Order
}

func (s *testServer) intent(t *testing.T, token, orderID string) payment.Intent {
	t.Helper()
	w := doJSON(t, s, token, http.MethodPost, "/api/v1/payment/create-order", map[string]string{"order_id": orderID})
	if w.Code != http.StatusOK {
		t.Fatalf("create-order: %d %s", w.Code, w.Body.String())
	}
	return decode[payment.Intent](t, w)
}

func verifyBody(orderID, gatewayOrderID, paymentID string) map[string]string {
	return map[string]string{
		"order_id":            orderID,
		"razorpay_order_id":   gatewayOrderID,
		"razorpay_payment_id": paymentID,
		"razorpay_signature":  payment.Sign([]byte(keySecret), []byte(gatewayOrderID+"|"+paymentID)),
	}
}

func (s *testServer) stock(t *testing.T, id int64) int64 {
	t.Helper()
	p, err := s.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return p.Stock
}

func TestProductFlow(t *testing.T) {
	s := setupServer(t)
	p := s.product(t, "Kettle", "499.50", 3)
	if p.ID == 0 || p.Price.String() != "499.5" {
		t.Fatalf("unexpected product: %+v", p)
	}

	w := doJSON(t, s, "", http.MethodGet, "/api/v1/products?q=kett", nil)
	if w.Code != http.StatusOK || len(decode[[]domain.Product](t, w)) != 1 {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, s.admin, http.MethodPut, "/api/v1/products/1", map[string]any{"name": "Steel Kettle", "price": "450"})
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	if got := decode[domain.Product](t, w); got.Stock != 3 || got.SKU != "Kettle" {
		t.Fatalf("update touched stock or sku: %+v", got)
	}

	w = doJSON(t, s, s.admin, http.MethodPost, "/api/v1/products/1/restock", map[string]int{"quantity": 4})
	if w.Code != http.StatusOK || decode[domain.Product](t, w).Stock != 7 {
		t.Fatalf("restock: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, s.admin, http.MethodDelete, "/api/v1/products/1", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	w = doJSON(t, s, "", http.MethodGet, "/api/v1/products/1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCartFlow(t *testing.T) {
	s := setupServer(t)
	p := s.product(t, "Mug", "100", 10)

	w := doJSON(t, s, s.alice, http.MethodPost, "/api/v1/cart/items", map[string]int64{"product_id": p.ID, "quantity": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("add: %d %s", w.Code, w.Body.String())
	}
	w = doJSON(t, s, s.alice, http.MethodPost, "/api/v1/cart/items", map[string]int64{"product_id": p.ID, "quantity": 1})
	v := decode[domain.CartView](t, w)
	if len(v.Items) != 1 || v.Items[0].Quantity != 3 || v.Subtotal.String() != "300" {
		t.Fatalf("unexpected cart: %+v", v)
	}

	w = doJSON(t, s, s.alice, http.MethodPut, "/api/v1/cart/items/1", map[string]int64{"quantity": 0})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero quantity, got %d", w.Code)
	}

	// корзина у каждого своя
	w = doJSON(t, s, s.bob, http.MethodGet, "/api/v1/cart", nil)
	if len(decode[domain.CartView](t, w).Items) != 0 {
		t.Fatalf("bob sees alice's cart")
	}

	w = doJSON(t, s, s.alice, http.MethodPost, "/api/v1/orders", map[string]any{"from_cart": true, "shipping_address": address()})
	if w.Code != http.StatusCreated {
		t.Fatalf("order from cart: %d %s", w.Code, w.Body.String())
	}
	if o := decode[orderResp](t, w).Order; o.TotalAmount.String() != "300" || o.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected order: %+v", o)
	}

	w = doJSON(t, s, s.alice, http.MethodDelete, "/api/v1/cart", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("clear: %d", w.Code)
	}
}

func TestCheckoutFlow(t *testing.T) {
	s := setupServer(t)
	p := s.product(t, "Lamp", "250", 2)
	o := s.placeOrder(t, s.alice, domain.CartItem{ProductID: p.ID, Quantity: 2})
	if o.TotalAmount.String() != "500" {
		t.Fatalf("total = %s", o.TotalAmount)
	}
	if s.stock(t, p.ID) != 2 {
		t.Fatalf("placing an order must not touch stock")
	}

	in := s.intent(t, s.alice, o.ID)
	if in.Amount != 50000 || in.Currency != "INR" || in.Key != "rzp_test" {
		t.Fatalf("unexpected intent: %+v", in)
	}

	bad := verifyBody(o.ID, in.GatewayOrderID, "pay_1")
	bad["razorpay_signature"] = strings.Repeat("0", 64)
	w := doJSON(t, s, s.alice, http.MethodPost, "/api/v1/payment/verify", bad)
	if w.Code != http.StatusBadRequest || decode[errorResponse](t, w).Error != "payment verification failed" {
		t.Fatalf("bad signature: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, s.bob, http.MethodPost, "/api/v1/payment/verify", verifyBody(o.ID, in.GatewayOrderID, "pay_1"))
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign verify: %d", w.Code)
	}

	for i := 0; i < 2; i++ {
		w = doJSON(t, s, s.alice, http.MethodPost, "/api/v1/payment/verify", verifyBody(o.ID, in.GatewayOrderID, "pay_1"))
		if w.Code != http.StatusOK {
			t.Fatalf("verify #%d: %d %s", i+1, w.Code, w.Body.String())
		}
	}
	if s.stock(t, p.ID) != 0 {
		t.Fatalf("stock = %d, want 0 after one settlement", s.stock(t, p.ID))
	}

	w = doJSON(t, s, s.alice, http.MethodGet, "/api/v1/orders/"+o.ID, nil)
	if got := decode[domain.Order](t, w); got.Status != domain.OrderStatusPaid || got.Payment == nil || got.Payment.GatewayPaymentID != "pay_1" {
		t.Fatalf("unexpected order: %+v", got)
	}
	w = doJSON(t, s, s.alice, http.MethodGet, "/api/v1/orders/my/count", nil)
	if decode[map[string]int](t, w)["count"] != 1 {
		t.Fatalf("count: %s", w.Body.String())
	}
}

func TestVerify_StockRacedAway(t *testing.T) {
	s := setupServer(t)
	p := s.product(t, "Last", "10", 1)
	a := s.placeOrder(t, s.alice, domain.CartItem{ProductID: p.ID, Quantity: 1})
	b := s.placeOrder(t, s.bob, domain.CartItem{ProductID: p.ID, Quantity: 1})
	ia, ib := s.intent(t, s.alice, a.ID), s.intent(t, s.bob, b.ID)

	if w := doJSON(t, s, s.alice, http.MethodPost, "/api/v1/payment/verify", verifyBody(a.ID, ia.GatewayOrderID, "pay_a")); w.Code != http.StatusOK {
		t.Fatalf("first buyer: %d %s", w.Code, w.Body.String())
	}
	w := doJSON(t, s, s.bob, http.MethodPost, "/api/v1/payment/verify", verifyBody(b.ID, ib.GatewayOrderID, "pay_b"))
	if w.Code != http.StatusInternalServerError || decode[errorResponse](t, w).Code != service.CodeInsufficientStock {
		t.Fatalf("second buyer: %d %s", w.Code, w.Body.String())
	}
	if s.stock(t, p.ID) != 0 {
		t.Fatalf("stock went negative or was restored: %d", s.stock(t, p.ID))
	}
}

func TestWebhook(t *testing.T) {
	s := setupServer(t)
	p := s.product(t, "Fan", "1200", 1)
	o := s.placeOrder(t, s.alice, domain.CartItem{ProductID: p.ID, Quantity: 1})
	in := s.intent(t, s.alice, o.ID)

	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_w","order_id":"` + in.GatewayOrderID + `","status":"captured"}}}}`)
	post := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/webhook", bytes.NewReader(body))
		req.Header.Set(signatureHeader, sig)
		w := httptest.NewRecorder()
		s.Engine().ServeHTTP(w, req)
		return w
	}

	if w := post(payment.Sign([]byte("wrong"), body)); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	sig := payment.Sign([]byte(webhookSecret), body)
	for i := 0; i < 2; i++ {
		if w := post(sig); w.Code != http.StatusOK || w.Body.String() != "OK" {
			t.Fatalf("webhook #%d: %d %s", i+1, w.Code, w.Body.String())
		}
	}
	if s.stock(t, p.ID) != 0 {
		t.Fatalf("replayed webhook debited twice or not at all")
	}
}

func TestOrderAdmin(t *testing.T) {
	s := setupServer(t)
	p := s.product(t, "Chair", "800", 5)
	o := s.placeOrder(t, s.alice, domain.CartItem{ProductID: p.ID, Quantity: 2})

	w := doJSON(t, s, s.admin, http.MethodPut, "/api/v1/orders/"+o.ID+"/status", map[string]string{"status": "shipped"})
	if w.Code != http.StatusConflict {
		t.Fatalf("pending -> shipped: %d %s", w.Code, w.Body.String())
	}
	w = doJSON(t, s, s.admin, http.MethodPut, "/api/v1/orders/"+o.ID+"/status", map[string]string{"status": "paid"})
	if w.Code != http.StatusConflict {
		t.Fatalf("manual paid: %d", w.Code)
	}
	w = doJSON(t, s, s.admin, http.MethodPut, "/api/v1/orders/"+o.ID+"/status", map[string]string{"status": "lost"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown status: %d", w.Code)
	}

	in := s.intent(t, s.alice, o.ID)
	doJSON(t, s, s.alice, http.MethodPost, "/api/v1/payment/verify", verifyBody(o.ID, in.GatewayOrderID, "pay_c"))
	if s.stock(t, p.ID) != 3 {
		t.Fatalf("stock = %d after payment", s.stock(t, p.ID))
	}

	w = doJSON(t, s, s.admin, http.MethodPut, "/api/v1/orders/"+o.ID+"/status", map[string]string{"status": "shipped"})
	if w.Code != http.StatusOK {
		t.Fatalf("paid -> shipped: %d %s", w.Code, w.Body.String())
	}
	w = doJSON(t, s, s.alice, http.MethodPut, "/api/v1/orders/"+o.ID+"/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("cancel shipped: %d", w.Code)
	}

	w = doJSON(t, s, s.admin, http.MethodGet, "/api/v1/orders?status=shipped", nil)
	if len(decode[[]domain.Order](t, w)) != 1 {
		t.Fatalf("filter: %s", w.Body.String())
	}
	w = doJSON(t, s, s.admin, http.MethodGet, "/api/v1/admin/stats", nil)
	if st := decode[domain.OrderStats](t, w); st.TotalOrders != 1 || st.PaidRevenue.String() != "1600" ||
		len(st.RecentOrders) != 1 || st.RecentOrders[0].ID != o.ID {
		t.Fatalf("stats: %+v", st)
	}
	w = doJSON(t, s, s.admin, http.MethodGet, "/api/v1/admin/stock/low?threshold=3", nil)
	if len(decode[[]domain.Product](t, w)) != 1 {
		t.Fatalf("low stock: %s", w.Body.String())
	}

	w = doJSON(t, s, s.admin, http.MethodGet, "/api/v1/admin/revenue/monthly", nil)
	months := decode[[]domain.MonthlyRevenue](t, w)
	if w.Code != http.StatusOK || len(months) != 1 || months[0].Orders != 1 || months[0].Revenue.String() != "1600" {
		t.Fatalf("monthly revenue: %d %s", w.Code, w.Body.String())
	}
	w = doJSON(t, s, s.admin, http.MethodGet, "/api/v1/admin/products/top?limit=1", nil)
	top := decode[[]domain.TopSeller](t, w)
	if w.Code != http.StatusOK || len(top) != 1 || top[0].ProductID != p.ID || top[0].UnitsSold != 2 || top[0].Name != "Chair" {
		t.Fatalf("top sellers: %d %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, s, s.admin, http.MethodGet, "/api/v1/admin/products/top?limit=0", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("limit=0: %d", w.Code)
	}
	if w := doJSON(t, s, s.alice, http.MethodGet, "/api/v1/admin/products/top", nil); w.Code != http.StatusForbidden {
		t.Fatalf("customer reached top sellers: %d", w.Code)
	}
}

func TestCancelRestoresStock(t *testing.T) {
	s := setupServer(t)
	p := s.product(t, "Rug", "300", 4)
	o := s.placeOrder(t, s.alice, domain.CartItem{ProductID: p.ID, Quantity: 3})
	in := s.intent(t, s.alice, o.ID)
	doJSON(t, s, s.alice, http.MethodPost, "/api/v1/payment/verify", verifyBody(o.ID, in.GatewayOrderID, "pay_r"))

	if w := doJSON(t, s, s.bob, http.MethodPut, "/api/v1/orders/"+o.ID+"/cancel", nil); w.Code != http.StatusForbidden {
		t.Fatalf("foreign cancel: %d", w.Code)
	}
	w := doJSON(t, s, s.alice, http.MethodPut, "/api/v1/orders/"+o.ID+"/cancel", nil)
	if w.Code != http.StatusOK || decode[orderResp](t, w).Order.Status != domain.OrderStatusCancelled {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	if s.stock(t, p.ID) != 4 {
		t.Fatalf("stock = %d, want 4", s.stock(t, p.ID))
	}
}

func TestHTTP_BadRequests(t *testing.T) {
	s := setupServer(t)
	p := s.product(t, "Pen", "5", 10)
	cases := []struct {
		name string
		body any
		code string
	}{
		{"empty", map[string]any{"items": []any{}, "shipping_address": address()}, service.CodeEmptyOrder},
		{"zero qty", map[string]any{"items": []domain.CartItem{{ProductID: p.ID}}, "shipping_address": address()}, service.CodeInvalidQuantity},
		{"no address", map[string]any{"items": []domain.CartItem{{ProductID: p.ID, Quantity: 1}}}, service.CodeInvalidAddress},
		{"too many", map[string]any{"items": []domain.CartItem{{ProductID: p.ID, Quantity: 11}}, "shipping_address": address()}, service.CodeInsufficientStock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, s, s.alice, http.MethodPost, "/api/v1/orders", tc.body)
			if w.Code != http.StatusBadRequest || decode[errorResponse](t, w).Code != tc.code {
				t.Fatalf("%d %s", w.Code, w.Body.String())
			}
		})
	}

	w := doJSON(t, s, s.alice, http.MethodPost, "/api/v1/orders", map[string]any{"items": []domain.CartItem{{ProductID: 999, Quantity: 1}}, "shipping_address": address()})
	if w.Code != http.StatusBadRequest || decode[errorResponse](t, w).Code != service.CodeProductNotFound {
		t.Fatalf("unknown product: %d %s", w.Code, w.Body.String())
	}
	w = doJSON(t, s, "", http.MethodGet, "/api/v1/products/999", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing product lookup: %d", w.Code)
	}
	w = doJSON(t, s, "", http.MethodGet, "/api/v1/products/abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", w.Code)
	}
}

func TestHTTP_AuthRequired(t *testing.T) {
	s := setupServer(t)
	if w := doJSON(t, s, "", http.MethodGet, "/api/v1/cart", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", w.Code)
	}
	if w := doJSON(t, s, "garbage", http.MethodGet, "/api/v1/orders/my", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", w.Code)
	}
	if w := doJSON(t, s, s.alice, http.MethodPost, "/api/v1/products", map[string]any{"name": "x", "sku": "x", "price": "1"}); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin create: %d", w.Code)
	}
	if w := doJSON(t, s, s.alice, http.MethodGet, "/api/v1/admin/stats", nil); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin stats: %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupServer(t)
	doJSON(t, s, "", http.MethodGet, "/api/v1/ping", nil)
	w := doJSON(t, s, "", http.MethodGet, "/api/v1/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "storefront_http_requests_total") {
		t.Fatalf("metrics: %d", w.Code)
	}
	if w.Header().Get(traceHeader) == "" {
		t.Fatalf("trace id header missing")
	}
}
