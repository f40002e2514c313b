package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/beatsgarage/beatstore/internal/checkout"
	"github.com/beatsgarage/beatstore/internal/orders"
)

type stubCheckout struct {
	intent    orders.Intent
	intentErr error
	provider  checkout.ProviderOrderResult
	provErr   error

	gotIntent   checkout.CreateIntentInput
	intentCalls int
}

func (s *stubCheckout) CreateIntent(_ context.Context, in checkout.CreateIntentInput) (orders.Intent, error) {
	s.gotIntent = in
	s.intentCalls++
	return s.intent, s.intentErr
}

func (s *stubCheckout) CreateProviderOrder(_ context.Context, buyerID, checkoutRef string) (checkout.ProviderOrderResult, error) {
	return s.provider, s.provErr
}

type stubRecon struct {
	rows        []orders.Order
	statusErr   error
	finalErr    error
	statusCalls int
}

func (s *stubRecon) FinalizeCapture(_ context.Context, externalOrderID string) ([]orders.Order, error) {
	return s.rows, s.finalErr
}

func (s *stubRecon) Status(_ context.Context, buyerID, externalOrderID string) ([]orders.Order, error) {
	s.statusCalls++
	return s.rows, s.statusErr
}

type fakeCache struct{ m map[string]string }

func (c *fakeCache) Get(_ context.Context, key string) (string, bool) {
	s, ok := c.m[key]
	return s, ok
}

func (c *fakeCache) Set(_ context.Context, key, val string, _ time.Duration) {
	if c.m == nil {
		c.m = make(map[string]string)
	}
	c.m[key] = val
}

type stubNotify struct {
	err     error
	resends int
}

func (s *stubNotify) Resend(_ context.Context, buyerID, orderID string) error {
	s.resends++
	return s.err
}

type stubCatalog struct{ beats []orders.Beat }

func (s *stubCatalog) ListBeats(context.Context) ([]orders.Beat, error) { return s.beats, nil }

func newTestRouter(h *OrdersHandler) *chi.Mux {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func doReq(t *testing.T, r http.Handler, method, path, body, buyerID string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if buyerID != "" {
		req.Header.Set(HeaderBuyerID, buyerID)
		req.Header.Set(HeaderBuyerEmail, buyerID+"@example.com")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestOrdersHandler_CreateIntent(t *testing.T) {
	t.Parallel()

	t.Run("201 on a new intent", func(t *testing.T) {
		co := &stubCheckout{intent: orders.Intent{
			Orders:     []orders.Order{{ID: "o-1", BeatID: "beat-1", AmountCents: 2500, Currency: "USD", Status: orders.StatusPending}},
			TotalCents: 2500,
			Currency:   "USD",
		}}
		r := newTestRouter(&OrdersHandler{Checkout: co, Recon: &stubRecon{}, Notify: &stubNotify{}, Catalog: &stubCatalog{}})

		w := doReq(t, r, http.MethodPost, "/orders", `{"checkout_ref":"cart-1","beat_ids":["beat-1"]}`, "buyer-1")
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", w.Code, w.Body)
		}
		if co.gotIntent.BuyerID != "buyer-1" || co.gotIntent.BuyerEmail != "buyer-1@example.com" {
			t.Fatalf("expected identity from headers, got %+v", co.gotIntent)
		}
		var resp struct {
			TotalCents int  `json:"total_cents"`
			Idempotent bool `json:"idempotent"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.TotalCents != 2500 || resp.Idempotent {
			t.Fatalf("unexpected body %s", w.Body)
		}
	})

	t.Run("replay within the ttl is served from the cache", func(t *testing.T) {
		co := &stubCheckout{intent: orders.Intent{
			Orders:     []orders.Order{{ID: "o-1", BeatID: "beat-1", AmountCents: 2500, Currency: "USD", Status: orders.StatusPending}},
			TotalCents: 2500,
			Currency:   "USD",
		}}
		r := newTestRouter(&OrdersHandler{Checkout: co, Recon: &stubRecon{}, Notify: &stubNotify{}, Catalog: &stubCatalog{}, Cache: &fakeCache{}})

		body := `{"checkout_ref":"cart-1","beat_ids":["beat-1"]}`
		if w := doReq(t, r, http.MethodPost, "/orders", body, "buyer-1"); w.Code != http.StatusCreated {
			t.Fatalf("first create: expected 201, got %d", w.Code)
		}
		w := doReq(t, r, http.MethodPost, "/orders", body, "buyer-1")
		if w.Code != http.StatusOK {
			t.Fatalf("replay: expected 200, got %d", w.Code)
		}
		if co.intentCalls != 1 {
			t.Fatalf("expected the replay to skip the service, got %d calls", co.intentCalls)
		}
		var resp struct {
			TotalCents int  `json:"total_cents"`
			Idempotent bool `json:"idempotent"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.TotalCents != 2500 || !resp.Idempotent {
			t.Fatalf("unexpected replay body %s", w.Body)
		}
	})

	t.Run("cache is scoped per buyer", func(t *testing.T) {
		co := &stubCheckout{intent: orders.Intent{TotalCents: 2500, Currency: "USD"}}
		r := newTestRouter(&OrdersHandler{Checkout: co, Recon: &stubRecon{}, Notify: &stubNotify{}, Catalog: &stubCatalog{}, Cache: &fakeCache{}})

		body := `{"checkout_ref":"cart-1","beat_ids":["beat-1"]}`
		doReq(t, r, http.MethodPost, "/orders", body, "buyer-1")
		if w := doReq(t, r, http.MethodPost, "/orders", body, "buyer-2"); w.Code != http.StatusCreated {
			t.Fatalf("another buyer, same ref: expected 201, got %d", w.Code)
		}
		if co.intentCalls != 2 {
			t.Fatalf("expected both buyers to reach the service, got %d calls", co.intentCalls)
		}
	})

	t.Run("200 on idempotent replay", func(t *testing.T) {
		co := &stubCheckout{intent: orders.Intent{TotalCents: 2500, Currency: "USD", Existed: true}}
		r := newTestRouter(&OrdersHandler{Checkout: co, Recon: &stubRecon{}, Notify: &stubNotify{}, Catalog: &stubCatalog{}})

		w := doReq(t, r, http.MethodPost, "/orders", `{"checkout_ref":"cart-1","beat_ids":["beat-1"]}`, "buyer-1")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	})

	t.Run("401 without identity", func(t *testing.T) {
		r := newTestRouter(&OrdersHandler{Checkout: &stubCheckout{}, Recon: &stubRecon{}, Notify: &stubNotify{}, Catalog: &stubCatalog{}})
		w := doReq(t, r, http.MethodPost, "/orders", `{"checkout_ref":"cart-1","beat_ids":["beat-1"]}`, "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("400 on bad json", func(t *testing.T) {
		r := newTestRouter(&OrdersHandler{Checkout: &stubCheckout{}, Recon: &stubRecon{}, Notify: &stubNotify{}, Catalog: &stubCatalog{}})
		w := doReq(t, r, http.MethodPost, "/orders", `{`, "buyer-1")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("409 when a purchase is already in flight", func(t *testing.T) {
		co := &stubCheckout{intentErr: orders.ErrOrderInProgress}
		r := newTestRouter(&OrdersHandler{Checkout: co, Recon: &stubRecon{}, Notify: &stubNotify{}, Catalog: &stubCatalog{}})

		w := doReq(t, r, http.MethodPost, "/orders", `{"checkout_ref":"cart-1","beat_ids":["beat-1"]}`, "buyer-1")
		if w.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", w.Code)
		}
		var resp errorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Code != "already_exists" {
			t.Fatalf("expected already_exists, got %s", resp.Code)
		}
	})
}

func TestOrdersHandler_Status(t *testing.T) {
	t.Parallel()

	t.Run("returns the buyer rows", func(t *testing.T) {
		re := &stubRecon{rows: []orders.Order{{ID: "o-1", ExternalOrderID: "EXT-1", Status: orders.StatusCompleted}}}
		r := newTestRouter(&OrdersHandler{Checkout: &stubCheckout{}, Recon: re, Notify: &stubNotify{}, Catalog: &stubCatalog{}})

		w := doReq(t, r, http.MethodGet, "/orders/EXT-1", "", "buyer-1")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var resp statusResp
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.ExternalOrderID != "EXT-1" || len(resp.Orders) != 1 {
			t.Fatalf("unexpected body %s", w.Body)
		}
	})

	t.Run("poll fills and then hits the cache", func(t *testing.T) {
		re := &stubRecon{rows: []orders.Order{{ID: "o-1", ExternalOrderID: "EXT-1", Status: orders.StatusPending}}}
		r := newTestRouter(&OrdersHandler{Checkout: &stubCheckout{}, Recon: re, Notify: &stubNotify{}, Catalog: &stubCatalog{}, Cache: &fakeCache{}})

		for i := 0; i < 2; i++ {
			if w := doReq(t, r, http.MethodGet, "/orders/EXT-1", "", "buyer-1"); w.Code != http.StatusOK {
				t.Fatalf("poll %d: expected 200, got %d", i, w.Code)
			}
		}
		if re.statusCalls != 1 {
			t.Fatalf("expected the second poll served from cache, got %d service calls", re.statusCalls)
		}
	})

	t.Run("404 on unknown order", func(t *testing.T) {
		re := &stubRecon{statusErr: orders.ErrOrderNotFound}
		r := newTestRouter(&OrdersHandler{Checkout: &stubCheckout{}, Recon: re, Notify: &stubNotify{}, Catalog: &stubCatalog{}})

		w := doReq(t, r, http.MethodGet, "/orders/EXT-MISSING", "", "buyer-1")
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})
}

func TestOrdersHandler_Finalize(t *testing.T) {
	t.Parallel()

	re := &stubRecon{rows: []orders.Order{{ID: "o-1", ExternalOrderID: "EXT-1", Status: orders.StatusCompleted}}}
	r := newTestRouter(&OrdersHandler{Checkout: &stubCheckout{}, Recon: re, Notify: &stubNotify{}, Catalog: &stubCatalog{}})

	w := doReq(t, r, http.MethodPost, "/orders/EXT-1/finalize", "", "buyer-1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
}

func TestOrdersHandler_ResendEmail(t *testing.T) {
	t.Parallel()

	t.Run("202 on success", func(t *testing.T) {
		no := &stubNotify{}
		r := newTestRouter(&OrdersHandler{Checkout: &stubCheckout{}, Recon: &stubRecon{}, Notify: no, Catalog: &stubCatalog{}})

		w := doReq(t, r, http.MethodPost, "/orders/o-1/resend-email", "", "buyer-1")
		if w.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", w.Code)
		}
		if no.resends != 1 {
			t.Fatalf("expected one resend, got %d", no.resends)
		}
	})

	t.Run("409 when not completed", func(t *testing.T) {
		no := &stubNotify{err: orders.ErrNotCompleted}
		r := newTestRouter(&OrdersHandler{Checkout: &stubCheckout{}, Recon: &stubRecon{}, Notify: no, Catalog: &stubCatalog{}})

		w := doReq(t, r, http.MethodPost, "/orders/o-1/resend-email", "", "buyer-1")
		if w.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", w.Code)
		}
	})
}

func TestOrdersHandler_ListBeats(t *testing.T) {
	t.Parallel()

	cat := &stubCatalog{beats: []orders.Beat{{ID: "beat-1", Title: "Night Drive", IsAvailable: true}}}
	r := newTestRouter(&OrdersHandler{Checkout: &stubCheckout{}, Recon: &stubRecon{}, Notify: &stubNotify{}, Catalog: cat})

	// catalog is public, no identity headers
	w := doReq(t, r, http.MethodGet, "/beats", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var beats []orders.Beat
	if err := json.Unmarshal(w.Body.Bytes(), &beats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(beats) != 1 || beats[0].ID != "beat-1" {
		t.Fatalf("unexpected beats %+v", beats)
	}
}
