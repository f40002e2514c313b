package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/beatsgarage/beatstore/internal/checkout"
	"github.com/beatsgarage/beatstore/internal/orders"
	"github.com/beatsgarage/beatstore/internal/redisx"
)

type CheckoutService interface {
	CreateIntent(ctx context.Context, in checkout.CreateIntentInput) (orders.Intent, error)
	CreateProviderOrder(ctx context.Context, buyerID, checkoutRef string) (checkout.ProviderOrderResult, error)
}

type ReconService interface {
	FinalizeCapture(ctx context.Context, externalOrderID string) ([]orders.Order, error)
	Status(ctx context.Context, buyerID, externalOrderID string) ([]orders.Order, error)
}

type NotifyService interface {
	Resend(ctx context.Context, buyerID, orderID string) error
}

type Catalog interface {
	ListBeats(ctx context.Context) ([]orders.Beat, error)
}

// Cache is the fail-open string cache behind the idempotency and status
// fast-paths. Backed by redisx.Cache in production.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, val string, ttl time.Duration)
}

type OrdersHandler struct {
	Checkout CheckoutService
	Recon    ReconService
	Notify   NotifyService
	Catalog  Catalog
	Cache    Cache
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Get("/beats", h.listBeats)
	r.Group(func(r chi.Router) {
		r.Use(BuyerAuth)
		r.Post("/orders", h.createIntent)
		r.Get("/orders/{externalOrderID}", h.getStatus)
		r.Post("/orders/{externalOrderID}/finalize", h.finalize)
		r.Post("/orders/{orderID}/resend-email", h.resendEmail)
		r.Post("/checkout/{checkoutRef}/provider-order", h.createProviderOrder)
	})
}

func (h *OrdersHandler) listBeats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	beats, err := h.Catalog.ListBeats(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, beats)
}

type createIntentReq struct {
	CheckoutRef string   `json:"checkout_ref"`
	BeatIDs     []string `json:"beat_ids"`
}

type intentResp struct {
	Orders     []orders.Order `json:"orders"`
	TotalCents int            `json:"total_cents"`
	Currency   string         `json:"currency"`
	Idempotent bool           `json:"idempotent"`
}

func (h *OrdersHandler) createIntent(w http.ResponseWriter, r *http.Request) {
	buyer, _ := BuyerFrom(r.Context())

	var req createIntentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// fast-path: a replayed create within the TTL is served from the cached
	// response without touching the service; the DB replay check stays the
	// source of truth after expiry
	idemKey := fmt.Sprintf(redisx.KeyIdemIntent, buyer.ID, req.CheckoutRef)
	if h.Cache != nil {
		if cached, ok := h.Cache.Get(ctx, idemKey); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(cached))
			return
		}
	}

	intent, err := h.Checkout.CreateIntent(ctx, checkout.CreateIntentInput{
		CheckoutRef: req.CheckoutRef,
		BuyerID:     buyer.ID,
		BuyerEmail:  buyer.Email,
		BeatIDs:     req.BeatIDs,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if h.Cache != nil {
		// stored with Idempotent already true, the shape a replay answers with
		if b, err := json.Marshal(intentResp{
			Orders:     intent.Orders,
			TotalCents: intent.TotalCents,
			Currency:   intent.Currency,
			Idempotent: true,
		}); err == nil {
			h.Cache.Set(ctx, idemKey, string(b), redisx.TTLIdempotency)
		}
	}

	code := http.StatusCreated
	if intent.Existed {
		code = http.StatusOK
	}
	writeJSON(w, code, intentResp{
		Orders:     intent.Orders,
		TotalCents: intent.TotalCents,
		Currency:   intent.Currency,
		Idempotent: intent.Existed,
	})
}

type providerOrderResp struct {
	ExternalOrderID string `json:"external_order_id"`
	TotalCents      int    `json:"total_cents"`
	Currency        string `json:"currency"`
}

func (h *OrdersHandler) createProviderOrder(w http.ResponseWriter, r *http.Request) {
	buyer, _ := BuyerFrom(r.Context())
	checkoutRef := chi.URLParam(r, "checkoutRef")

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Checkout.CreateProviderOrder(ctx, buyer.ID, checkoutRef)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, providerOrderResp{
		ExternalOrderID: res.ExternalOrderID,
		TotalCents:      res.TotalCents,
		Currency:        res.Currency,
	})
}

type statusResp struct {
	ExternalOrderID string         `json:"external_order_id"`
	Orders          []orders.Order `json:"orders"`
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	buyer, _ := BuyerFrom(r.Context())
	externalOrderID := chi.URLParam(r, "externalOrderID")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cache first; the success page polls this endpoint while waiting for
	// the webhook
	key := fmt.Sprintf(redisx.KeyOrderStatus, buyer.ID, externalOrderID)
	if h.Cache != nil {
		if s, ok := h.Cache.Get(ctx, key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(s))
			return
		}
	}

	rows, err := h.Recon.Status(ctx, buyer.ID, externalOrderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := statusResp{ExternalOrderID: externalOrderID, Orders: rows}
	if h.Cache != nil {
		if b, err := json.Marshal(resp); err == nil {
			h.Cache.Set(ctx, key, string(b), redisx.TTLStatusCache)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrdersHandler) finalize(w http.ResponseWriter, r *http.Request) {
	externalOrderID := chi.URLParam(r, "externalOrderID")

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	rows, err := h.Recon.FinalizeCapture(ctx, externalOrderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResp{ExternalOrderID: externalOrderID, Orders: rows})
}

func (h *OrdersHandler) resendEmail(w http.ResponseWriter, r *http.Request) {
	buyer, _ := BuyerFrom(r.Context())
	orderID := chi.URLParam(r, "orderID")

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.Notify.Resend(ctx, buyer.ID, orderID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}
