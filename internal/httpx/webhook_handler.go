package httpx

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/beatsgarage/beatstore/internal/paypal"
)

const maxWebhookBody = 1 << 20

type WebhookVerifier interface {
	VerifyWebhook(ctx context.Context, req *http.Request) (bool, error)
}

type WebhookReconciler interface {
	HandleWebhookEvent(ctx context.Context, ev paypal.WebhookEvent) error
}

// WebhookHandler receives provider webhook deliveries. After the signature
// check, the provider always gets a 2xx: reconciliation problems are logged,
// never thrown back, so redelivery storms cannot happen.
type WebhookHandler struct {
	Verifier WebhookVerifier
	Recon    WebhookReconciler
}

func (h *WebhookHandler) Register(r *chi.Mux) {
	r.Post("/webhooks/paypal", h.handlePayPal)
}

func (h *WebhookHandler) handlePayPal(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "unreadable body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	// verification consumes the body; hand it a fresh reader
	r.Body = io.NopCloser(bytes.NewReader(body))
	ok, err := h.Verifier.VerifyWebhook(ctx, r)
	if err != nil {
		log.Printf("webhook: signature verification: %v", err)
		writeError(w, http.StatusBadGateway, "verification_unavailable", "could not verify webhook signature")
		return
	}
	if !ok {
		log.Printf("webhook: signature verification failed")
		writeError(w, http.StatusBadRequest, "invalid_signature", "webhook signature verification failed")
		return
	}

	ev, err := paypal.ParseWebhookEvent(body)
	if err != nil {
		log.Printf("webhook: %v", err)
		writeError(w, http.StatusBadRequest, "invalid_argument", "malformed webhook event")
		return
	}

	if err := h.Recon.HandleWebhookEvent(ctx, ev); err != nil {
		// acked anyway; the transition is compare-and-set and the provider
		// will retry delivery on its own schedule
		log.Printf("webhook %s: %v", ev.ID, err)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
