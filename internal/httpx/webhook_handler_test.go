package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/beatsgarage/beatstore/internal/paypal"
)

type stubVerifier struct {
	ok  bool
	err error
}

func (v *stubVerifier) VerifyWebhook(_ context.Context, r *http.Request) (bool, error) {
	// mimic the provider SDK, which drains the request body
	_, _ = io.Copy(io.Discard, r.Body)
	return v.ok, v.err
}

type stubReconciler struct {
	events []paypal.WebhookEvent
	err    error
}

func (s *stubReconciler) HandleWebhookEvent(_ context.Context, ev paypal.WebhookEvent) error {
	s.events = append(s.events, ev)
	return s.err
}

func postWebhook(t *testing.T, h *WebhookHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	h.Register(r)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const captureBody = `{
	"id": "WH-1",
	"event_type": "PAYMENT.CAPTURE.COMPLETED",
	"resource": {
		"id": "CAP-1",
		"amount": {"value": "25.00", "currency_code": "USD"},
		"supplementary_data": {"related_ids": {"order_id": "EXT-1"}}
	}
}`

func TestWebhookHandler(t *testing.T) {
	t.Parallel()

	t.Run("verified event reaches the reconciler", func(t *testing.T) {
		rec := &stubReconciler{}
		w := postWebhook(t, &WebhookHandler{Verifier: &stubVerifier{ok: true}, Recon: rec}, captureBody)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
		}
		if len(rec.events) != 1 {
			t.Fatalf("expected one event, got %d", len(rec.events))
		}
		if rec.events[0].ExternalOrderID() != "EXT-1" {
			t.Fatalf("expected the body to survive signature verification, got %+v", rec.events[0])
		}
	})

	t.Run("invalid signature gets 400", func(t *testing.T) {
		rec := &stubReconciler{}
		w := postWebhook(t, &WebhookHandler{Verifier: &stubVerifier{ok: false}, Recon: rec}, captureBody)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
		if len(rec.events) != 0 {
			t.Fatalf("expected no event delivered")
		}
	})

	t.Run("verification outage gets 502", func(t *testing.T) {
		w := postWebhook(t, &WebhookHandler{
			Verifier: &stubVerifier{err: fmt.Errorf("provider unreachable")},
			Recon:    &stubReconciler{},
		}, captureBody)

		if w.Code != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d", w.Code)
		}
	})

	t.Run("malformed body gets 400 after verification", func(t *testing.T) {
		w := postWebhook(t, &WebhookHandler{Verifier: &stubVerifier{ok: true}, Recon: &stubReconciler{}}, `{`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("reconciler errors are still acknowledged", func(t *testing.T) {
		rec := &stubReconciler{err: fmt.Errorf("db down")}
		w := postWebhook(t, &WebhookHandler{Verifier: &stubVerifier{ok: true}, Recon: rec}, captureBody)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 despite reconciler error, got %d", w.Code)
		}
	})
}
