package paypal

import (
	"encoding/json"
	"fmt"

	"github.com/beatsgarage/beatstore/internal/orders"
)

// Webhook event types the reconciler consumes.
const (
	EventCheckoutOrderApproved   = "CHECKOUT.ORDER.APPROVED"
	EventPaymentCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
)

type webhookAmount struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
}

// WebhookEvent mirrors the subset of the provider webhook body the reconciler
// reads. The resource shape differs per event type: an approved event's
// resource is the order (amount under purchase_units), a capture event's
// resource is the capture itself (amount at top level, order id under
// supplementary_data).
type WebhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID            string `json:"id"`
		PurchaseUnits []struct {
			Amount webhookAmount `json:"amount"`
		} `json:"purchase_units"`
		Amount            *webhookAmount `json:"amount"`
		SupplementaryData *struct {
			RelatedIDs *struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
		Payer *struct {
			EmailAddress string `json:"email_address"`
		} `json:"payer"`
	} `json:"resource"`
}

func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook event: %w", err)
	}
	if ev.EventType == "" {
		return WebhookEvent{}, fmt.Errorf("webhook event missing event_type")
	}
	return ev, nil
}

// ExternalOrderID returns the provider order id the event refers to, or ""
// when the event does not carry one.
func (e WebhookEvent) ExternalOrderID() string {
	switch e.EventType {
	case EventCheckoutOrderApproved:
		return e.Resource.ID
	case EventPaymentCaptureCompleted:
		if e.Resource.SupplementaryData != nil && e.Resource.SupplementaryData.RelatedIDs != nil {
			return e.Resource.SupplementaryData.RelatedIDs.OrderID
		}
	}
	return ""
}

// CaptureID is set only on capture-completed events.
func (e WebhookEvent) CaptureID() string {
	if e.EventType == EventPaymentCaptureCompleted {
		return e.Resource.ID
	}
	return ""
}

// AmountCents extracts the event amount in cents plus its currency.
func (e WebhookEvent) AmountCents() (int, string, error) {
	var a webhookAmount
	switch {
	case e.EventType == EventPaymentCaptureCompleted && e.Resource.Amount != nil:
		a = *e.Resource.Amount
	case len(e.Resource.PurchaseUnits) > 0:
		a = e.Resource.PurchaseUnits[0].Amount
	default:
		return 0, "", fmt.Errorf("webhook event %s carries no amount", e.EventType)
	}
	cents, err := orders.ParseAmount(a.Value)
	if err != nil {
		return 0, "", err
	}
	return cents, a.CurrencyCode, nil
}

// PayerEmail is best effort; not every event carries it.
func (e WebhookEvent) PayerEmail() string {
	if e.Resource.Payer != nil {
		return e.Resource.Payer.EmailAddress
	}
	return ""
}
