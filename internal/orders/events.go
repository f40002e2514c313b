package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderCompleted = "OrderCompleted"
	EventOrderFailed    = "OrderFailed"
)

// Envelope wraps every event on the wire. CorrelationID is the order id (or
// the external order id for events that fan out over a whole checkout).
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	CheckoutRef string   `json:"checkout_ref"`
	BuyerID     string   `json:"buyer_id"`
	OrderIDs    []string `json:"order_ids"`
	BeatIDs     []string `json:"beat_ids"`
	TotalCents  int      `json:"total_cents"`
	Currency    string   `json:"currency"`
}

type OrderCompletedPayload struct {
	OrderID           string `json:"order_id"`
	ExternalOrderID   string `json:"external_order_id"`
	ExternalCaptureID string `json:"external_capture_id"`
	BuyerID           string `json:"buyer_id"`
	BuyerEmail        string `json:"buyer_email"`
	BeatID            string `json:"beat_id"`
	BeatTitle         string `json:"beat_title"`
	DownloadURL       string `json:"download_url"`
	AmountCents       int    `json:"amount_cents"`
	Currency          string `json:"currency"`
}

type OrderFailedPayload struct {
	ExternalOrderID string   `json:"external_order_id"`
	OrderIDs        []string `json:"order_ids"`
	Reason          string   `json:"reason"`
}
