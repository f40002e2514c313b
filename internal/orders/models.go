package orders

import "time"

// Beat is a catalog entry. One-of-a-kind: the first completed sale flips
// IsAvailable to false.
type Beat struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	Genre       string    `json:"genre"`
	BPM         int       `json:"bpm"`
	Mood        string    `json:"mood"`
	PriceCents  int       `json:"price_cents"`
	Currency    string    `json:"currency"`
	DownloadURL string    `json:"-"`
	IsAvailable bool      `json:"is_available"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Order is one (checkout, beat) line. A cart checkout with N beats produces
// N rows sharing one CheckoutRef and, once bound, one ExternalOrderID.
type Order struct {
	ID                string     `json:"id"`
	CheckoutRef       string     `json:"checkout_ref"`
	ExternalOrderID   string     `json:"external_order_id,omitempty"`
	ExternalCaptureID string     `json:"external_capture_id,omitempty"`
	BuyerID           string     `json:"buyer_id"`
	BuyerEmail        string     `json:"-"`
	BeatID            string     `json:"beat_id"`
	AmountCents       int        `json:"amount_cents"`
	Currency          string     `json:"currency"`
	Status            Status     `json:"status"`
	DeliveryEmailSent bool       `json:"delivery_email_sent"`
	FailReason        string     `json:"fail_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// Grant records that a buyer owns a beat. Keyed (BuyerID, BeatID); a buyer
// never holds two grants for the same beat.
type Grant struct {
	BuyerID     string    `json:"buyer_id"`
	BeatID      string    `json:"beat_id"`
	OrderID     string    `json:"order_id"`
	AmountCents int       `json:"amount_cents"`
	Currency    string    `json:"currency"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// Intent is the result of recording a checkout: the pending rows plus the
// authoritative server-computed total.
type Intent struct {
	Orders     []Order
	TotalCents int
	Currency   string
	Existed    bool
}
