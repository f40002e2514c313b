package paypal

import (
	"context"
	"fmt"
	"net/http"

	"github.com/plutov/paypal/v4"

	"github.com/beatsgarage/beatstore/internal/orders"
)

type Config struct {
	ClientID  string
	Secret    string
	BaseURL   string
	WebhookID string
}

// Client wraps the PayPal REST SDK behind the two operations the store
// needs: create a provider order for the server-computed total, and capture
// it once the buyer approved in the provider UI.
type Client struct {
	pc        *paypal.Client
	webhookID string
}

func NewClient(cfg Config) (*Client, error) {
	pc, err := paypal.NewClient(cfg.ClientID, cfg.Secret, cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("paypal client: %w", err)
	}
	return &Client{pc: pc, webhookID: cfg.WebhookID}, nil
}

// Capture is the provider's report of a finished payment.
type Capture struct {
	CaptureID   string
	AmountCents int
	Currency    string
	PayerEmail  string
}

// CreateOrder creates a provider-side order. The amount is always the
// server-computed checkout total; nothing client-held reaches this call.
func (c *Client) CreateOrder(ctx context.Context, amountCents int, currency, reference string) (string, error) {
	if _, err := c.pc.GetAccessToken(ctx); err != nil {
		return "", fmt.Errorf("paypal token: %w", err)
	}
	order, err := c.pc.CreateOrder(ctx, paypal.OrderIntentCapture, []paypal.PurchaseUnitRequest{{
		ReferenceID: reference,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: currency,
			Value:    orders.FormatCents(amountCents),
		},
	}}, nil, nil)
	if err != nil {
		return "", fmt.Errorf("paypal create order: %w", err)
	}
	return order.ID, nil
}

// CaptureOrder captures an approved provider order. Transient SDK failures
// surface to the caller; the buyer retries by re-entering checkout.
func (c *Client) CaptureOrder(ctx context.Context, externalOrderID string) (Capture, error) {
	if _, err := c.pc.GetAccessToken(ctx); err != nil {
		return Capture{}, fmt.Errorf("paypal token: %w", err)
	}
	resp, err := c.pc.CaptureOrder(ctx, externalOrderID, paypal.CaptureOrderRequest{})
	if err != nil {
		return Capture{}, fmt.Errorf("paypal capture order: %w", err)
	}

	var out Capture
	for _, pu := range resp.PurchaseUnits {
		if pu.Payments == nil {
			continue
		}
		for _, cap := range pu.Payments.Captures {
			if cap.Amount == nil {
				continue
			}
			cents, err := orders.ParseAmount(cap.Amount.Value)
			if err != nil {
				return Capture{}, fmt.Errorf("paypal capture amount: %w", err)
			}
			out.CaptureID = cap.ID
			out.AmountCents += cents
			out.Currency = cap.Amount.Currency
		}
	}
	if resp.Payer != nil {
		out.PayerEmail = resp.Payer.EmailAddress
	}
	if out.CaptureID == "" {
		return Capture{}, fmt.Errorf("paypal capture order %s: no capture in response (status %s)", externalOrderID, resp.Status)
	}
	return out, nil
}

// VerifyWebhook checks the webhook transmission signature with the provider.
// With no webhook id configured (local dev), verification is skipped.
func (c *Client) VerifyWebhook(ctx context.Context, req *http.Request) (bool, error) {
	if c.webhookID == "" {
		return true, nil
	}
	resp, err := c.pc.VerifyWebhookSignature(ctx, req, c.webhookID)
	if err != nil {
		return false, fmt.Errorf("paypal verify webhook: %w", err)
	}
	return resp.VerificationStatus == "SUCCESS", nil
}
