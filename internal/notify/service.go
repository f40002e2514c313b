package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/beatsgarage/beatstore/internal/kafka"
	"github.com/beatsgarage/beatstore/internal/orders"
)

type Repo interface {
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	GetBeat(ctx context.Context, beatID string) (orders.Beat, error)
	ClaimDeliveryEmail(ctx context.Context, orderID string) (bool, error)
	ResetDeliveryEmail(ctx context.Context, orderID string) error
	MarkDeliveryEmailSent(ctx context.Context, orderID string) error
}

// Delivery is what the buyer receives once a purchase completes.
type Delivery struct {
	To          string
	BeatTitle   string
	BeatArtist  string
	DownloadURL string
	OrderID     string
}

type Mailer interface {
	SendDelivery(ctx context.Context, d Delivery) error
}

type Deduper interface {
	Seen(ctx context.Context, eventID string) bool
}

// Service sends delivery emails for completed orders. The
// delivery_email_sent flag is claimed compare-and-set before sending, so
// concurrent consumers send at most once; a failed send releases the claim
// and leaves the manual resend path open.
type Service struct {
	Repo   Repo
	Mailer Mailer
	Dedup  Deduper
}

// HandleOrderCompleted is the consumer handler for the order-completed topic.
func (s *Service) HandleOrderCompleted(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		log.Printf("notify: bad envelope at offset %d: %v", m.Offset, err)
		return nil // poison message, do not redeliver
	}
	if env.EventType != orders.EventOrderCompleted {
		return nil
	}
	if s.Dedup != nil && s.Dedup.Seen(ctx, env.EventID) {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderCompletedPayload](env.Payload)
	if err != nil {
		log.Printf("notify: event %s: %v", env.EventID, err)
		return nil
	}
	if p.BuyerEmail == "" {
		log.Printf("notify: order %s has no buyer email, skipping delivery", p.OrderID)
		return nil
	}

	claimed, err := s.Repo.ClaimDeliveryEmail(ctx, p.OrderID)
	if err != nil {
		return fmt.Errorf("claim delivery email %s: %w", p.OrderID, err)
	}
	if !claimed {
		return nil // already sent (or being sent)
	}

	d := Delivery{
		To:          p.BuyerEmail,
		BeatTitle:   p.BeatTitle,
		DownloadURL: p.DownloadURL,
		OrderID:     p.OrderID,
	}
	if err := s.Mailer.SendDelivery(ctx, d); err != nil {
		// Non-fatal to the purchase: release the claim so a manual resend
		// can retry, ack the event.
		log.Printf("notify: send delivery for order %s: %v", p.OrderID, err)
		if rerr := s.Repo.ResetDeliveryEmail(ctx, p.OrderID); rerr != nil {
			log.Printf("notify: reset delivery flag %s: %v", p.OrderID, rerr)
		}
		return nil
	}
	log.Printf("notify: delivery email sent for order %s", p.OrderID)
	return nil
}

// Resend is the explicit manual path, triggered from the status page. It
// sends regardless of the sent flag and requires the caller to own a
// completed order.
func (s *Service) Resend(ctx context.Context, buyerID, orderID string) error {
	if buyerID == "" {
		return orders.ErrBuyerRequired
	}
	o, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.BuyerID != buyerID {
		return orders.ErrOrderNotFound
	}
	if o.Status != orders.StatusCompleted {
		return orders.ErrNotCompleted
	}
	beat, err := s.Repo.GetBeat(ctx, o.BeatID)
	if err != nil {
		return err
	}
	if err := s.Mailer.SendDelivery(ctx, Delivery{
		To:          o.BuyerEmail,
		BeatTitle:   beat.Title,
		BeatArtist:  beat.Artist,
		DownloadURL: beat.DownloadURL,
		OrderID:     o.ID,
	}); err != nil {
		return fmt.Errorf("send delivery: %w", err)
	}
	return s.Repo.MarkDeliveryEmailSent(ctx, orderID)
}
