package recon

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/beatsgarage/beatstore/internal/clock"
	kafkax "github.com/beatsgarage/beatstore/internal/kafka"
	"github.com/beatsgarage/beatstore/internal/orders"
	"github.com/beatsgarage/beatstore/internal/paypal"
)

type Repo interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	ListByExternalOrderID(ctx context.Context, externalOrderID string) ([]orders.Order, error)
	ListForBuyerByExternalOrderID(ctx context.Context, buyerID, externalOrderID string) ([]orders.Order, error)
	ApproveByExternalOrderID(ctx context.Context, externalOrderID string, at time.Time) (int, error)
	CompleteOrder(ctx context.Context, orderID, captureID string, at time.Time) (bool, error)
	FailOrder(ctx context.Context, orderID, reason string) (bool, error)
	CreateGrant(ctx context.Context, g orders.Grant) error
	MarkBeatUnavailable(ctx context.Context, beatID string) error
	GetBeat(ctx context.Context, beatID string) (orders.Beat, error)
}

type Capturer interface {
	CaptureOrder(ctx context.Context, externalOrderID string) (paypal.Capture, error)
}

type Deduper interface {
	Seen(ctx context.Context, eventID string) bool
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Service is the reconciliation state machine. Webhooks and the client
// finalize call race to drive the same transitions; every status write is
// compare-and-set, so the race loser observes the terminal record and
// performs no further writes.
type Service struct {
	Repo        Repo
	Provider    Capturer
	Dedup       Deduper
	Completed   Publisher // beats.order.completed
	Failed      Publisher // beats.order.failed
	Clock       clock.Clock
	ServiceName string
}

// HandleWebhookEvent reconciles one provider webhook delivery. A lookup miss
// is logged and swallowed: the provider only needs an acknowledgment, and an
// error here would trigger a redelivery storm.
func (s *Service) HandleWebhookEvent(ctx context.Context, ev paypal.WebhookEvent) error {
	if s.Dedup != nil && ev.ID != "" && s.Dedup.Seen(ctx, ev.ID) {
		log.Printf("webhook %s (%s): already processed", ev.ID, ev.EventType)
		return nil
	}

	switch ev.EventType {
	case paypal.EventCheckoutOrderApproved:
		return s.Approve(ctx, ev.ExternalOrderID())
	case paypal.EventPaymentCaptureCompleted:
		extID := ev.ExternalOrderID()
		if extID == "" {
			log.Printf("webhook %s: capture event without related order id", ev.ID)
			return nil
		}
		cents, currency, err := ev.AmountCents()
		if err != nil {
			log.Printf("webhook %s: %v", ev.ID, err)
			return nil
		}
		return s.Complete(ctx, extID, paypal.Capture{
			CaptureID:   ev.CaptureID(),
			AmountCents: cents,
			Currency:    currency,
			PayerEmail:  ev.PayerEmail(),
		})
	default:
		log.Printf("webhook %s: ignoring event type %s", ev.ID, ev.EventType)
		return nil
	}
}

// Approve moves every still-pending row for the provider order to approved.
// Idempotent: rows past pending are untouched.
func (s *Service) Approve(ctx context.Context, externalOrderID string) error {
	if externalOrderID == "" {
		log.Printf("approve: event without provider order id")
		return nil
	}
	n, err := s.Repo.ApproveByExternalOrderID(ctx, externalOrderID, s.now())
	if err != nil {
		return fmt.Errorf("approve %s: %w", externalOrderID, err)
	}
	if n == 0 {
		rows, err := s.Repo.ListByExternalOrderID(ctx, externalOrderID)
		if err != nil {
			return fmt.Errorf("approve %s: %w", externalOrderID, err)
		}
		if len(rows) == 0 {
			log.Printf("approve %s: no matching order record", externalOrderID)
		}
		return nil
	}
	log.Printf("approve %s: %d row(s) approved", externalOrderID, n)
	return nil
}

// Complete applies a capture to every row bound to the provider order. The
// captured amount must match the sum of the rows' recorded amounts; a
// mismatch fails the whole checkout and never creates grants. Rows are
// otherwise processed independently: one row's failure does not block its
// siblings.
func (s *Service) Complete(ctx context.Context, externalOrderID string, cap paypal.Capture) error {
	rows, err := s.Repo.ListByExternalOrderID(ctx, externalOrderID)
	if err != nil {
		return fmt.Errorf("complete %s: %w", externalOrderID, err)
	}
	if len(rows) == 0 {
		log.Printf("complete %s: no matching order record", externalOrderID)
		return nil
	}

	if reason := amountMismatch(rows, cap); reason != "" {
		s.failAll(ctx, externalOrderID, rows, reason)
		return nil
	}

	now := s.now()
	for _, row := range rows {
		row := row
		var won bool
		err := s.Repo.WithTx(ctx, func(txCtx context.Context) error {
			var err error
			won, err = s.Repo.CompleteOrder(txCtx, row.ID, cap.CaptureID, now)
			if err != nil {
				return err
			}
			if !won {
				// already terminal; the other path got here first
				return nil
			}
			if err := s.Repo.CreateGrant(txCtx, orders.Grant{
				BuyerID:     row.BuyerID,
				BeatID:      row.BeatID,
				OrderID:     row.ID,
				AmountCents: row.AmountCents,
				Currency:    row.Currency,
				PurchasedAt: now,
			}); err != nil {
				return err
			}
			return s.Repo.MarkBeatUnavailable(txCtx, row.BeatID)
		})
		if err != nil {
			log.Printf("complete %s: order %s: %v", externalOrderID, row.ID, err)
			continue
		}
		if won {
			s.publishCompleted(ctx, row, cap, now)
		}
	}
	return nil
}

// FinalizeCapture is the client-driven path: capture the provider order
// server-side, then run the same completion the webhook would.
func (s *Service) FinalizeCapture(ctx context.Context, externalOrderID string) ([]orders.Order, error) {
	rows, err := s.Repo.ListByExternalOrderID(ctx, externalOrderID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, orders.ErrOrderNotFound
	}

	cap, err := s.Provider.CaptureOrder(ctx, externalOrderID)
	if err != nil {
		return nil, err
	}
	if err := s.Complete(ctx, externalOrderID, cap); err != nil {
		return nil, err
	}
	return s.Repo.ListByExternalOrderID(ctx, externalOrderID)
}

// Status is the buyer-scoped poll used after the provider redirects back.
func (s *Service) Status(ctx context.Context, buyerID, externalOrderID string) ([]orders.Order, error) {
	if buyerID == "" {
		return nil, orders.ErrBuyerRequired
	}
	rows, err := s.Repo.ListForBuyerByExternalOrderID(ctx, buyerID, externalOrderID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, orders.ErrOrderNotFound
	}
	return rows, nil
}

// amountMismatch returns a failure reason when the captured total disagrees
// with the recorded rows, or "" when it matches.
func amountMismatch(rows []orders.Order, cap paypal.Capture) string {
	var total int
	for _, row := range rows {
		total += row.AmountCents
		if row.Currency != cap.Currency {
			return fmt.Sprintf("currency mismatch: captured %s, order %s is %s", cap.Currency, row.ID, row.Currency)
		}
	}
	if total != cap.AmountCents {
		return fmt.Sprintf("amount mismatch: captured %s, orders total %s %s",
			orders.FormatCents(cap.AmountCents), orders.FormatCents(total), cap.Currency)
	}
	return ""
}

// failAll moves every still-active row to failed. Security-relevant: the
// provider reported a different amount than we recorded, so nothing is
// granted and the event is logged for manual review.
func (s *Service) failAll(ctx context.Context, externalOrderID string, rows []orders.Order, reason string) {
	log.Printf("ALERT: %s: %s", externalOrderID, reason)
	var failed []string
	for _, row := range rows {
		ok, err := s.Repo.FailOrder(ctx, row.ID, reason)
		if err != nil {
			log.Printf("fail %s: order %s: %v", externalOrderID, row.ID, err)
			continue
		}
		if ok {
			failed = append(failed, row.ID)
		}
	}
	if len(failed) > 0 && s.Failed != nil {
		ev := orders.Envelope{
			EventID:       uuid.NewString(),
			EventType:     orders.EventOrderFailed,
			EventVersion:  1,
			OccurredAt:    s.now(),
			Producer:      s.ServiceName,
			CorrelationID: externalOrderID,
			Payload: kafkax.MustMarshal(orders.OrderFailedPayload{
				ExternalOrderID: externalOrderID,
				OrderIDs:        failed,
				Reason:          reason,
			}),
		}
		s.Failed.Publish(orders.PartitionKey(externalOrderID), kafkax.MustMarshal(ev),
			kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderFailed)},
			kafkago.Header{Key: "x-event-version", Value: []byte("1")},
		)
	}
}

func (s *Service) publishCompleted(ctx context.Context, row orders.Order, cap paypal.Capture, at time.Time) {
	if s.Completed == nil {
		return
	}
	beat, err := s.Repo.GetBeat(ctx, row.BeatID)
	if err != nil {
		log.Printf("completed %s: load beat %s: %v", row.ID, row.BeatID, err)
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderCompleted,
		EventVersion:  1,
		OccurredAt:    at,
		Producer:      s.ServiceName,
		CorrelationID: row.ExternalOrderID,
		Payload: kafkax.MustMarshal(orders.OrderCompletedPayload{
			OrderID:           row.ID,
			ExternalOrderID:   row.ExternalOrderID,
			ExternalCaptureID: cap.CaptureID,
			BuyerID:           row.BuyerID,
			BuyerEmail:        row.BuyerEmail,
			BeatID:            row.BeatID,
			BeatTitle:         beat.Title,
			DownloadURL:       beat.DownloadURL,
			AmountCents:       row.AmountCents,
			Currency:          row.Currency,
		}),
	}
	s.Completed.Publish(orders.PartitionKey(row.ExternalOrderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCompleted)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now().UTC()
}
