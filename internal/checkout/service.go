package checkout

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/beatsgarage/beatstore/internal/clock"
	kafkax "github.com/beatsgarage/beatstore/internal/kafka"
	"github.com/beatsgarage/beatstore/internal/orders"
)

type Repo interface {
	CreateIntent(ctx context.Context, in orders.CreateIntentInput) (orders.Intent, error)
	ListCheckout(ctx context.Context, buyerID, checkoutRef string) ([]orders.Order, error)
	PendingCheckoutTotal(ctx context.Context, buyerID, checkoutRef string) (totalCents int, currency string, count int, err error)
	BindExternalOrder(ctx context.Context, buyerID, checkoutRef, externalOrderID string) (int, error)
}

type Provider interface {
	CreateOrder(ctx context.Context, amountCents int, currency, reference string) (string, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Service records order intents and opens provider-side orders. The local
// pending record always exists before the provider is ever contacted, so the
// duplicate-purchase guard can fire and abandoned attempts leave an audit
// trail.
type Service struct {
	Repo        Repo
	Provider    Provider
	Producer    Publisher
	Clock       clock.Clock
	ServiceName string
}

type CreateIntentInput struct {
	CheckoutRef string
	BuyerID     string
	BuyerEmail  string
	BeatIDs     []string
}

func (s *Service) CreateIntent(ctx context.Context, in CreateIntentInput) (orders.Intent, error) {
	if in.BuyerID == "" {
		return orders.Intent{}, orders.ErrBuyerRequired
	}
	if in.CheckoutRef == "" {
		return orders.Intent{}, orders.ErrRefRequired
	}
	beatIDs := dedupe(in.BeatIDs)
	if len(beatIDs) == 0 {
		return orders.Intent{}, orders.ErrEmptyCart
	}

	intent, err := s.Repo.CreateIntent(ctx, orders.CreateIntentInput{
		CheckoutRef: in.CheckoutRef,
		BuyerID:     in.BuyerID,
		BuyerEmail:  in.BuyerEmail,
		BeatIDs:     beatIDs,
	})
	if errors.Is(err, orders.ErrOrderInProgress) {
		// re-check for a concurrent create of the same checkout: the unique
		// index fired after the replay lookup ran, so the winner's rows may
		// exist now and this call is an idempotent replay of them
		rows, lerr := s.Repo.ListCheckout(ctx, in.BuyerID, in.CheckoutRef)
		if lerr == nil && len(rows) > 0 {
			return orders.IntentFromRows(rows, true), nil
		}
	}
	if err != nil {
		return orders.Intent{}, err
	}

	if !intent.Existed {
		s.publishCreated(in, intent)
	}
	return intent, nil
}

type ProviderOrderResult struct {
	ExternalOrderID string
	TotalCents      int
	Currency        string
}

// CreateProviderOrder opens the provider order for a recorded checkout. The
// charged amount is the sum of the buyer's pending rows; the client never
// supplies it.
func (s *Service) CreateProviderOrder(ctx context.Context, buyerID, checkoutRef string) (ProviderOrderResult, error) {
	if buyerID == "" {
		return ProviderOrderResult{}, orders.ErrBuyerRequired
	}
	total, currency, count, err := s.Repo.PendingCheckoutTotal(ctx, buyerID, checkoutRef)
	if err != nil {
		return ProviderOrderResult{}, err
	}
	if count == 0 {
		return ProviderOrderResult{}, orders.ErrOrderNotFound
	}

	externalOrderID, err := s.Provider.CreateOrder(ctx, total, currency, checkoutRef)
	if err != nil {
		return ProviderOrderResult{}, err
	}

	bound, err := s.Repo.BindExternalOrder(ctx, buyerID, checkoutRef, externalOrderID)
	if err != nil {
		return ProviderOrderResult{}, err
	}
	if bound != count {
		log.Printf("checkout %s: bound %d of %d pending rows to provider order %s", checkoutRef, bound, count, externalOrderID)
	}
	return ProviderOrderResult{ExternalOrderID: externalOrderID, TotalCents: total, Currency: currency}, nil
}

func (s *Service) publishCreated(in CreateIntentInput, intent orders.Intent) {
	if s.Producer == nil {
		return
	}
	ids := make([]string, 0, len(intent.Orders))
	beats := make([]string, 0, len(intent.Orders))
	for _, o := range intent.Orders {
		ids = append(ids, o.ID)
		beats = append(beats, o.BeatID)
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderCreated,
		EventVersion:  1,
		OccurredAt:    s.now(),
		Producer:      s.ServiceName,
		CorrelationID: in.CheckoutRef,
		Payload: kafkax.MustMarshal(orders.OrderCreatedPayload{
			CheckoutRef: in.CheckoutRef,
			BuyerID:     in.BuyerID,
			OrderIDs:    ids,
			BeatIDs:     beats,
			TotalCents:  intent.TotalCents,
			Currency:    intent.Currency,
		}),
	}
	s.Producer.Publish(orders.PartitionKey(in.CheckoutRef), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCreated)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now().UTC()
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
