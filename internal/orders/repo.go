package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the single Postgres gateway for orders, beats and grants. Service
// packages consume it through their own narrow interfaces.
type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, checkout_ref, COALESCE(external_order_id,''), COALESCE(external_capture_id,''),
buyer_id, buyer_email, beat_id, amount_cents, currency, status, delivery_email_sent,
COALESCE(fail_reason,''), created_at, approved_at, completed_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var status string
	err := row.Scan(&o.ID, &o.CheckoutRef, &o.ExternalOrderID, &o.ExternalCaptureID,
		&o.BuyerID, &o.BuyerEmail, &o.BeatID, &o.AmountCents, &o.Currency, &status,
		&o.DeliveryEmailSent, &o.FailReason, &o.CreatedAt, &o.ApprovedAt, &o.CompletedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	return o, nil
}

func (r *Repo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.DB, fn)
}

func (r *Repo) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.DB.Exec(ctx, sql, args...)
}

func (r *Repo) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return r.DB.Query(ctx, sql, args...)
}

func (r *Repo) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.DB.QueryRow(ctx, sql, args...)
}

type CreateIntentInput struct {
	CheckoutRef string
	BuyerID     string
	BuyerEmail  string
	BeatIDs     []string
}

// CreateIntent records one pending row per beat, priced from the catalog.
// Idempotent on (buyer, checkout_ref): a replay returns the existing rows.
// Client-held prices are never consulted.
func (r *Repo) CreateIntent(ctx context.Context, in CreateIntentInput) (Intent, error) {
	existing, err := r.ListCheckout(ctx, in.BuyerID, in.CheckoutRef)
	if err != nil {
		return Intent{}, err
	}
	if len(existing) > 0 {
		return IntentFromRows(existing, true), nil
	}

	var out Intent
	err = r.WithTx(ctx, func(txCtx context.Context) error {
		rows, err := r.query(txCtx, `
SELECT id, price_cents, currency, is_available FROM beats WHERE id = ANY($1)`, in.BeatIDs)
		if err != nil {
			return fmt.Errorf("load beats: %w", err)
		}
		type priced struct {
			cents     int
			currency  string
			available bool
		}
		byID := map[string]priced{}
		for rows.Next() {
			var id string
			var p priced
			if err := rows.Scan(&id, &p.cents, &p.currency, &p.available); err != nil {
				rows.Close()
				return err
			}
			byID[id] = p
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, beatID := range in.BeatIDs {
			p, ok := byID[beatID]
			if !ok {
				return fmt.Errorf("%w: %s", ErrBeatNotFound, beatID)
			}
			if !p.available {
				return fmt.Errorf("%w: %s", ErrBeatUnavailable, beatID)
			}
		}

		granted, err := r.grantedBeats(txCtx, in.BuyerID, in.BeatIDs)
		if err != nil {
			return err
		}
		if len(granted) > 0 {
			return fmt.Errorf("%w: %s", ErrAlreadyPurchased, granted[0])
		}

		now := time.Now().UTC()
		for _, beatID := range in.BeatIDs {
			p := byID[beatID]
			o := Order{
				ID:          uuid.NewString(),
				CheckoutRef: in.CheckoutRef,
				BuyerID:     in.BuyerID,
				BuyerEmail:  in.BuyerEmail,
				BeatID:      beatID,
				AmountCents: p.cents,
				Currency:    p.currency,
				Status:      StatusPending,
				CreatedAt:   now,
			}
			_, err := r.exec(txCtx, `
INSERT INTO orders (id, checkout_ref, buyer_id, buyer_email, beat_id, amount_cents, currency, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				o.ID, o.CheckoutRef, o.BuyerID, o.BuyerEmail, o.BeatID, o.AmountCents, o.Currency, string(o.Status), o.CreatedAt)
			if err != nil {
				// The partial unique index on active (buyer, beat) fires here
				// when a prior attempt for the same beat is still in flight.
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %s", ErrOrderInProgress, beatID)
				}
				return fmt.Errorf("insert order: %w", err)
			}
			out.Orders = append(out.Orders, o)
			out.TotalCents += o.AmountCents
			out.Currency = o.Currency
		}
		return nil
	})
	if err != nil {
		return Intent{}, err
	}
	return out, nil
}

// ListCheckout returns the buyer's rows for a checkout ref, any status.
func (r *Repo) ListCheckout(ctx context.Context, buyerID, checkoutRef string) ([]Order, error) {
	rows, err := r.query(ctx, `SELECT `+orderColumns+` FROM orders
WHERE buyer_id = $1 AND checkout_ref = $2 ORDER BY created_at, id`, buyerID, checkoutRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (r *Repo) grantedBeats(ctx context.Context, buyerID string, beatIDs []string) ([]string, error) {
	rows, err := r.query(ctx, `SELECT beat_id FROM purchase_grants
WHERE buyer_id = $1 AND beat_id = ANY($2)`, buyerID, beatIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// IntentFromRows rebuilds an intent from stored rows, for replay responses.
func IntentFromRows(rows []Order, existed bool) Intent {
	in := Intent{Orders: rows, Existed: existed}
	for _, o := range rows {
		in.TotalCents += o.AmountCents
		in.Currency = o.Currency
	}
	return in
}

// PendingCheckoutTotal sums the buyer's pending rows for a checkout ref. The
// result is the only amount ever sent to the payment provider.
func (r *Repo) PendingCheckoutTotal(ctx context.Context, buyerID, checkoutRef string) (totalCents int, currency string, count int, err error) {
	err = r.queryRow(ctx, `
SELECT COALESCE(SUM(amount_cents), 0), COALESCE(MIN(currency), ''), COUNT(*)
FROM orders
WHERE buyer_id = $1 AND checkout_ref = $2 AND status = 'pending'`, buyerID, checkoutRef).
		Scan(&totalCents, &currency, &count)
	return totalCents, currency, count, err
}

// BindExternalOrder attaches the provider order id to the buyer's pending rows
// for a checkout ref. Rebinding to the same id is a no-op.
func (r *Repo) BindExternalOrder(ctx context.Context, buyerID, checkoutRef, externalOrderID string) (int, error) {
	tag, err := r.exec(ctx, `
UPDATE orders SET external_order_id = $3
WHERE buyer_id = $1 AND checkout_ref = $2 AND status = 'pending'
  AND (external_order_id IS NULL OR external_order_id = $3)`,
		buyerID, checkoutRef, externalOrderID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListByExternalOrderID returns every row bound to a provider order id. A
// multi-beat cart shares one provider order across rows.
func (r *Repo) ListByExternalOrderID(ctx context.Context, externalOrderID string) ([]Order, error) {
	rows, err := r.query(ctx, `SELECT `+orderColumns+` FROM orders
WHERE external_order_id = $1 ORDER BY created_at, id`, externalOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListForBuyerByExternalOrderID is the buyer-scoped variant used by the
// status query.
func (r *Repo) ListForBuyerByExternalOrderID(ctx context.Context, buyerID, externalOrderID string) ([]Order, error) {
	rows, err := r.query(ctx, `SELECT `+orderColumns+` FROM orders
WHERE buyer_id = $1 AND external_order_id = $2 ORDER BY created_at, id`, buyerID, externalOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ApproveByExternalOrderID moves every still-pending row to approved.
// Compare-and-set on status: rows already approved or terminal are untouched.
func (r *Repo) ApproveByExternalOrderID(ctx context.Context, externalOrderID string, at time.Time) (int, error) {
	tag, err := r.exec(ctx, `
UPDATE orders SET status = 'approved', approved_at = $2
WHERE external_order_id = $1 AND status = 'pending'`, externalOrderID, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// CompleteOrder is the compare-and-set completion write. Returns false when
// the row was already terminal (the caller lost the webhook/callable race).
func (r *Repo) CompleteOrder(ctx context.Context, orderID, captureID string, at time.Time) (bool, error) {
	tag, err := r.exec(ctx, `
UPDATE orders SET status = 'completed', external_capture_id = $2, completed_at = $3
WHERE id = $1 AND status IN ('pending', 'approved')`, orderID, captureID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FailOrder moves an active row to the failed absorbing state.
func (r *Repo) FailOrder(ctx context.Context, orderID, reason string) (bool, error) {
	tag, err := r.exec(ctx, `
UPDATE orders SET status = 'failed', fail_reason = $2
WHERE id = $1 AND status IN ('pending', 'approved')`, orderID, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CreateGrant is idempotent on (buyer, beat): a duplicate insert is a no-op,
// not an error.
func (r *Repo) CreateGrant(ctx context.Context, g Grant) error {
	_, err := r.exec(ctx, `
INSERT INTO purchase_grants (buyer_id, beat_id, order_id, amount_cents, currency, purchased_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (buyer_id, beat_id) DO NOTHING`,
		g.BuyerID, g.BeatID, g.OrderID, g.AmountCents, g.Currency, g.PurchasedAt)
	if err != nil {
		return fmt.Errorf("create grant: %w", err)
	}
	return nil
}

// MarkBeatUnavailable takes a one-of-a-kind beat off the shelf after its
// first sale.
func (r *Repo) MarkBeatUnavailable(ctx context.Context, beatID string) error {
	_, err := r.exec(ctx, `
UPDATE beats SET is_available = FALSE, updated_at = NOW() WHERE id = $1`, beatID)
	return err
}

func (r *Repo) GetBeat(ctx context.Context, beatID string) (Beat, error) {
	var b Beat
	err := r.queryRow(ctx, `
SELECT id, title, artist, genre, bpm, mood, price_cents, currency, download_url, is_available, created_at, updated_at
FROM beats WHERE id = $1`, beatID).
		Scan(&b.ID, &b.Title, &b.Artist, &b.Genre, &b.BPM, &b.Mood, &b.PriceCents,
			&b.Currency, &b.DownloadURL, &b.IsAvailable, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Beat{}, ErrBeatNotFound
	}
	if err != nil {
		return Beat{}, err
	}
	return b, nil
}

func (r *Repo) ListBeats(ctx context.Context) ([]Beat, error) {
	rows, err := r.query(ctx, `
SELECT id, title, artist, genre, bpm, mood, price_cents, currency, download_url, is_available, created_at, updated_at
FROM beats ORDER BY title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Beat
	for rows.Next() {
		var b Beat
		if err := rows.Scan(&b.ID, &b.Title, &b.Artist, &b.Genre, &b.BPM, &b.Mood,
			&b.PriceCents, &b.Currency, &b.DownloadURL, &b.IsAvailable, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (Order, error) {
	o, err := scanOrder(r.queryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

// ClaimDeliveryEmail flips delivery_email_sent false -> true. Exactly one
// caller wins; everyone else gets false.
func (r *Repo) ClaimDeliveryEmail(ctx context.Context, orderID string) (bool, error) {
	tag, err := r.exec(ctx, `
UPDATE orders SET delivery_email_sent = TRUE
WHERE id = $1 AND delivery_email_sent = FALSE`, orderID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ResetDeliveryEmail reopens the claim after a failed send so the manual
// resend path can retry.
func (r *Repo) ResetDeliveryEmail(ctx context.Context, orderID string) error {
	_, err := r.exec(ctx, `UPDATE orders SET delivery_email_sent = FALSE WHERE id = $1`, orderID)
	return err
}

// MarkDeliveryEmailSent sets the flag unconditionally (manual resend).
func (r *Repo) MarkDeliveryEmailSent(ctx context.Context, orderID string) error {
	_, err := r.exec(ctx, `UPDATE orders SET delivery_email_sent = TRUE WHERE id = $1`, orderID)
	return err
}
