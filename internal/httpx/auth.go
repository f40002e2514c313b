package httpx

import (
	"context"
	"net/http"
)

// Identity headers set by the auth layer in front of this service. The
// assertion is already verified upstream; this service trusts it and never
// re-verifies tokens itself.
const (
	HeaderBuyerID    = "X-Buyer-Id"
	HeaderBuyerEmail = "X-Buyer-Email"
)

type Buyer struct {
	ID    string
	Email string
}

type buyerKey struct{}

// BuyerAuth rejects requests without an identity assertion and puts the
// buyer on the context for handlers.
func BuyerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderBuyerID)
		if id == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "buyer identity required")
			return
		}
		b := Buyer{ID: id, Email: r.Header.Get(HeaderBuyerEmail)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), buyerKey{}, b)))
	})
}

func BuyerFrom(ctx context.Context) (Buyer, bool) {
	b, ok := ctx.Value(buyerKey{}).(Buyer)
	return b, ok
}
