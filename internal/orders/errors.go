package orders

import "errors"

var (
	ErrEmptyCart        = errors.New("cart is empty")
	ErrBuyerRequired    = errors.New("buyer identity required")
	ErrRefRequired      = errors.New("checkout reference required")
	ErrBeatNotFound     = errors.New("beat not found")
	ErrBeatUnavailable  = errors.New("beat no longer available")
	ErrAlreadyPurchased = errors.New("beat already purchased")
	ErrOrderInProgress  = errors.New("order already in progress for this beat")
	ErrOrderNotFound    = errors.New("order not found")
	ErrNotCompleted     = errors.New("order is not completed")
)
