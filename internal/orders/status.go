package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Transitions: pending -> approved | completed | failed, approved ->
// completed | failed. pending -> completed is legal because a capture
// confirmation may arrive before the approval webhook and collapses both
// steps. The status IN (...) guards in the repo's UPDATE statements are the
// enforcement.

// Active reports whether the order still occupies its (buyer, beat) slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusApproved
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
