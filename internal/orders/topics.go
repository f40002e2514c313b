package orders

const (
	TopicOrderCreated   = "beats.order.created"
	TopicOrderCompleted = "beats.order.completed"
	TopicOrderFailed    = "beats.order.failed"
)

// Partition key = external order id (falls back to order id before binding),
// so every event for one checkout keeps its ordering.
func PartitionKey(id string) []byte { return []byte(id) }
