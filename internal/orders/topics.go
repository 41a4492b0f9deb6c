package orders

const (
	TopicOrderEnrolled = "trade.order.enrolled"
	TopicOrderPaid     = "trade.order.paid"
)

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
