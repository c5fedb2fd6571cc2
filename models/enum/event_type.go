package enum

// EventType 表示購物車生命週期事件的類型
type EventType string

const (
	EventTypeCartItemAdded   EventType = "cart.item_added"
	EventTypeCartItemRemoved EventType = "cart.item_removed"
	EventTypeCartAbandoned   EventType = "cart.abandoned"
	EventTypeCartRemoved     EventType = "cart.removed"
)
