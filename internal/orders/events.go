package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type PlacedItem struct {
	ProductID string          `json:"product_id"`
	FarmerID  string          `json:"farmer_id"`
	Qty       int             `json:"qty"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type OrderPlacedPayload struct {
	OrderID     string          `json:"order_id"`
	ConsumerID  string          `json:"consumer_id"`
	Items       []PlacedItem    `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Payment     PaymentMethod   `json:"payment_method"`
}

type OrderStatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
}

func NewOrderPlacedPayload(o Order) OrderPlacedPayload {
	items := make([]PlacedItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, PlacedItem{
			ProductID: it.ProductID,
			FarmerID:  it.FarmerID,
			Qty:       it.Quantity,
			LineTotal: it.LineTotal,
		})
	}
	return OrderPlacedPayload{
		OrderID:     o.ID,
		ConsumerID:  o.ConsumerID,
		Items:       items,
		TotalAmount: o.TotalAmount,
		Payment:     o.Payment.Method,
	}
}
