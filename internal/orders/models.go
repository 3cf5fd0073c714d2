package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID                string          `json:"id"`
	FarmerID          string          `json:"farmer_id"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	Discount          decimal.Decimal `json:"discount"` // percent, 0..100
	AvailableQuantity int             `json:"available_quantity"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// LineItem is immutable once the order is committed.
type LineItem struct {
	ProductID string          `json:"product_id"`
	FarmerID  string          `json:"farmer_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
}

type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "cod"
	PaymentOnline PaymentMethod = "online"
)

// Payment is stored verbatim; signatures are verified upstream.
type Payment struct {
	Method         PaymentMethod   `json:"method"`
	TransactionRef string          `json:"transaction_ref,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
}

type Order struct {
	ID          string          `json:"id"`
	ConsumerID  string          `json:"consumer_id"`
	OrderedAt   time.Time       `json:"ordered_at"`
	Items       []LineItem      `json:"items"`
	Address     Address         `json:"address"`
	Payment     Payment         `json:"payment"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      Status          `json:"status"`
}
