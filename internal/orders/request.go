package orders

import "strings"

type ItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type PaymentRequest struct {
	Method         PaymentMethod `json:"method"`
	TransactionRef string        `json:"transaction_ref,omitempty"`
}

type PlaceOrderRequest struct {
	ConsumerID string         `json:"-"` // from the authenticator, never the body
	Items      []ItemRequest  `json:"items"`
	Address    Address        `json:"address"`
	Payment    PaymentRequest `json:"payment"`
}

// Validate runs every check that does not need the store.
func (r PlaceOrderRequest) Validate() error {
	if strings.TrimSpace(r.ConsumerID) == "" {
		return validationf("consumer_id is required")
	}
	if len(r.Items) == 0 {
		return validationf("order must contain at least one item")
	}
	for i, it := range r.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return validationf("items[%d]: product_id is required", i)
		}
		if it.Quantity < 1 {
			return validationf("items[%d]: quantity must be at least 1, got %d", i, it.Quantity)
		}
	}
	if err := r.Address.validate(); err != nil {
		return err
	}
	return r.Payment.validate()
}

func (a Address) validate() error {
	fields := []struct{ name, v string }{
		{"street", a.Street}, {"city", a.City}, {"state", a.State}, {"pincode", a.Pincode},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.v) == "" {
			return validationf("address.%s is required", f.name)
		}
	}
	if len(a.Pincode) != 6 || strings.Trim(a.Pincode, "0123456789") != "" {
		return validationf("address.pincode must be 6 digits")
	}
	return nil
}

func (p PaymentRequest) validate() error {
	switch p.Method {
	case PaymentCOD:
		return nil
	case PaymentOnline:
		if strings.TrimSpace(p.TransactionRef) == "" {
			return validationf("payment.transaction_ref is required for online payment")
		}
		return nil
	case "":
		return validationf("payment.method is required")
	default:
		return validationf("unknown payment.method %q", p.Method)
	}
}
