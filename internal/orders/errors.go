package orders

import (
	"errors"
	"fmt"
)

// Sentinels reported by Store implementations. The Coordinator turns them into *Error.
var (
	ErrProductNotFound = errors.New("product not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrWriteConflict   = errors.New("write conflict")
)

type ErrorKind string

const (
	KindValidation          ErrorKind = "ValidationError"
	KindProductNotFound     ErrorKind = "ProductNotFound"
	KindInsufficientStock   ErrorKind = "InsufficientStock"
	KindTransactionConflict ErrorKind = "TransactionConflict"
	KindPersistence         ErrorKind = "PersistenceError"
	KindOrderNotFound       ErrorKind = "OrderNotFound"
)

type Error struct {
	Kind      ErrorKind
	Msg       string
	ProductID string
	Requested int
	Available int
	Err       error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindProductNotFound:
		return fmt.Sprintf("product %s not found", e.ProductID)
	case KindInsufficientStock:
		return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
			e.ProductID, e.Requested, e.Available)
	}
	if e.Err != nil && e.Msg != "" {
		return e.Msg + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func productNotFound(productID string) *Error {
	return &Error{Kind: KindProductNotFound, ProductID: productID, Err: ErrProductNotFound}
}

func insufficientStock(productID string, requested, available int) *Error {
	return &Error{Kind: KindInsufficientStock, ProductID: productID, Requested: requested, Available: available}
}

func orderNotFound(orderID string) *Error {
	return &Error{Kind: KindOrderNotFound, Msg: "order " + orderID, Err: ErrOrderNotFound}
}

func conflict(err error) *Error {
	return &Error{Kind: KindTransactionConflict, Msg: "concurrent update, retry the order", Err: err}
}

func persistence(msg string, err error) *Error {
	return &Error{Kind: KindPersistence, Msg: msg, Err: err}
}

// KindOf returns the taxonomy kind of err; unknown errors count as persistence failures.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// IsRetryable reports whether the caller may resubmit the same request unchanged.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransactionConflict
}

// transient marks the infrastructure kinds the Coordinator retries on its own.
func transient(err error) bool {
	k := KindOf(err)
	return k == KindTransactionConflict || k == KindPersistence
}
