package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Domain error taxonomy. Callers branch with errors.Is / errors.As; the web
// adapter maps these onto HTTP status codes. Nothing in this package retries.
var (
	// ErrNotFound wraps every missing warehouse/product/location/reservation/
	// transfer lookup.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateCode is returned when a warehouse code already exists.
	ErrDuplicateCode = errors.New("code already exists")

	// ErrSameWarehouse rejects transfers whose source and destination match.
	ErrSameWarehouse = errors.New("source and destination warehouse are the same")

	// ErrProductMismatch rejects movements whose product does not belong to
	// the target location.
	ErrProductMismatch = errors.New("product does not match inventory location")
)

// InsufficientStockError reports that available stock could not cover a
// requested quantity at reserve, transfer, movement, or allocation time.
type InsufficientStockError struct {
	ProductID int
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	if e.ProductID != 0 {
		return fmt.Sprintf("insufficient stock for product %d: available %s, requested %s",
			e.ProductID, e.Available.String(), e.Requested.String())
	}
	return fmt.Sprintf("insufficient stock: available %s, requested %s",
		e.Available.String(), e.Requested.String())
}

// Shortfall returns how much the request exceeded availability.
func (e *InsufficientStockError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// InvalidStateError reports an operation attempted on a reservation or
// transfer that is not in the required state. A second confirm on an
// already-CONFIRMED reservation surfaces as this error, never as a silent
// repeat.
type InvalidStateError struct {
	Entity  string // "reservation" or "transfer"
	ID      int
	Status  string
	Allowed string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %d is %s, expected %s", e.Entity, e.ID, e.Status, e.Allowed)
}
