/*
errors.go - Centralized error types for the stock ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Engine packages wrap these with context; the API maps them to HTTP
  status codes through the helpers at the bottom of this file.

ERROR CATEGORIES:
  1. Not found - missing product / order / purchase order
  2. Client errors - invalid quantities, windows, transitions
  3. Guards - delete of an approved purchase order, purge of a live order
  4. Store errors - concurrent modification, failed persistence
*/
package stock

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrProductNotFound       = errors.New("product not found")
	ErrOrderNotFound         = errors.New("order not found")
	ErrPurchaseOrderNotFound = errors.New("purchase order not found")
	ErrLineNotFound          = errors.New("line not found")

	// ErrProductExists is returned when creating a product whose ID is taken.
	ErrProductExists       = errors.New("product already exists")
	ErrOrderExists         = errors.New("order already exists")
	ErrPurchaseOrderExists = errors.New("purchase order already exists")

	ErrMissingID          = errors.New("id is required")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrInvalidUnitKind    = errors.New("unit kind must be \"unit\" or \"box\"")
	ErrInvalidPricingType = errors.New("pricing type must be \"unit\" or \"box\"")
	ErrInvalidStatus      = errors.New("quality status must be pending, approved or rejected")
	ErrInvalidWindow      = errors.New("invalid window: end before start")

	// ErrOrderAlreadyDeleted is returned when reversing or editing a soft-deleted order.
	ErrOrderAlreadyDeleted = errors.New("order already deleted")

	// ErrOrderNotDeleted is returned when purging an order that was never soft-deleted.
	ErrOrderNotDeleted = errors.New("order must be soft-deleted before it can be purged")

	// ErrApprovedPurchaseOrder is returned when deleting a purchase order that
	// still has approved lines. Approved stock must be rejected first.
	ErrApprovedPurchaseOrder = errors.New("purchase order has approved lines")

	// ErrImmutableLineProduct is returned when an approved line is moved to another product.
	ErrImmutableLineProduct = errors.New("product of an approved purchase line cannot change")

	// ErrDuplicateLine is returned when a document carries the same line ID twice.
	ErrDuplicateLine = errors.New("duplicate line id")

	// ErrConcurrentModification is returned when a save loses a version race.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrLockNotObtained is returned when the per-product lock cannot be acquired.
	ErrLockNotObtained = errors.New("could not obtain product lock")

	// ErrReplayInProgress is returned when a full rebuild is already running.
	ErrReplayInProgress = errors.New("replay already in progress")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ApprovedPurchaseOrderError lists the approved lines blocking a delete.
type ApprovedPurchaseOrderError struct {
	PurchaseOrderID PurchaseOrderID
	Lines           []LineID
}

func (e *ApprovedPurchaseOrderError) Error() string {
	ids := make([]string, len(e.Lines))
	for i, id := range e.Lines {
		ids[i] = string(id)
	}
	return fmt.Sprintf("purchase order %s has approved lines [%s]; reject them before deleting",
		e.PurchaseOrderID, strings.Join(ids, ", "))
}

func (e *ApprovedPurchaseOrderError) Unwrap() error { return ErrApprovedPurchaseOrder }

// LineError attaches a line to a validation failure.
type LineError struct {
	Index int
	Line  LineID
	Err   error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d (%s): %v", e.Index, e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrPurchaseOrderNotFound) ||
		errors.Is(err, ErrLineNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMissingID) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidUnitKind) ||
		errors.Is(err, ErrInvalidPricingType) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrDuplicateLine) ||
		errors.Is(err, ErrImmutableLineProduct)
}

// IsConflict returns true if the request clashes with the record's current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrApprovedPurchaseOrder) ||
		errors.Is(err, ErrOrderAlreadyDeleted) ||
		errors.Is(err, ErrOrderNotDeleted) ||
		errors.Is(err, ErrProductExists) ||
		errors.Is(err, ErrOrderExists) ||
		errors.Is(err, ErrPurchaseOrderExists) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrLockNotObtained) ||
		errors.Is(err, ErrReplayInProgress)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrLockNotObtained)
}
