package domain

import (
	"errors"
	"fmt"
)

// ErrorKind tags every failure the core reports to a boundary.
type ErrorKind int

const (
	// KindInfrastructure is any error that is not a *Error: store faults, timeouts, bugs.
	KindInfrastructure ErrorKind = iota
	KindValidation
	KindNotFound
	KindEmptyCart
	KindNoStockAvailable
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindEmptyCart:
		return "empty_cart"
	case KindNoStockAvailable:
		return "no_stock_available"
	case KindConflict:
		return "conflict"
	default:
		return "infrastructure"
	}
}

// Error is the closed set of expected failures. EmptyCart and NoStockAvailable are business
// outcomes, the others reject the request.
type Error struct {
	Kind    ErrorKind
	Message string
	// Unprocessed lists the product ids left in the cart, set for KindNoStockAvailable.
	Unprocessed []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewConflictError(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func NewEmptyCartError(cartID string) *Error {
	return &Error{Kind: KindEmptyCart, Message: fmt.Sprintf("cart %s has no items", cartID)}
}

func NewNoStockAvailableError(unprocessed []string) *Error {
	return &Error{
		Kind:        KindNoStockAvailable,
		Message:     "no product could be processed due to insufficient stock",
		Unprocessed: unprocessed,
	}
}

// KindOf reports the kind of err, looking through wrapping.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInfrastructure
}

// AsError returns the *Error inside err, if any.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
