package ledger

import "errors"

// Kind classifies why a purchase or checkout was refused.
type Kind int

const (
	Internal Kind = iota
	NotFound
	Unavailable
	InsufficientStock
	InsufficientBalance
	EmptyCart
	Transient
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Unavailable:
		return "unavailable"
	case InsufficientStock:
		return "insufficient_stock"
	case InsufficientBalance:
		return "insufficient_balance"
	case EmptyCart:
		return "empty_cart"
	case Transient:
		return "transient"
	default:
		return "internal"
	}
}

// Reason texts shown to the client.
const (
	ErrMsgProductNotFound       = "Product not found"
	ErrMsgProductNotAvailable   = "Product not available"
	ErrMsgInsufficientStock     = "Insufficient stock. Only %d available."
	ErrMsgBuyerNotFound         = "Buyer not found"
	ErrMsgInsufficientBalance   = "Insufficient balance"
	ErrMsgEmptyCart             = "No items in cart"
	ErrMsgLineNotFound          = "Product %d not found"
	ErrMsgLineNotAvailable      = "Product %q is no longer available"
	ErrMsgLineInsufficientStock = "Insufficient stock for %q. Only %d available."
	ErrMsgCartInsufficientFunds = "Insufficient balance for total purchase"
	ErrMsgAccountNotFound       = "Account not found"
	ErrMsgBusy                  = "Resource busy, please retry"
)

// Error is a refusal the caller can act on. Nothing was written when one is
// returned.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the bare sentinels below by kind, so
// errors.Is(err, ledger.ErrInsufficientStock) works for any reason text.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Reason != "" {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound            = &Error{Kind: NotFound}
	ErrUnavailable         = &Error{Kind: Unavailable}
	ErrInsufficientStock   = &Error{Kind: InsufficientStock}
	ErrInsufficientBalance = &Error{Kind: InsufficientBalance}
	ErrEmptyCart           = &Error{Kind: EmptyCart}
	ErrTransient           = &Error{Kind: Transient}
)

// KindOf reports the Kind of err, or Internal when err is not a ledger refusal.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return Internal
}

func refuse(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}
