package exchange

import (
	"errors"
	"fmt"
)

// ErrOrderNotFound means the exchange no longer knows the order: it was
// canceled or expired outside the engine. Callers drop it from pending
// tracking without counting it as filled.
var ErrOrderNotFound = errors.New("order not found")

// RejectionError is an active refusal from the exchange (bad symbol,
// invalid quantity, filter violation). Not retryable.
type RejectionError struct {
	Code int
	Msg  string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("exchange rejected request: %s (code=%d)", e.Msg, e.Code)
}

// TransientError is a timeout or connectivity failure. Retryable on the
// periodic loops; fatal for one-shot base/take-profit orders.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient exchange error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func IsRejection(err error) bool {
	var rejection *RejectionError
	return errors.As(err, &rejection)
}

func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}
