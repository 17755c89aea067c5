package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrRegistration means no auth token could be obtained. It is fatal for
	// the participant that attempted it.
	ErrRegistration = errors.New("registration failed")
	// ErrPriceUnavailable means the configured pair has no usable reference price.
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrInvalidOrder means an order failed local validation and was not sent.
	ErrInvalidOrder = errors.New("invalid order")
)

// TransportError reports a failed round trip: either the request never got a
// response or the exchange answered with a non-2xx status.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s: http %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: http %d", e.Op, e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FormatError reports a response whose shape did not match the contract.
// Skipped counts individual list items that were dropped.
type FormatError struct {
	Op      string
	Reason  string
	Skipped int
}

func (e *FormatError) Error() string {
	if e.Skipped > 0 {
		return fmt.Sprintf("%s: unexpected response format: %s (%d skipped)", e.Op, e.Reason, e.Skipped)
	}
	return fmt.Sprintf("%s: unexpected response format: %s", e.Op, e.Reason)
}
