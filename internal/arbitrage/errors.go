package arbitrage

import (
	"errors"
	"fmt"
)

var (
	// ErrQuoteUnavailable matches every *QuoteError via errors.Is.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrNoMatchingPair is returned when the feed answered but no entry has the
	// expected base symbol. Distinct from the feed being unreachable.
	ErrNoMatchingPair = errors.New("no matching pair in feed")

	// ErrAmbiguousPair is returned when several entries match and none can be preferred.
	ErrAmbiguousPair = errors.New("ambiguous pair in feed")

	// ErrInvalidPrice is returned when a venue reports a non-positive or unparsable price.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrSwapDeadline is returned when a swap is not confirmed before its deadline.
	ErrSwapDeadline = errors.New("swap deadline exceeded")

	// ErrSwapReverted is returned when the swap transaction was mined with a failed status.
	ErrSwapReverted = errors.New("swap reverted")

	// ErrOrderRejected is returned when the exchange answers with a non-success code.
	ErrOrderRejected = errors.New("order rejected")
)

// QuoteError reports a failed price fetch.
type QuoteError struct {
	Venue Venue
	Op    string
	Err   error
}

func (e *QuoteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Venue, e.Op, e.Err)
}

func (e *QuoteError) Unwrap() error {
	return e.Err
}

// Is makes every QuoteError match ErrQuoteUnavailable.
func (e *QuoteError) Is(target error) bool {
	return target == ErrQuoteUnavailable
}

// AuthError reports a rejected signature, key or timestamp on the exchange.
type AuthError struct {
	Venue  Venue
	Status int
	Code   string
	Msg    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s auth rejected (status %d, code %s): %s", e.Venue, e.Status, e.Code, e.Msg)
}

// ChainError reports a swap that reverted, timed out or could not be submitted.
type ChainError struct {
	Op     string
	TxHash string
	Err    error
}

func (e *ChainError) Error() string {
	if e.TxHash == "" {
		return fmt.Sprintf("chain %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("chain %s (tx %s): %v", e.Op, e.TxHash, e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}
