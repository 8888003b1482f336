// Package breaker wraps outbound calls to the payment gateway and identity provider.
package breaker

import (
	"card-key-shop/internal/domain"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	consecutiveFailures = 5
	openTimeout         = 30 * time.Second
)

// New returns a breaker that opens after consecutive upstream failures and
// half-opens again after openTimeout. Only domain.ErrUpstreamUnavailable counts
// as a failure; a well-formed rejection means the peer is healthy.
func New[T any](name string) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return !errors.Is(err, domain.ErrUpstreamUnavailable)
		},
	})
}

// Rejected reports whether err came from the breaker refusing the call.
func Rejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
