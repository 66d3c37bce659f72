package db

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
)

// ErrConnectionExhausted is returned once every connection attempt has failed.
var ErrConnectionExhausted = errors.New("connection attempts exhausted")

// RetryPolicy controls how Connect retries a failing Dialer.
type RetryPolicy struct {
	Attempts  uint
	BaseDelay time.Duration
}

// DefaultRetryPolicy makes 3 attempts, waiting 2s and then 4s.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: 2 * time.Second}

// Backoff is the wait before retry n (1-based): base^n seconds, with base taken in
// seconds. There is no cap.
func Backoff(base time.Duration, n uint) time.Duration {
	return time.Duration(math.Pow(base.Seconds(), float64(n)) * float64(time.Second))
}

// Connect dials until it succeeds or the policy's attempts are used up. A cancelled
// context ends the wait early and is returned as is.
func Connect(ctx context.Context, dialer Dialer, policy RetryPolicy, logger zerolog.Logger) (Conn, error) {
	attempts := policy.Attempts
	if attempts == 0 {
		attempts = 1
	}

	var conn Conn
	err := retry.Do(
		func() error {
			c, err := dialer.Dial(ctx)
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return Backoff(policy.BaseDelay, n+1)
		}),
		retry.OnRetry(func(n uint, err error) {
			if n+1 >= attempts {
				logger.Error().Err(err).Uint("attempt", n+1).Msg("connection failed, giving up")
				return
			}
			logger.Warn().
				Err(err).
				Dur("backoff", Backoff(policy.BaseDelay, n+1)).
				Msgf("connection failed, retrying (%d/%d)", n+1, attempts)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrConnectionExhausted, attempts, err)
	}
	return conn, nil
}
