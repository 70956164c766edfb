package link

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// RetransmitPolicy defines how frames rejected with NAK are sent again
type RetransmitPolicy struct {
	MaxRetransmits int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
}

// DefaultRetransmitPolicy retransmits immediately, up to six times.
func DefaultRetransmitPolicy() RetransmitPolicy {
	return RetransmitPolicy{
		MaxRetransmits: 6,
		MaxDelay:       time.Second,
		Multiplier:     2.0,
	}
}

// retransmit calls fn until it succeeds, fails with anything other than
// ErrNotAcknowledged, or the retransmit budget is spent.
func (p RetransmitPolicy) retransmit(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetransmits; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotAcknowledged) {
			return err
		}
		lastErr = err

		if attempt >= p.MaxRetransmits {
			break
		}

		if delay := p.backoff(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("%w (%d retransmits): %w", ErrTooManyRetransmits, p.MaxRetransmits, lastErr)
}

// backoff returns the wait before retransmit number attempt+1
func (p RetransmitPolicy) backoff(attempt int) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}

	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt))

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}
