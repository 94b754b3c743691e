package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerClient stops calling a failing provider for a cool-down period.
// While open, Embed fails fast with gobreaker.ErrOpenState.
type BreakerClient struct {
	next Embedder
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerClient(next Embedder, name string, failures uint32, cooldown time.Duration) *BreakerClient {
	if failures == 0 {
		failures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &BreakerClient{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: isProviderSuccess,
		}),
	}
}

// isProviderSuccess does not hold the caller's cancellation against the provider.
func isProviderSuccess(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (b *BreakerClient) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return res.([]float32), nil
}
