package provider

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// ErrCircuitOpen is returned without contacting the upstream while the breaker is open.
var ErrCircuitOpen = gobreaker.ErrOpenState

// BreakerClient guards a Client with a circuit breaker so a failing upstream is
// not hammered by every incoming request.
type BreakerClient struct {
	Client
	cb *gobreaker.CircuitBreaker
}

func NewBreakerClient(c Client) *BreakerClient {
	settings := gobreaker.Settings{
		Name:        c.Name(),
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerThreshold
		},
		IsSuccessful: func(err error) bool {
			// a caller hanging up says nothing about upstream health
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	return &BreakerClient{
		Client: c,
		cb:     gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerClient) Complete(ctx context.Context, req *Request, opts Options) (*Response, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.Client.Complete(ctx, req, opts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &CompletionError{Attempts: 0, Err: err}
	}
	if err != nil {
		return nil, err
	}
	return result.(*Response), nil
}

func (b *BreakerClient) CompleteStream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	if b.cb.State() == gobreaker.StateOpen {
		return nil, &StreamingError{Err: ErrCircuitOpen}
	}

	origCh, err := b.Client.CompleteStream(ctx, req)
	if err != nil {
		b.record(err)
		return nil, err
	}

	wrappedCh := make(chan *Chunk)
	go func() {
		defer close(wrappedCh)
		for chunk := range origCh {
			if chunk.Err != nil {
				b.record(chunk.Err)
			} else if chunk.Done {
				b.record(nil)
			}
			select {
			case wrappedCh <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return wrappedCh, nil
}

// record feeds an outcome observed outside Execute into the breaker counts.
func (b *BreakerClient) record(err error) {
	_, _ = b.cb.Execute(func() (interface{}, error) {
		return nil, err
	})
}
