package moonshot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/vnmchuo/blog-generator/internal/provider"
)

// exponentialBackOff yields base*2^n for the n-th retry, plus jitter when the
// previous attempt was rate limited.
type exponentialBackOff struct {
	base        time.Duration
	retries     int
	rateLimited bool
	jitter      func() time.Duration
}

func (b *exponentialBackOff) NextBackOff() time.Duration {
	d := b.base * time.Duration(1<<b.retries)
	b.retries++
	if b.rateLimited && b.jitter != nil {
		d += b.jitter()
	}
	return d
}

func (b *exponentialBackOff) Reset() {
	b.retries = 0
	b.rateLimited = false
}

// retry runs op until it succeeds, fails fatally, or opts.Retries is exhausted.
// It returns the number of attempts made along with the last error.
func (p *Provider) retry(ctx context.Context, opts provider.Options, op func(ctx context.Context) error) (int, error) {
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	bo := &exponentialBackOff{base: opts.RetryDelay, jitter: p.jitter}
	attempts := 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if opts.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		}
		defer cancel()

		err := op(attemptCtx)
		if err == nil {
			return struct{}{}, nil
		}

		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			bo.rateLimited = false
			return struct{}{}, fmt.Errorf("attempt timed out after %s: %w", opts.Timeout, err)
		}

		err = normalize(err)
		bo.rateLimited = isRateLimited(err)
		if isFatal(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(opts.Retries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Int("attempt", attempts).Dur("retry_in", next).Msg("completion attempt failed, retrying")
		}),
	)

	// the final attempt returns its error as is, which may still carry the permanent marker
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return attempts, err
}

// isFatal reports errors that no amount of retrying will fix.
func isFatal(err error) bool {
	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	case http.StatusTooManyRequests:
		return isQuotaExhausted(apiErr)
	}
	return false
}

func isRateLimited(err error) bool {
	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests && !isQuotaExhausted(apiErr)
}

func isQuotaExhausted(apiErr *provider.APIError) bool {
	return strings.Contains(strings.ToLower(apiErr.Code), "quota") ||
		strings.Contains(strings.ToLower(apiErr.Message), "quota")
}
