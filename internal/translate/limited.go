package translate

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limited throttles calls to a cost-limited provider.
type Limited struct {
	next    Translator
	limiter *rate.Limiter
}

// NewLimited allows rps calls per second with the given burst. A non-positive
// rps returns next unchanged.
func NewLimited(next Translator, rps float64, burst int) Translator {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *Limited) Translate(ctx context.Context, req Request) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("translate rate limit: %w", err)
	}
	return l.next.Translate(ctx, req)
}
