package email

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited waits on a shared limiter before each send, so concurrent
// firings together stay under the mail API's request rate.
type RateLimited struct {
	Mailer  Mailer
	Limiter *rate.Limiter
}

func NewRateLimited(m Mailer, perSecond int) *RateLimited {
	return &RateLimited{
		Mailer:  m,
		Limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}
}

func (r *RateLimited) Send(ctx context.Context, msg Message) error {
	if err := r.Limiter.Wait(ctx); err != nil {
		return err
	}
	return r.Mailer.Send(ctx, msg)
}
