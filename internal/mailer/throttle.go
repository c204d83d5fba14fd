package mailer

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// Throttled limits the send rate of the wrapped sender
type Throttled struct {
	next    Sender
	limiter *rate.Limiter
}

// NewThrottled wraps next with a limit of perSecond messages. A non-positive
// rate disables throttling.
func NewThrottled(next Sender, perSecond float64) *Throttled {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(math.Max(1, math.Floor(perSecond)))
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Send waits for a token and delegates
func (t *Throttled) Send(ctx context.Context, msg Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.next.Send(ctx, msg)
}
