package resilience

import (
	"context"
	"time"
)

// CallTimeout derives a per-call context whose timeout never exceeds the
// remaining budget of the parent request. An already-expired parent yields a
// context that fails immediately, which keeps deadline errors at the call site.
func CallTimeout(ctx context.Context, perCall time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < perCall {
			return context.WithTimeout(ctx, remaining)
		}
	}
	return context.WithTimeout(ctx, perCall)
}
