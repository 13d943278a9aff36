package embedding

import (
	"context"
	"time"

	"github.com/calque-ai/eventscout/pkg/ctrl"
)

// Resilient decorates a Client with a per-call timeout and the transient-error retry
// policy.
type Resilient struct {
	Client
	retry   ctrl.RetryPolicy
	timeout time.Duration
}

// NewResilient wraps c. A zero timeout leaves deadlines to the caller's context.
func NewResilient(c Client, retry ctrl.RetryPolicy, timeout time.Duration) *Resilient {
	return &Resilient{Client: c, retry: retry, timeout: timeout}
}

// Embed calls the wrapped client, retrying transient failures.
func (r *Resilient) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	return ctrl.RetryValue(ctx, r.retry, "embed "+string(mode), func(ctx context.Context) ([][]float32, error) {
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		return r.Client.Embed(ctx, texts, mode)
	})
}
