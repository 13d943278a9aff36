package llm

import (
	"context"
	"time"

	"github.com/calque-ai/eventscout/pkg/ctrl"
	"github.com/calque-ai/eventscout/pkg/tools"
)

// Resilient decorates a Client with a per-turn timeout and the transient-error retry policy.
type Resilient struct {
	Client
	retry   ctrl.RetryPolicy
	timeout time.Duration
}

// NewResilient wraps c. A zero timeout leaves deadlines to the caller's context.
func NewResilient(c Client, retry ctrl.RetryPolicy, timeout time.Duration) *Resilient {
	return &Resilient{Client: c, retry: retry, timeout: timeout}
}

// Chat calls the wrapped client, retrying transient failures.
func (r *Resilient) Chat(ctx context.Context, messages []Message, toolList []tools.Tool) (*Response, error) {
	return ctrl.RetryValue(ctx, r.retry, "llm chat", func(ctx context.Context) (*Response, error) {
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		return r.Client.Chat(ctx, messages, toolList)
	})
}
