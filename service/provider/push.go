package provider

import (
	"context"
	"time"

	"github.com/brojonat/walletcore/service/chain"
)

// Pusher is implemented by clients that can replace an unconfirmed
// transaction (RBF, fee bump). It is optional.
type Pusher interface {
	PushTransaction(ctx context.Context, raw []byte, replacing string) (string, error)
}

// SupportsPush reports whether any configured client implements Pusher.
func SupportsPush[C Client](a *Aggregator[C]) bool {
	for _, c := range a.clients {
		if _, ok := any(c).(Pusher); ok {
			return true
		}
	}
	return false
}

// Push routes a replacement to the first push-capable client at or after
// the selected one. Clients without the capability are skipped, not tried.
func Push[C Client](ctx context.Context, a *Aggregator[C], raw []byte, replacing string) (string, error) {
	n := len(a.clients)
	start := int(a.current.Load())
	for i := 0; i < n; i++ {
		c := a.clients[(start+i)%n]
		p, ok := any(c).(Pusher)
		if !ok {
			continue
		}
		t := time.Now()
		hash, err := p.PushTransaction(ctx, raw, replacing)
		a.record(c, "push", err, t)
		if err != nil {
			if chain.IsRetryable(err) && ctx.Err() == nil {
				a.logger.WarnContext(ctx, "push failed, trying next capable provider", "provider", c.Name(), "error", err)
				continue
			}
			return "", err
		}
		return hash, nil
	}
	if !SupportsPush(a) {
		return "", chain.ErrPushUnsupported.WithDetails(map[string]string{"blockchain": string(a.blockchain)})
	}
	return "", chain.ErrProvidersExhausted.WithDetails(map[string]string{"blockchain": string(a.blockchain), "operation": "push"})
}
