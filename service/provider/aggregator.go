package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/brojonat/walletcore/service/chain"
	"github.com/brojonat/walletcore/service/metrics"
)

// Client is one backend for one blockchain. Concrete clients expose their
// own read, fee and broadcast methods; the aggregator only needs a name.
type Client interface {
	Name() string
}

// Aggregator composes an ordered list of clients for one blockchain into a
// single logical provider. The selected index is the only mutable state and
// lives for as long as the Aggregator does.
type Aggregator[C Client] struct {
	blockchain chain.Blockchain
	clients    []C
	current    atomic.Int64
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates an aggregator over clients, starting at the first one.
// If m is nil, no metrics are recorded.
func New[C Client](blockchain chain.Blockchain, clients []C, m *metrics.Metrics, logger *slog.Logger) (*Aggregator[C], error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("no providers configured for %s", blockchain)
	}
	return &Aggregator[C]{
		blockchain: blockchain,
		clients:    clients,
		metrics:    m,
		logger:     logger.With("component", "provider", "blockchain", string(blockchain)),
	}, nil
}

func (a *Aggregator[C]) Blockchain() chain.Blockchain { return a.blockchain }

// Len returns the number of configured clients.
func (a *Aggregator[C]) Len() int { return len(a.clients) }

// Clients returns the clients in configuration order.
func (a *Aggregator[C]) Clients() []C {
	out := make([]C, len(a.clients))
	copy(out, a.clients)
	return out
}

// Selected returns the index of the client the next call will start with.
func (a *Aggregator[C]) Selected() int {
	return int(a.current.Load())
}

// Current returns the selected client.
func (a *Aggregator[C]) Current() C {
	return a.clients[a.current.Load()]
}

// advance moves the pointer past from. If another caller already moved it,
// the pointer is left alone so that one failing client is skipped once.
func (a *Aggregator[C]) advance(ctx context.Context, from int64, op string, cause error) {
	next := (from + 1) % int64(len(a.clients))
	if !a.current.CompareAndSwap(from, next) {
		return
	}
	reason := "timeout_or_error"
	if strings.Contains(cause.Error(), "429") {
		reason = "rate_limit"
	}
	a.logger.WarnContext(ctx, "rotating provider",
		"operation", op,
		"from", a.clients[from].Name(),
		"to", a.clients[next].Name(),
		"reason", reason,
		"error", cause,
	)
	if a.metrics != nil {
		a.metrics.RecordProviderRotation(string(a.blockchain), op, reason)
	}
}

func (a *Aggregator[C]) record(c C, op string, err error, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordProviderCall(string(a.blockchain), c.Name(), op, err, time.Since(start).Seconds())
	}
}

// Do runs fn against the selected client and rotates through the rest on
// transient failures, making at most one attempt per configured client.
// Chain-semantic and precondition errors are returned as-is without
// rotating, since another provider would report the same thing.
func Do[C Client, T any](ctx context.Context, a *Aggregator[C], op string, fn func(context.Context, C) (T, error)) (T, error) {
	var zero T
	n := len(a.clients)
	errs := make([]error, 0, n)

	for attempt := 0; attempt < n; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		idx := a.current.Load()
		c := a.clients[idx]

		start := time.Now()
		v, err := fn(ctx, c)
		a.record(c, op, err, start)
		if err == nil {
			return v, nil
		}

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !chain.IsRetryable(err) {
			a.logger.DebugContext(ctx, "provider returned non-retryable error",
				"operation", op,
				"provider", c.Name(),
				"error", err,
			)
			return zero, err
		}

		errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		a.advance(ctx, idx, op, err)
	}

	a.logger.ErrorContext(ctx, "all providers failed", "operation", op, "attempts", n)
	return zero, chain.ErrProvidersExhausted.WithDetails(map[string]string{
		"blockchain": string(a.blockchain),
		"operation":  op,
		"attempts":   strconv.Itoa(n),
	}).Wrap(errors.Join(errs...))
}

// Broadcast submits a signed payload through the selected client. It never
// fans out; a transient failure rotates to the next client like any read.
func Broadcast[C Client](ctx context.Context, a *Aggregator[C], fn func(context.Context, C) (string, error)) (string, error) {
	return Do(ctx, a, "broadcast", fn)
}
