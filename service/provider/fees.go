package provider

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brojonat/walletcore/service/chain"
)

// Sample is one provider's answer to a fee query, keyed by component
// (a tier name such as "fast", or a field such as "gas_limit").
type Sample map[string]decimal.Decimal

// Gather calls fn on every client concurrently, each under its own timeout.
// Failed branches are logged and dropped; they never cancel their siblings.
// Results keep configuration order.
func Gather[C Client, T any](ctx context.Context, a *Aggregator[C], op string, timeout time.Duration, fn func(context.Context, C) (T, error)) []T {
	type result struct {
		v  T
		ok bool
	}
	results := make([]result, len(a.clients))

	var wg sync.WaitGroup
	for i, c := range a.clients {
		wg.Go(func() {
			branchCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			v, err := fn(branchCtx, c)
			a.record(c, op, err, start)
			if err != nil {
				a.logger.WarnContext(ctx, "dropping provider from fan-out",
					"operation", op,
					"provider", c.Name(),
					"error", err,
				)
				return
			}
			results[i] = result{v: v, ok: true}
		})
	}
	wg.Wait()

	out := make([]T, 0, len(results))
	for _, r := range results {
		if r.ok {
			out = append(out, r.v)
		}
	}
	return out
}

// Fees fans a fee query out to every client and combines the answers with
// Aggregate.
func Fees[C Client](ctx context.Context, a *Aggregator[C], timeout time.Duration, fn func(context.Context, C) (Sample, error)) (Sample, error) {
	samples := Gather(ctx, a, "fee", timeout, func(ctx context.Context, c C) (Sample, error) {
		s, err := fn(ctx, c)
		if a.metrics != nil {
			status := "accepted"
			if err != nil {
				status = "rejected"
			}
			a.metrics.RecordFeeSample(string(a.blockchain), c.Name(), status)
		}
		return s, err
	})

	a.logger.DebugContext(ctx, "collected fee samples", "responded", len(samples), "configured", len(a.clients))
	return Aggregate(samples)
}

// Aggregate combines samples per component with TrimmedMean. A component
// missing from some samples is averaged over the samples that have it.
func Aggregate(samples []Sample) (Sample, error) {
	if len(samples) == 0 {
		return nil, chain.ErrFeeUnavailable.Withf("no provider returned a fee estimate")
	}

	byKey := make(map[string][]decimal.Decimal)
	for _, s := range samples {
		for k, v := range s {
			byKey[k] = append(byKey[k], v)
		}
	}
	if len(byKey) == 0 {
		return nil, chain.ErrFeeUnavailable.Withf("providers returned empty fee estimates")
	}

	out := make(Sample, len(byKey))
	for k, values := range byKey {
		mean := TrimmedMean(values)
		if mean.IsNegative() {
			return nil, chain.ErrFeeUnavailable.WithDetails(map[string]string{"component": k, "value": mean.String()})
		}
		out[k] = mean
	}
	return out, nil
}

// TrimmedMean sorts values, drops the single lowest when more than one
// value is present, and averages the rest. Exactly one value is dropped
// regardless of how many samples there are.
func TrimmedMean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	if len(sorted) > 1 {
		sorted = sorted[1:]
	}
	return decimal.Avg(sorted[0], sorted[1:]...)
}
