package google

import (
	"context"
	"time"

	"github.com/teemow/inboxpilot/internal/instrumentation"
)

// Call runs one provider operation inside a provider span, records its
// metric and classifies its error.
func Call[T any](ctx context.Context, metrics *instrumentation.Metrics, service, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := instrumentation.StartProviderSpan(ctx, service, operation)
	defer span.End()

	start := time.Now()
	out, err := fn(ctx)
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
		metrics.RecordProviderOperation(ctx, service, operation, status, time.Since(start))
		var zero T
		return zero, Classify(err)
	}
	instrumentation.SetSpanSuccess(span)
	metrics.RecordProviderOperation(ctx, service, operation, status, time.Since(start))
	return out, nil
}
