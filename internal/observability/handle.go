package observability

import "context"

// Handle bundles the three owned facilities a CoreHandle threads through
// every component instead of reaching for package globals.
type Handle struct {
	Log     *Logger
	Trace   *Tracing
	Metrics *Metrics
}

// New builds a Handle for the given service name.
func New(ctx context.Context, serviceName string) (*Handle, error) {
	tracing, err := NewTracing(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	return &Handle{
		Log:     NewLogger(),
		Trace:   tracing,
		Metrics: NewMetrics(),
	}, nil
}

// Close releases tracing resources.
func (h *Handle) Close(ctx context.Context) error {
	return h.Trace.Shutdown(ctx)
}
