package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MultiSink writes every record to all of its sinks.
type MultiSink []Sink

var _ Sink = MultiSink(nil)

// Name joins the member names with "+".
func (m MultiSink) Name() string {
	names := make([]string, len(m))
	for i, s := range m {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Write stores rec in every sink, even when an earlier one fails. The
// failures are joined.
func (m MultiSink) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// SinkFunc adapts a function to the [Sink] interface.
type SinkFunc func(ctx context.Context, rec Record) error

// Name returns "func".
func (f SinkFunc) Name() string { return "func" }

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, rec Record) error { return f(ctx, rec) }
