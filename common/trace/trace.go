// Package trace attaches a correlation id to every inbound message so that the
// log lines of one message (trigger, rate decision, completion, send) can be
// grouped together.
package trace

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}

// GenerateID returns a fresh trace id of the form "t_<uuid without dashes>".
func GenerateID() string {
	id := uuid.New()
	const hextable = "0123456789abcdef"
	buf := make([]byte, 0, 2+2*len(id))
	buf = append(buf, 't', '_')
	for _, b := range id {
		buf = append(buf, hextable[b>>4], hextable[b&0x0f])
	}
	return string(buf)
}

// WithTraceID returns a child context carrying the given trace ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext extracts the trace ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}
