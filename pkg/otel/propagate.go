package otel

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyRequestID
)

// WithUserID stashes the acting user for outbound hops and span annotation.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, id)
}

// WithRequestID stashes the turn's request id so every hop logs the same one.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserID).(string)
	return v
}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

// PropagatingTransport stamps outbound service-to-service requests with W3C
// trace context plus the identity headers the receiving middleware reads.
// Headers the caller set explicitly win over context values.
type PropagatingTransport struct {
	base http.RoundTripper
}

func NewPropagatingTransport(base http.RoundTripper) *PropagatingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &PropagatingTransport{base: base}
}

func (t *PropagatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	out := req.Clone(ctx)

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(out.Header))

	setIfAbsent(out.Header, "x-user-id", UserIDFromContext(ctx))
	setIfAbsent(out.Header, "x-request-id", RequestIDFromContext(ctx))

	return t.base.RoundTrip(out)
}

func setIfAbsent(h http.Header, key, value string) {
	if value == "" || h.Get(key) != "" {
		return
	}
	h.Set(key, value)
}
