package otel

import (
	"net/http"

	"github.com/riandyrn/otelchi"
	"go.opentelemetry.io/otel/trace"
)

// Middleware wraps otelchi for chi routers and annotates each server span
// with the internal identity headers.
func Middleware(service string, opts ...otelchi.Option) func(http.Handler) http.Handler {
	base := otelchi.Middleware(service, opts...)

	return func(next http.Handler) http.Handler {
		return base(annotateIdentity(next))
	}
}

// annotateIdentity lifts identity headers onto the span and carries the
// request id into the context so downstream log lines and outbound hops
// reuse it.
func annotateIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		requestID := r.Header.Get("x-request-id")
		if requestID != "" {
			ctx = WithRequestID(ctx, requestID)
		}

		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			if userID := r.Header.Get("x-user-id"); userID != "" {
				span.SetAttributes(UserID(userID))
			}
			if threadID := r.Header.Get("x-thread-id"); threadID != "" {
				span.SetAttributes(ThreadID(threadID))
			}
			if requestID != "" {
				span.SetAttributes(RequestID(requestID))
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
