package api

import (
	"context"
	"net/http"
	"time"

	"github.com/traffic-tacos/reservation-api-sub000/internal/common/logging"
	"github.com/traffic-tacos/reservation-api-sub000/internal/common/types"
)

const (
	traceIDHeader = "X-Trace-ID"
	userIDHeader  = "X-User-ID"
)

// RequestContext propagates the trace ID and caller identity into the request
// context and bounds the whole request with the given deadline. The trace ID
// is echoed back so clients can correlate responses and events.
func RequestContext(deadline time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := types.TraceID(r.Header.Get(traceIDHeader))
			if traceID.IsEmpty() {
				traceID = types.NewTraceID()
			}

			ctx := logging.WithTraceID(r.Context(), traceID)
			if userID := types.UserID(r.Header.Get(userIDHeader)); !userID.IsEmpty() {
				ctx = logging.WithUserID(ctx, userID)
			}

			ctx, cancel := context.WithTimeout(ctx, deadline)
			defer cancel()

			w.Header().Set(traceIDHeader, traceID.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
