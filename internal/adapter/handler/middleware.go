package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/storefront/internal/metrics"
)

// PurchaserHeader carries the authenticated purchaser's email, set by the session layer in front.
const PurchaserHeader = "X-User-Email"

type purchaserKey struct{}

func WithPurchaser(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, purchaserKey{}, email)
}

func PurchaserFrom(ctx context.Context) string {
	email, _ := ctx.Value(purchaserKey{}).(string)
	return email
}

func identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if email := strings.TrimSpace(r.Header.Get(PurchaserHeader)); email != "" {
			r = r.WithContext(WithPurchaser(r.Context(), email))
		}
		next.ServeHTTP(w, r)
	})
}

// observe logs every request and records its status and latency under the matched route pattern.
func observe(log logrus.FieldLogger, m *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			if m != nil {
				m.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
				m.HTTPLatencyMS.WithLabelValues(route).Observe(float64(elapsed.Milliseconds()))
			}

			entry := log.WithFields(logrus.Fields{
				"request_id":  middleware.GetReqID(r.Context()),
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"duration_ms": elapsed.Milliseconds(),
				"remote_addr": r.RemoteAddr,
			})
			if status >= http.StatusInternalServerError {
				entry.Error("request completed")
			} else {
				entry.Info("request completed")
			}
		})
	}
}
