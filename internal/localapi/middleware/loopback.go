package middleware

import (
	"log/slog"
	"net"
	"net/http"
)

// LoopbackOnly rejects any request whose RemoteAddr does not resolve to a loopback address.
// The local API is only ever meant to be reached by collaborators running on the same
// machine (the operator display surface, administrative tooling); binding the listener to
// 127.0.0.1 is the primary control, this middleware is defense in depth against a
// misconfigured bind address.
func LoopbackOnly(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}

			ip := net.ParseIP(host)
			if ip == nil || !ip.IsLoopback() {
				logger.Warn("rejected non-loopback request",
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("correlation_id", GetCorrelationID(r.Context())),
				)
				w.WriteHeader(http.StatusForbidden)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
