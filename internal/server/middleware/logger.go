package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// NewRequestLogger logs each incoming request before it is handled. Upgrade
// requests are tagged so websocket session starts can be told apart from
// plain API calls in the log stream.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ip string
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				ip = reqMeta.IP
			}

			logger.Info("Incoming request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("ip", ip),
				slog.Bool("websocket", isWebsocketUpgrade(r)),
			)
			next.ServeHTTP(w, r)
		})
	}
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
