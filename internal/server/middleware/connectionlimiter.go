package middleware

import (
	"log/slog"
	"net/http"

	"github.com/TheAihtesham/ai-collaborative-code-editor/pkg/config"
)

type IPConnectionCounter func(ip string) int
type IPConnectionCycler func(ip string)

// NewConnectionLimiter caps concurrent WebSocket connections per source IP.
// Rooms are unauthenticated, so the request IP is the only identity
// available to key the limit on. "reject" turns excess upgrades away;
// "cycle" closes the IP's oldest connection to make room.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter IPConnectionCounter,
	cycler IPConnectionCycler,
	config config.ConnectionLimitConfig,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.MaxPerIP <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if counter(reqMeta.IP) < config.MaxPerIP {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("Connection limit reached for IP", slog.String("ip", reqMeta.IP))
			switch config.Mode {
			case "reject":
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
			case "cycle":
				cycler(reqMeta.IP)
				next.ServeHTTP(w, r)
			default:
				logger.Error("Invalid connection limit mode configured", slog.String("mode", config.Mode))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		})
	}
}
