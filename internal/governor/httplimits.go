// Package governor implements the Anti-abuse Governor (spec §4.6): per-IP HTTP endpoint limits, per-user realtime
// event sliding windows, per-(room,user) slowmode, and plaintext-room content heuristics. Each of the three layers
// is independent, per §4.6's "each independent."
package governor

import (
	"time"

	"github.com/gofiber/fiber/v3/middleware/limiter"

	"github.com/echochat/echochat-server/internal/config"
)

// HTTPLimiter builds a fiber/v3 limiter.Config for one of the named HTTP endpoint classes, for direct use in
// cmd/echochat's per-route limiter.New wiring.
func HTTPLimiter(count int, windowSeconds int) limiter.Config {
	return limiter.Config{
		Max:        count,
		Expiration: time.Duration(windowSeconds) * time.Second,
	}
}

// LoginLimiter, RegisterLimiter, RefreshLimiter, UploadLimiter, and APILimiter expose the per-route defaults from
// config so cmd/echochat can wire them directly onto route groups without re-deriving field names.
func LoginLimiter(cfg *config.Config) limiter.Config {
	return HTTPLimiter(cfg.RateLimitLoginCount, cfg.RateLimitLoginWindowSeconds)
}

func RegisterLimiter(cfg *config.Config) limiter.Config {
	return HTTPLimiter(cfg.RateLimitRegisterCount, cfg.RateLimitRegisterWindowSeconds)
}

func RefreshLimiter(cfg *config.Config) limiter.Config {
	return HTTPLimiter(cfg.RateLimitRefreshCount, cfg.RateLimitRefreshWindowSeconds)
}

func UploadLimiter(cfg *config.Config) limiter.Config {
	return HTTPLimiter(cfg.RateLimitUploadCount, cfg.RateLimitUploadWindowSeconds)
}

func APILimiter(cfg *config.Config) limiter.Config {
	return HTTPLimiter(cfg.RateLimitAPICount, cfg.RateLimitAPIWindowSeconds)
}
