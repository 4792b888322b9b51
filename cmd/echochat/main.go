package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/echochat/echochat-server/internal/api"
	"github.com/echochat/echochat-server/internal/apierrors"
	"github.com/echochat/echochat-server/internal/attachment"
	"github.com/echochat/echochat-server/internal/auth"
	"github.com/echochat/echochat-server/internal/bootstrap"
	"github.com/echochat/echochat-server/internal/config"
	"github.com/echochat/echochat-server/internal/disposable"
	"github.com/echochat/echochat-server/internal/friend"
	"github.com/echochat/echochat-server/internal/gateway"
	"github.com/echochat/echochat-server/internal/governor"
	"github.com/echochat/echochat-server/internal/group"
	"github.com/echochat/echochat-server/internal/httputil"
	"github.com/echochat/echochat-server/internal/media"
	"github.com/echochat/echochat-server/internal/postgres"
	"github.com/echochat/echochat-server/internal/presence"
	"github.com/echochat/echochat-server/internal/realm"
	"github.com/echochat/echochat-server/internal/relay"
	"github.com/echochat/echochat-server/internal/room"
	"github.com/echochat/echochat-server/internal/session"
	"github.com/echochat/echochat-server/internal/user"
	"github.com/echochat/echochat-server/internal/valkey"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// p2pSweepInterval is how often the WebRTC Signaling Relay scans for file-transfer handshakes that never completed.
const p2pSweepInterval = 30 * time.Second

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.ServerEnv).
		Msg("Starting EchoChat server")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard. Set an explicit origin when in production.")
	}

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	rdb, err := valkey.Connect(ctx, cfg.ValkeyURL, cfg.ValkeyDialTimeout)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Valkey connected")

	firstRun, err := bootstrap.IsFirstRun(ctx, db)
	if err != nil {
		return fmt.Errorf("check first run: %w", err)
	}
	if firstRun {
		log.Info().Msg("First run detected, running initialization")
		if err := bootstrap.RunFirstInit(ctx, db, cfg, log.Logger); err != nil {
			return fmt.Errorf("first-run initialization: %w", err)
		}
		log.Info().Msg("First-run initialization complete")
	}

	blocklist := disposable.NewBlocklist(cfg.DisposableEmailBlocklistURL, cfg.DisposableEmailBlocklistEnabled)
	blocklist.Prefetch(ctx)

	// Repositories
	userRepo := user.NewPGRepository(db, log.Logger)
	sessionRepo := session.NewPGRepository(db, log.Logger)
	realmRepo := realm.NewPGRepository(db, log.Logger)
	roomRepo := room.NewPGRepository(db, log.Logger)
	groupRepo := group.NewPGRepository(db, log.Logger)
	friendRepo := friend.NewPGRepository(db, log.Logger)
	relayRepo := relay.NewPGRepository(db, log.Logger)
	fileBlobRepo := attachment.NewPGRepository(db, log.Logger)
	mediaStorage := media.NewLocalStorage(cfg.MediaBasePath, cfg.MediaBaseURL)

	// Realtime Event Dispatcher plumbing
	gatewayPublisher := gateway.NewPublisher(rdb, log.Logger)
	presenceStore := presence.NewStore(rdb)

	authService, err := auth.NewService(userRepo, sessionRepo, realmRepo, rdb, cfg, blocklist, nil, gatewayPublisher, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create auth service")
	}

	// Anti-abuse Governor
	eventLimiter := governor.NewEventLimiter(rdb, governor.DefaultRules(cfg))
	slowmode := governor.NewSlowmode(rdb)
	contentHeuristics := governor.NewContentHeuristics(rdb, cfg.ContentMaxLinks, cfg.ContentMaxMentions, cfg.ContentDupWindow)

	router := api.NewRouter(api.Deps{
		Cfg:       cfg,
		Log:       log.Logger,
		Users:     userRepo,
		Rooms:     roomRepo,
		Groups:    groupRepo,
		Relay:     relayRepo,
		Friends:   friendRepo,
		Presence:  presenceStore,
		Events:    eventLimiter,
		Slowmode:  slowmode,
		Content:   contentHeuristics,
		Publisher: gatewayPublisher,
	})

	sessionStore := gateway.NewSessionStore(rdb, cfg.GatewaySessionTTL, cfg.GatewayReplayBufferSize)
	gatewayHub := gateway.NewHub(rdb, cfg, sessionStore, authService, presenceStore, gatewayPublisher, router, log.Logger)

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()

	go runWithBackoff(subCtx, "gateway-hub", gatewayHub.Run)
	go runIdleSweep(subCtx, authService, cfg.IdleSweepInterval, cfg.SessionIdleTimeout)
	go runP2PSweep(subCtx, router)

	app := fiber.New(fiber.Config{
		AppName:   "EchoChat",
		BodyLimit: cfg.BodyLimitBytes(),
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "an internal error occurred"
			code := apierrors.Internal
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
				message = fe.Message
				code = fiberStatusToCode(fe.Code)
			} else {
				log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("Unhandled error")
			}
			return c.Status(status).JSON(httputil.ErrorResponse{
				Error: httputil.ErrorBody{Code: code, Message: message},
			})
		},
	})

	app.Use(requestid.New())
	if cfg.LogHealthRequests {
		app.Use(httputil.RequestLogger(log.Logger))
	} else {
		app.Use(httputil.RequestLogger(log.Logger, "/api/v1/health"))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))
	app.Use(limiter.New(governor.APILimiter(cfg)))

	app.Get("/api/v1/health", func(c fiber.Ctx) error {
		if err := rdb.Ping(c.Context()).Err(); err != nil {
			return httputil.Fail(c, fiber.StatusServiceUnavailable, apierrors.StorageUnavailable, "valkey unavailable")
		}
		return httputil.Success(c, fiber.Map{"status": "ok"})
	})

	api.RegisterRoutes(app, api.RouteDeps{
		Cfg:         cfg,
		Log:         log.Logger,
		AuthService: authService,
		Users:       userRepo,
		Rooms:       roomRepo,
		Groups:      groupRepo,
		Friends:     friendRepo,
		FileBlobs:   fileBlobRepo,
		Storage:     mediaStorage,
		Publisher:   gatewayPublisher,
		Hub:         gatewayHub,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		gatewayHub.Shutdown()
		subCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// runIdleSweep periodically expires sessions that have gone idle past the configured cutoff.
func runIdleSweep(ctx context.Context, authService *auth.Service, interval, idleTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := authService.EnforceIdle(ctx, time.Now().Add(-idleTimeout))
			if err != nil {
				log.Warn().Err(err).Msg("Idle session sweep failed")
			} else if n > 0 {
				log.Info().Int("count", n).Msg("Expired idle sessions")
			}
		}
	}
}

// runP2PSweep periodically clears out P2P file-transfer handshakes that exceeded their timeout, so a peer that
// dropped mid-negotiation doesn't leave a stuck reservation in the registry.
func runP2PSweep(ctx context.Context, router *api.Router) {
	ticker := time.NewTicker(p2pSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			router.SweepExpiredTransfers()
		}
	}
}

// runWithBackoff runs fn in a loop, restarting with exponential backoff when it returns a non-nil, non-cancelled
// error. If fn returns nil or context.Canceled the goroutine exits.
func runWithBackoff(ctx context.Context, name string, fn func(context.Context) error) {
	const (
		initialDelay = time.Second
		maxDelay     = 2 * time.Minute
	)
	delay := initialDelay
	for {
		if err := fn(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Str("service", name).Dur("retry_in", delay).
				Msg("Background service stopped, restarting after delay")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxDelay)
			continue
		}
		return
	}
}

// fiberStatusToCode maps an HTTP status code from Fiber's built-in errors (404, 405, etc.) to the closest
// apierrors.Code.
func fiberStatusToCode(status int) apierrors.Code {
	switch status {
	case fiber.StatusNotFound:
		return apierrors.NotFound
	case fiber.StatusTooManyRequests:
		return apierrors.RateLimited
	case fiber.StatusServiceUnavailable:
		return apierrors.StorageUnavailable
	default:
		if status >= 400 && status < 500 {
			return apierrors.BadInput
		}
		return apierrors.Internal
	}
}
