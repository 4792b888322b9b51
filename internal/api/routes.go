package api

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/rs/zerolog"

	"github.com/echochat/echochat-server/internal/attachment"
	"github.com/echochat/echochat-server/internal/auth"
	"github.com/echochat/echochat-server/internal/config"
	"github.com/echochat/echochat-server/internal/friend"
	"github.com/echochat/echochat-server/internal/gateway"
	"github.com/echochat/echochat-server/internal/governor"
	"github.com/echochat/echochat-server/internal/group"
	"github.com/echochat/echochat-server/internal/media"
	"github.com/echochat/echochat-server/internal/room"
	"github.com/echochat/echochat-server/internal/user"
)

// RouteDeps groups every dependency RegisterRoutes needs to mount the Entry Surfaces layer onto a fiber.App.
type RouteDeps struct {
	Cfg *config.Config
	Log zerolog.Logger

	AuthService *auth.Service
	Users       user.Repository
	Rooms       room.Repository
	Groups      group.Repository
	Friends     friend.Repository
	FileBlobs   attachment.Repository
	Storage     media.StorageProvider
	Publisher   *gateway.Publisher
	Hub         *gateway.Hub
}

// RegisterRoutes mounts every HTTP and WebSocket route onto app, wiring auth middleware and per-route-group rate
// limiting from the Anti-abuse Governor's HTTP layer.
func RegisterRoutes(app *fiber.App, deps RouteDeps) {
	requireAuth := auth.RequireAuth(deps.AuthService)

	authHandler := NewAuthHandler(deps.AuthService, deps.Users, deps.Log)
	authGroup := app.Group("/api/v1/auth")
	authGroup.Post("/register", limiter.New(governor.RegisterLimiter(deps.Cfg)), authHandler.Register)
	authGroup.Post("/login", limiter.New(governor.LoginLimiter(deps.Cfg)), authHandler.Login)
	authGroup.Post("/refresh", limiter.New(governor.RefreshLimiter(deps.Cfg)), authHandler.Refresh)
	authGroup.Post("/logout", requireAuth, authHandler.Logout)
	authGroup.Post("/logout-all", requireAuth, authHandler.LogoutAll)
	app.Get("/api/v1/get_public_key", requireAuth, authHandler.GetPublicKey)

	roomHandler := NewRoomHandler(deps.Rooms, deps.Publisher, deps.Log)
	roomGroup := app.Group("/api/v1/rooms", requireAuth)
	roomGroup.Post("/", limiter.New(governor.HTTPLimiter(deps.Cfg.RateLimitRoomCreateCount, int(deps.Cfg.RateLimitRoomCreateWindow/time.Second))), roomHandler.Create)
	roomGroup.Get("/", roomHandler.List)
	roomGroup.Patch("/:name/policy", roomHandler.UpdatePolicy)
	roomGroup.Post("/:name/invites", roomHandler.CreateInvite)

	groupHandler := NewGroupHandler(deps.Groups, deps.Users, deps.Log)
	groupGroup := app.Group("/api/v1/groups", requireAuth)
	groupGroup.Post("/", groupHandler.Create)
	groupGroup.Get("/", groupHandler.List)
	groupGroup.Post("/:id/invites", groupHandler.CreateInvite)

	friendHandler := NewFriendHandler(deps.Friends, deps.Log)
	friendGroup := app.Group("/api/v1/friends", requireAuth)
	friendGroup.Get("/", friendHandler.List)
	friendGroup.Get("/requests", friendHandler.IncomingRequests)

	fileBlobHandler := NewFileBlobHandler(deps.FileBlobs, deps.Storage, int64(deps.Cfg.MaxUploadSizeMB)*1024*1024, deps.Log)
	dmFilesGroup := app.Group("/api/v1/dm_files", requireAuth)
	dmFilesGroup.Post("/upload", fileBlobHandler.uploadDMFile)
	dmFilesGroup.Get("/:id/meta", fileBlobHandler.getDMFileMeta)
	dmFilesGroup.Get("/:id/blob", fileBlobHandler.getDMFileBlob)

	groupFilesGroup := app.Group("/api/v1/group_files", requireAuth)
	groupFilesGroup.Post("/upload", fileBlobHandler.uploadGroupFile)
	groupFilesGroup.Get("/:id/meta", fileBlobHandler.getGroupFileMeta)
	groupFilesGroup.Get("/:id/blob", fileBlobHandler.getGroupFileBlob)

	gatewayHandler := NewGatewayHandler(deps.Hub)
	app.Get("/api/v1/gateway", limiter.New(governor.HTTPLimiter(deps.Cfg.RateLimitWSCount, deps.Cfg.RateLimitWSWindowSeconds)), gatewayHandler.Upgrade)

	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}
