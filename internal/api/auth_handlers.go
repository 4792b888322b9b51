package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/echochat/echochat-server/internal/apierrors"
	"github.com/echochat/echochat-server/internal/auth"
	"github.com/echochat/echochat-server/internal/httputil"
	"github.com/echochat/echochat-server/internal/user"
)

// AuthHandler serves the Session & Token Authority's HTTP surface (spec §4.1).
type AuthHandler struct {
	svc   *auth.Service
	users user.Repository
	log   zerolog.Logger
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(svc *auth.Service, users user.Repository, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, users: users, log: logger.With().Str("handler", "auth").Logger()}
}

type registerBody struct {
	Email                  string `json:"email"`
	Username               string `json:"username"`
	Password               string `json:"password"`
	RSAPublicKey           string `json:"rsa_public_key"`
	RSAPrivateKeyEncrypted string `json:"rsa_private_key_encrypted"`
}

type authResponse struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	SessionID    string `json:"session_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(c fiber.Ctx) error {
	var body registerBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, "invalid request body")
	}

	result, err := h.svc.Register(c.Context(), auth.RegisterRequest{
		Email:                  body.Email,
		Username:               body.Username,
		Password:               body.Password,
		RSAPublicKey:           body.RSAPublicKey,
		RSAPrivateKeyEncrypted: []byte(body.RSAPrivateKeyEncrypted),
		Fingerprint:            c.Get("User-Agent"),
	})
	if err != nil {
		return h.mapError(c, err)
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, authResponse{
		UserID:       result.User.ID.String(),
		Username:     result.User.Username,
		SessionID:    result.SessionID.String(),
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	})
}

type loginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var body loginBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, "invalid request body")
	}

	result, err := h.svc.Login(c.Context(), auth.LoginRequest{
		Username:    body.Username,
		Password:    body.Password,
		IP:          c.IP(),
		Fingerprint: c.Get("User-Agent"),
	})
	if err != nil {
		return h.mapError(c, err)
	}

	return httputil.Success(c, authResponse{
		UserID:       result.User.ID.String(),
		Username:     result.User.Username,
		SessionID:    result.SessionID.String(),
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	})
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(c fiber.Ctx) error {
	var body refreshBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, "invalid request body")
	}

	pair, err := h.svc.RefreshRotate(c.Context(), body.RefreshToken)
	if err != nil {
		return h.mapError(c, err)
	}

	return httputil.Success(c, struct {
		SessionID    string `json:"session_id"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}{pair.SessionID.String(), pair.AccessToken, pair.RefreshToken})
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandler) Logout(c fiber.Ctx) error {
	userID, sessionID, ok := h.identity(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "missing identity")
	}
	if err := h.svc.LogoutSession(c.Context(), userID, sessionID); err != nil {
		return h.mapError(c, err)
	}
	return httputil.Success(c, fiber.Map{"ok": true})
}

// LogoutAll handles POST /api/v1/auth/logout-all.
func (h *AuthHandler) LogoutAll(c fiber.Ctx) error {
	userID, _, ok := h.identity(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "missing identity")
	}
	if err := h.svc.LogoutAll(c.Context(), userID); err != nil {
		return h.mapError(c, err)
	}
	return httputil.Success(c, fiber.Map{"ok": true})
}

// GetPublicKey handles GET /api/v1/get_public_key?username=. It returns the RSA public key a client registered,
// so a peer can wrap a DM or group data-encryption key for them without a prior direct exchange.
func (h *AuthHandler) GetPublicKey(c fiber.Ctx) error {
	username := c.Query("username")
	if username == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, "missing username query parameter")
	}

	creds, err := h.users.GetByUsername(c.Context(), username)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "user not found")
		}
		h.log.Error().Err(err).Msg("failed to look up user for public key retrieval")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}

	return httputil.Success(c, fiber.Map{
		"username":       creds.Username,
		"rsa_public_key": creds.RSAPublicKey,
	})
}

func (h *AuthHandler) identity(c fiber.Ctx) (userID, sessionID uuid.UUID, ok bool) {
	uid, uok := auth.UserIDFromContext(c)
	sid, sok := auth.SessionIDFromContext(c)
	if !uok || !sok {
		return uuid.Nil, uuid.Nil, false
	}
	return uid, sid, true
}

func (h *AuthHandler) mapError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrPasswordTooShort), errors.Is(err, auth.ErrPasswordTooLong):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, err.Error())
	case errors.Is(err, auth.ErrDisposableEmail):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, err.Error())
	case errors.Is(err, auth.ErrEmailAlreadyTaken), errors.Is(err, auth.ErrAccountTombstoned):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.Conflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, err.Error())
	case errors.Is(err, auth.ErrLoginLocked):
		return httputil.Fail(c, fiber.StatusTooManyRequests, apierrors.LoginLocked, err.Error())
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrRefreshTokenNotFound),
		errors.Is(err, auth.ErrRefreshTokenReused), errors.Is(err, auth.ErrSessionTerminated):
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, err.Error())
	default:
		h.log.Error().Err(err).Msg("unhandled auth service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
}
