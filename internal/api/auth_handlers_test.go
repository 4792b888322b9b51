package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/echochat/echochat-server/internal/auth"
	"github.com/echochat/echochat-server/internal/config"
	"github.com/echochat/echochat-server/internal/disposable"
	"github.com/echochat/echochat-server/internal/realm"
	"github.com/echochat/echochat-server/internal/session"
	"github.com/echochat/echochat-server/internal/user"
)

// fakeUserRepo implements user.Repository in memory, keyed by username, for auth service tests.
type fakeUserRepo struct {
	byID       map[uuid.UUID]*user.Credentials
	byUsername map[string]uuid.UUID
	tombstones map[string]struct{}
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		byID:       make(map[uuid.UUID]*user.Credentials),
		byUsername: make(map[string]uuid.UUID),
		tombstones: make(map[string]struct{}),
	}
}

func (r *fakeUserRepo) Create(_ context.Context, params user.CreateParams) (uuid.UUID, error) {
	if _, exists := r.byUsername[params.Username]; exists {
		return uuid.Nil, user.ErrAlreadyExists
	}
	id := uuid.New()
	r.byID[id] = &user.Credentials{
		User: user.User{
			ID:        id,
			Username:  params.Username,
			Email:     params.Email,
			CreatedAt: time.Now(),
		},
		PasswordHash: params.PasswordHash,
	}
	r.byUsername[params.Username] = id
	return id, nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	u := c.User
	return &u, nil
}

func (r *fakeUserRepo) GetByUsername(_ context.Context, username string) (*user.Credentials, error) {
	id, ok := r.byUsername[username]
	if !ok {
		return nil, user.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *fakeUserRepo) GetCredentialsByID(_ context.Context, id uuid.UUID) (*user.Credentials, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return c, nil
}

func (r *fakeUserRepo) MarkEmailVerified(context.Context, uuid.UUID) error { return nil }

func (r *fakeUserRepo) RecordLoginAttempt(context.Context, string, string, bool) error { return nil }

func (r *fakeUserRepo) RecordLoginSuccess(_ context.Context, id uuid.UUID, ip string, at time.Time) error {
	if c, ok := r.byID[id]; ok {
		c.LastLoginIP = &ip
		c.LastLoginAt = &at
	}
	return nil
}

func (r *fakeUserRepo) IncrementLockout(_ context.Context, id uuid.UUID, lockUntil *time.Time) (int, error) {
	c, ok := r.byID[id]
	if !ok {
		return 0, user.ErrNotFound
	}
	c.LockoutCount++
	if lockUntil != nil {
		c.LockedUntil = lockUntil
	}
	return c.LockoutCount, nil
}

func (r *fakeUserRepo) Lock(_ context.Context, id uuid.UUID, lockedUntil time.Time) error {
	if c, ok := r.byID[id]; ok {
		c.LockedUntil = &lockedUntil
	}
	return nil
}

func (r *fakeUserRepo) ClearLockout(_ context.Context, id uuid.UUID) error {
	if c, ok := r.byID[id]; ok {
		c.LockoutCount = 0
		c.LockedUntil = nil
	}
	return nil
}

func (r *fakeUserRepo) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	if c, ok := r.byID[id]; ok {
		c.PasswordHash = hash
	}
	return nil
}

func (r *fakeUserRepo) SetRecoveryPIN(_ context.Context, id uuid.UUID, hash string) error {
	if c, ok := r.byID[id]; ok {
		c.RecoveryPINHash = &hash
		c.RecoveryPINConfigured = true
	}
	return nil
}

func (r *fakeUserRepo) SetStepUpSecret(_ context.Context, id uuid.UUID, encryptedSecret *string) error {
	if c, ok := r.byID[id]; ok {
		c.StepUpSecretEncrypted = encryptedSecret
	}
	return nil
}

func (r *fakeUserRepo) DeleteWithTombstones(_ context.Context, id uuid.UUID, _ []user.Tombstone) error {
	delete(r.byID, id)
	return nil
}

func (r *fakeUserRepo) CheckTombstone(_ context.Context, _ user.TombstoneType, hmacHash string) (bool, error) {
	_, ok := r.tombstones[hmacHash]
	return ok, nil
}

// fakeSessionRepo implements session.Repository in memory for auth service tests.
type fakeSessionRepo struct {
	sessions map[uuid.UUID]*session.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[uuid.UUID]*session.Session)}
}

func (r *fakeSessionRepo) Create(_ context.Context, userID uuid.UUID, fingerprint string) (*session.Session, error) {
	s := &session.Session{ID: uuid.New(), UserID: userID, CreatedAt: time.Now(), LastActivityAt: time.Now(), UserAgentFingerprint: fingerprint}
	r.sessions[s.ID] = s
	return s, nil
}

func (r *fakeSessionRepo) Get(_ context.Context, id uuid.UUID) (*session.Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return s, nil
}

func (r *fakeSessionRepo) RecordActivity(_ context.Context, id uuid.UUID, at time.Time) error {
	if s, ok := r.sessions[id]; ok {
		s.LastActivityAt = at
	}
	return nil
}

func (r *fakeSessionRepo) Terminate(_ context.Context, id uuid.UUID, reason session.TerminationReason, at time.Time) error {
	s, ok := r.sessions[id]
	if !ok {
		return session.ErrNotFound
	}
	s.TerminatedAt = &at
	s.TerminationReason = &reason
	return nil
}

func (r *fakeSessionRepo) TerminateAllForUser(_ context.Context, userID uuid.UUID, reason session.TerminationReason, at time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, s := range r.sessions {
		if s.UserID == userID && s.Active() {
			s.TerminatedAt = &at
			s.TerminationReason = &reason
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

func (r *fakeSessionRepo) IdleSince(_ context.Context, cutoff time.Time) ([]session.Session, error) {
	var out []session.Session
	for _, s := range r.sessions {
		if s.Active() && s.LastActivityAt.Before(cutoff) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) RecordToken(context.Context, session.Token) error { return nil }
func (r *fakeSessionRepo) RevokeToken(context.Context, uuid.UUID) error     { return nil }

// fakeRealmRepo implements realm.Repository for auth service tests; the Session & Token Authority never exercises it
// directly, but NewService requires a non-nil implementation.
type fakeRealmRepo struct{}

func (fakeRealmRepo) Get(context.Context) (*realm.Config, error) { return nil, realm.ErrNotFound }
func (fakeRealmRepo) Update(context.Context, realm.UpdateParams) (*realm.Config, error) {
	return nil, realm.ErrNotFound
}
func (fakeRealmRepo) Seed(_ context.Context, name string, ownerID uuid.UUID) (*realm.Config, error) {
	return &realm.Config{ID: uuid.New(), Name: name, OwnerID: ownerID}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		ServerName:        "EchoChat Test",
		ServerURL:         "https://echochat.test",
		Argon2Memory:      19456,
		Argon2Iterations:  2,
		Argon2Parallelism: 1,
		Argon2SaltLength:  16,
		Argon2KeyLength:   32,
		JWTSecret:         "test-jwt-secret-at-least-32-bytes-long",
		JWTAccessTTL:      15 * time.Minute,
		JWTRefreshTTL:     7 * 24 * time.Hour,
		ServerSecret:      "0011223344556677889900112233445566778899001122334455667788990011",
	}
}

func testAuthHandler(t *testing.T) (*AuthHandler, *fakeUserRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	users := newFakeUserRepo()
	svc, err := auth.NewService(users, newFakeSessionRepo(), fakeRealmRepo{}, rdb, testConfig(), disposable.NewBlocklist("", false), nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("auth.NewService() error = %v", err)
	}
	return NewAuthHandler(svc, users, zerolog.Nop()), users
}

func testAuthApp(handler *AuthHandler) *fiber.App {
	app := fiber.New()
	app.Post("/auth/register", handler.Register)
	app.Post("/auth/login", handler.Login)
	app.Post("/auth/refresh", handler.Refresh)
	app.Post("/auth/logout", func(c fiber.Ctx) error { return handler.Logout(c) })
	app.Post("/auth/logout-all", func(c fiber.Ctx) error { return handler.LogoutAll(c) })
	return app
}

func TestAuthRegister_Success(t *testing.T) {
	t.Parallel()
	handler, _ := testAuthHandler(t)
	app := testAuthApp(handler)

	resp := doReq(t, app, jsonReq(http.MethodPost, "/auth/register", `{"email":"rin@example.com","username":"rin","password":"correct-horse"}`))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want %d, body = %s", resp.StatusCode, fiber.StatusCreated, body)
	}
	env := parseSuccess(t, body)
	var out authResponse
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("unmarshal register response: %v", err)
	}
	if out.Username != "rin" {
		t.Errorf("username = %q, want %q", out.Username, "rin")
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		t.Error("expected non-empty access and refresh tokens")
	}
}

func TestAuthRegister_PasswordTooShort(t *testing.T) {
	t.Parallel()
	handler, _ := testAuthHandler(t)
	app := testAuthApp(handler)

	resp := doReq(t, app, jsonReq(http.MethodPost, "/auth/register", `{"email":"rin@example.com","username":"rin","password":"short"}`))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want %d, body = %s", resp.StatusCode, fiber.StatusBadRequest, body)
	}
}

func TestAuthRegister_DuplicateUsername(t *testing.T) {
	t.Parallel()
	handler, _ := testAuthHandler(t)
	app := testAuthApp(handler)

	first := jsonReq(http.MethodPost, "/auth/register", `{"email":"rin@example.com","username":"rin","password":"correct-horse"}`)
	if resp := doReq(t, app, first); resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("first register status = %d", resp.StatusCode)
	}

	second := jsonReq(http.MethodPost, "/auth/register", `{"email":"rin2@example.com","username":"rin","password":"correct-horse"}`)
	resp := doReq(t, app, second)
	if resp.StatusCode != fiber.StatusConflict {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusConflict)
	}
}

func TestAuthLogin_InvalidCredentials(t *testing.T) {
	t.Parallel()
	handler, _ := testAuthHandler(t)
	app := testAuthApp(handler)

	resp := doReq(t, app, jsonReq(http.MethodPost, "/auth/login", `{"username":"ghost","password":"whatever1"}`))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want %d, body = %s", resp.StatusCode, fiber.StatusUnauthorized, body)
	}
	env := parseError(t, body)
	if env.Error.Code == "" {
		t.Error("expected an error code")
	}
}

func TestAuthLogin_Success(t *testing.T) {
	t.Parallel()
	handler, _ := testAuthHandler(t)
	app := testAuthApp(handler)

	reg := jsonReq(http.MethodPost, "/auth/register", `{"email":"rin@example.com","username":"rin","password":"correct-horse"}`)
	if resp := doReq(t, app, reg); resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}

	login := jsonReq(http.MethodPost, "/auth/login", `{"username":"rin","password":"correct-horse"}`)
	resp := doReq(t, app, login)
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", resp.StatusCode, fiber.StatusOK, body)
	}
	env := parseSuccess(t, body)
	var out authResponse
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}
	if out.Username != "rin" {
		t.Errorf("username = %q, want %q", out.Username, "rin")
	}
}

func TestAuthLogout_Unauthenticated(t *testing.T) {
	t.Parallel()
	handler, _ := testAuthHandler(t)
	app := fiber.New()
	app.Use(fakeAuth(uuid.Nil))
	app.Post("/auth/logout", handler.Logout)

	resp := doReq(t, app, jsonReq(http.MethodPost, "/auth/logout", ""))
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}
