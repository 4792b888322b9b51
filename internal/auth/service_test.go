package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"

	"github.com/echochat/echochat-server/internal/config"
	"github.com/echochat/echochat-server/internal/disposable"
	"github.com/echochat/echochat-server/internal/realm"
	"github.com/echochat/echochat-server/internal/session"
	"github.com/echochat/echochat-server/internal/user"
	"github.com/echochat/echochat-server/internal/wire"
)

// fakeUserRepo implements user.Repository for unit tests, keyed by user ID with a secondary username index.
type fakeUserRepo struct {
	mu             sync.Mutex
	byID           map[uuid.UUID]*user.Credentials
	tombstones     map[string]bool // keyed by "type:hash"
	loginAttempts  int
	createErr      error
	lockoutCounts  map[uuid.UUID]int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		byID:          make(map[uuid.UUID]*user.Credentials),
		tombstones:    make(map[string]bool),
		lockoutCounts: make(map[uuid.UUID]int),
	}
}

func (r *fakeUserRepo) Create(ctx context.Context, params user.CreateParams) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return uuid.Nil, r.createErr
	}
	for _, c := range r.byID {
		if c.Email == params.Email {
			return uuid.Nil, user.ErrAlreadyExists
		}
	}
	id := uuid.New()
	r.byID[id] = &user.Credentials{
		User: user.User{
			ID:           id,
			Username:     params.Username,
			Email:        params.Email,
			RSAPublicKey: params.RSAPublicKey,
			CreatedAt:    time.Now(),
		},
		PasswordHash:           params.PasswordHash,
		RSAPrivateKeyEncrypted: params.RSAPrivateKeyEncrypted,
	}
	return id, nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	u := c.User
	return &u, nil
}

func (r *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*user.Credentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byID {
		if equalFold(c.Username, username) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *fakeUserRepo) GetCredentialsByID(ctx context.Context, id uuid.UUID) (*user.Credentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeUserRepo) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byID[id]; ok {
		c.EmailVerified = true
	}
	return nil
}

func (r *fakeUserRepo) RecordLoginAttempt(ctx context.Context, email, ipAddress string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loginAttempts++
	return nil
}

func (r *fakeUserRepo) RecordLoginSuccess(ctx context.Context, id uuid.UUID, ip string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byID[id]; ok {
		c.LastLoginAt = &at
		c.LastLoginIP = &ip
		c.LockoutCount = 0
		c.LockedUntil = nil
	}
	r.lockoutCounts[id] = 0
	return nil
}

func (r *fakeUserRepo) IncrementLockout(ctx context.Context, id uuid.UUID, lockUntil *time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lockoutCounts[id]++
	if c, ok := r.byID[id]; ok {
		c.LockoutCount = r.lockoutCounts[id]
		if lockUntil != nil {
			c.LockedUntil = lockUntil
		}
	}
	return r.lockoutCounts[id], nil
}

func (r *fakeUserRepo) Lock(ctx context.Context, id uuid.UUID, lockedUntil time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lockoutCounts[id] = 0
	if c, ok := r.byID[id]; ok {
		c.LockoutCount = 0
		c.LockedUntil = &lockedUntil
	}
	return nil
}

func (r *fakeUserRepo) ClearLockout(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lockoutCounts[id] = 0
	if c, ok := r.byID[id]; ok {
		c.LockoutCount = 0
		c.LockedUntil = nil
	}
	return nil
}

func (r *fakeUserRepo) UpdatePasswordHash(ctx context.Context, userID uuid.UUID, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byID[userID]; ok {
		c.PasswordHash = hash
	}
	return nil
}

func (r *fakeUserRepo) SetRecoveryPIN(ctx context.Context, userID uuid.UUID, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byID[userID]; ok {
		c.RecoveryPINHash = &hash
		c.RecoveryPINConfigured = true
	}
	return nil
}

func (r *fakeUserRepo) SetStepUpSecret(ctx context.Context, userID uuid.UUID, encryptedSecret *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byID[userID]; ok {
		c.StepUpSecretEncrypted = encryptedSecret
	}
	return nil
}

func (r *fakeUserRepo) DeleteWithTombstones(ctx context.Context, id uuid.UUID, tombstones []user.Tombstone) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return user.ErrNotFound
	}
	for _, t := range tombstones {
		r.tombstones[string(t.IdentifierType)+":"+t.HMACHash] = true
	}
	delete(r.byID, id)
	return nil
}

func (r *fakeUserRepo) CheckTombstone(ctx context.Context, identifierType user.TombstoneType, hmacHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tombstones[string(identifierType)+":"+hmacHash], nil
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// fakeSessionRepo implements session.Repository for unit tests.
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session.Session
	tokens   []session.Token
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[uuid.UUID]*session.Session)}
}

func (r *fakeSessionRepo) Create(ctx context.Context, userID uuid.UUID, fingerprint string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	s := &session.Session{
		ID:                   uuid.New(),
		UserID:               userID,
		CreatedAt:            now,
		LastActivityAt:       now,
		UserAgentFingerprint: fingerprint,
	}
	r.sessions[s.ID] = s
	return s, nil
}

func (r *fakeSessionRepo) Get(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSessionRepo) RecordActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.LastActivityAt = at
	}
	return nil
}

func (r *fakeSessionRepo) Terminate(ctx context.Context, id uuid.UUID, reason session.TerminationReason, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return session.ErrNotFound
	}
	if s.TerminatedAt == nil {
		s.TerminatedAt = &at
		s.TerminationReason = &reason
	}
	return nil
}

func (r *fakeSessionRepo) TerminateAllForUser(ctx context.Context, userID uuid.UUID, reason session.TerminationReason, at time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for _, s := range r.sessions {
		if s.UserID == userID && s.TerminatedAt == nil {
			s.TerminatedAt = &at
			s.TerminationReason = &reason
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

func (r *fakeSessionRepo) IdleSince(ctx context.Context, cutoff time.Time) ([]session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var idle []session.Session
	for _, s := range r.sessions {
		if s.TerminatedAt == nil && !s.LastActivityAt.After(cutoff) {
			idle = append(idle, *s)
		}
	}
	return idle, nil
}

func (r *fakeSessionRepo) RecordToken(ctx context.Context, t session.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, t)
	return nil
}

func (r *fakeSessionRepo) RevokeToken(ctx context.Context, jti uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.tokens {
		if r.tokens[i].JTI == jti {
			r.tokens[i].Revoked = true
		}
	}
	return nil
}

// fakeRealmRepo implements realm.Repository for unit tests, with a settable owner used by the account-deletion test.
type fakeRealmRepo struct {
	ownerID uuid.UUID
}

func (r *fakeRealmRepo) Get(ctx context.Context) (*realm.Config, error) {
	return &realm.Config{
		ID:      uuid.New(),
		Name:    "Test Realm",
		OwnerID: r.ownerID,
	}, nil
}

func (r *fakeRealmRepo) Update(ctx context.Context, params realm.UpdateParams) (*realm.Config, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeRealmRepo) Seed(ctx context.Context, name string, ownerID uuid.UUID) (*realm.Config, error) {
	r.ownerID = ownerID
	return r.Get(ctx)
}

// fakePublisher implements EventPublisher for unit tests, recording every published event.
type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	Type wire.DispatchEvent
	Data any
}

func (p *fakePublisher) Publish(ctx context.Context, eventType wire.DispatchEvent, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Type: eventType, Data: data})
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// fakeSender implements Sender for unit tests, recording the last verification send.
type fakeSender struct {
	mu       sync.Mutex
	sendErr  error
	lastTo   string
	sendCalls int
}

func (s *fakeSender) SendVerification(ctx context.Context, to, token, serverURL, serverName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendCalls++
	s.lastTo = to
	return s.sendErr
}

const testServerSecret = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
const testRecoveryPINKey = "4a7b39db70a9db3b10c442866b13f508235e36ce88e367decca4ba876a66c3d8"

func testConfig() *config.Config {
	return &config.Config{
		ServerName:                 "EchoChat",
		ServerURL:                  "https://echo.example.com",
		JWTSecret:                  "test-jwt-secret-at-least-32-characters-long",
		JWTAccessTTL:               15 * time.Minute,
		JWTRefreshTTL:              7 * 24 * time.Hour,
		SessionIdleTimeout:         30 * time.Minute,
		LockoutAttempts:            3,
		LockoutWindow:              15 * time.Minute,
		Argon2Memory:               64 * 1024,
		Argon2Iterations:           1,
		Argon2Parallelism:          1,
		Argon2SaltLength:           16,
		Argon2KeyLength:            32,
		ServerSecret:               testServerSecret,
		DeletionTombstoneUsernames: true,
		RecoveryPINTicketTTL:       5 * time.Minute,
		RecoveryPINEncryptionKey:   testRecoveryPINKey,
	}
}

// newTestService wires a Service against in-memory fakes and a miniredis-backed Valkey client.
func newTestService(t *testing.T) (*Service, *fakeUserRepo, *fakeSessionRepo, *fakeRealmRepo, *fakePublisher, *fakeSender) {
	t.Helper()
	_, rdb := setupMiniredis(t)

	users := newFakeUserRepo()
	sessions := newFakeSessionRepo()
	realmRepo := &fakeRealmRepo{}
	publisher := &fakePublisher{}
	sender := &fakeSender{}

	srv := httptest.NewServer(nil)
	t.Cleanup(srv.Close)
	bl := disposable.NewBlocklist(srv.URL, false)

	svc, err := NewService(users, sessions, realmRepo, rdb, testConfig(), bl, sender, publisher, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc, users, sessions, realmRepo, publisher, sender
}

func registerTestUser(t *testing.T, svc *Service) *AuthResult {
	t.Helper()
	res, err := svc.Register(context.Background(), RegisterRequest{
		Email:                  "alice@example.com",
		Username:               "alice",
		Password:               "correct-horse-battery",
		RSAPublicKey:           "pubkey",
		RSAPrivateKeyEncrypted: []byte("encrypted-blob"),
		Fingerprint:            "fp-1",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return res
}

func TestServiceRegister(t *testing.T) {
	t.Parallel()
	svc, users, _, _, _, _ := newTestService(t)

	res := registerTestUser(t, svc)
	if res.User.Username != "alice" {
		t.Errorf("User.Username = %q, want %q", res.User.Username, "alice")
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("Register() returned empty tokens")
	}
	if res.SessionID == uuid.Nil {
		t.Error("Register() returned nil SessionID")
	}
	if len(users.byID) != 1 {
		t.Errorf("users stored = %d, want 1", len(users.byID))
	}
}

func TestServiceRegisterDuplicateEmail(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, _ := newTestService(t)
	registerTestUser(t, svc)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "alice@example.com",
		Username:    "alice2",
		Password:    "correct-horse-battery",
		Fingerprint: "fp-2",
	})
	if !errors.Is(err, ErrEmailAlreadyTaken) {
		t.Fatalf("Register() duplicate email error = %v, want ErrEmailAlreadyTaken", err)
	}
}

func TestServiceRegisterInvalidPassword(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, _ := newTestService(t)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "bob@example.com",
		Username:    "bob",
		Password:    "short",
		Fingerprint: "fp-1",
	})
	if err == nil {
		t.Fatal("Register() with short password should return error")
	}
}

func TestServiceLoginSuccess(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, _ := newTestService(t)
	registerTestUser(t, svc)

	res, err := svc.Login(context.Background(), LoginRequest{
		Username:    "alice",
		Password:    "correct-horse-battery",
		IP:          "127.0.0.1",
		Fingerprint: "fp-2",
	})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("Login() returned empty tokens")
	}
}

func TestServiceLoginWrongPassword(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, _ := newTestService(t)
	registerTestUser(t, svc)

	_, err := svc.Login(context.Background(), LoginRequest{
		Username: "alice",
		Password: "totally-wrong",
		IP:       "127.0.0.1",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login() wrong password error = %v, want ErrInvalidCredentials", err)
	}
}

func TestServiceLoginUnknownUsername(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, _ := newTestService(t)

	_, err := svc.Login(context.Background(), LoginRequest{
		Username: "nobody",
		Password: "whatever12345",
		IP:       "127.0.0.1",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login() unknown username error = %v, want ErrInvalidCredentials", err)
	}
}

func TestServiceLoginLockout(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, _ := newTestService(t)
	registerTestUser(t, svc)

	for i := 0; i < 3; i++ {
		_, err := svc.Login(context.Background(), LoginRequest{
			Username: "alice",
			Password: "wrong-password",
			IP:       "127.0.0.1",
		})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("Login() attempt %d error = %v, want ErrInvalidCredentials", i, err)
		}
	}

	_, err := svc.Login(context.Background(), LoginRequest{
		Username: "alice",
		Password: "correct-horse-battery",
		IP:       "127.0.0.1",
	})
	if !errors.Is(err, ErrLoginLocked) {
		t.Fatalf("Login() after lockout threshold error = %v, want ErrLoginLocked", err)
	}
}

func TestServiceRefreshRotate(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, _ := newTestService(t)
	res := registerTestUser(t, svc)

	pair, err := svc.RefreshRotate(context.Background(), res.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshRotate() error = %v", err)
	}
	if pair.SessionID != res.SessionID {
		t.Errorf("RefreshRotate() SessionID = %v, want %v", pair.SessionID, res.SessionID)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("RefreshRotate() returned empty tokens")
	}

	// The old refresh token must not be valid after rotation.
	if _, err := svc.RefreshRotate(context.Background(), res.RefreshToken); !errors.Is(err, ErrRefreshTokenReused) {
		t.Fatalf("RefreshRotate() reused token error = %v, want ErrRefreshTokenReused", err)
	}
}

func TestServiceRefreshRotateTerminatedSession(t *testing.T) {
	t.Parallel()
	svc, _, sessions, _, _, _ := newTestService(t)
	res := registerTestUser(t, svc)

	if err := sessions.Terminate(context.Background(), res.SessionID, session.TerminationLogout, time.Now()); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}

	_, err := svc.RefreshRotate(context.Background(), res.RefreshToken)
	if !errors.Is(err, ErrSessionTerminated) {
		t.Fatalf("RefreshRotate() on terminated session error = %v, want ErrSessionTerminated", err)
	}
}

func TestServiceValidate(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, _ := newTestService(t)
	res := registerTestUser(t, svc)

	userID, sessionID, err := svc.Validate(context.Background(), res.AccessToken)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if userID != res.User.ID {
		t.Errorf("Validate() userID = %v, want %v", userID, res.User.ID)
	}
	if sessionID != res.SessionID {
		t.Errorf("Validate() sessionID = %v, want %v", sessionID, res.SessionID)
	}
}

func TestServiceValidateTerminatedSession(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, _ := newTestService(t)
	res := registerTestUser(t, svc)

	if err := svc.LogoutSession(context.Background(), res.User.ID, res.SessionID); err != nil {
		t.Fatalf("LogoutSession() error = %v", err)
	}

	_, _, err := svc.Validate(context.Background(), res.AccessToken)
	if !errors.Is(err, ErrSessionTerminated) {
		t.Fatalf("Validate() after logout error = %v, want ErrSessionTerminated", err)
	}
}

func TestServiceLogoutSessionPublishesForceLogout(t *testing.T) {
	t.Parallel()
	svc, _, _, _, publisher, _ := newTestService(t)
	res := registerTestUser(t, svc)

	if err := svc.LogoutSession(context.Background(), res.User.ID, res.SessionID); err != nil {
		t.Fatalf("LogoutSession() error = %v", err)
	}
	if publisher.count() != 1 {
		t.Fatalf("publisher events = %d, want 1", publisher.count())
	}
}

func TestServiceLogoutAll(t *testing.T) {
	t.Parallel()
	svc, _, _, _, publisher, _ := newTestService(t)
	res := registerTestUser(t, svc)

	// Rotate once first so there is a live refresh token to check for revocation below.
	second, err := svc.RefreshRotate(context.Background(), res.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshRotate() error = %v", err)
	}

	if err := svc.LogoutAll(context.Background(), res.User.ID); err != nil {
		t.Fatalf("LogoutAll() error = %v", err)
	}
	if publisher.count() != 1 {
		t.Fatalf("publisher events = %d, want 1 (single session terminated)", publisher.count())
	}

	if _, _, err := svc.Validate(context.Background(), res.AccessToken); !errors.Is(err, ErrSessionTerminated) {
		t.Errorf("Validate() after LogoutAll error = %v, want ErrSessionTerminated", err)
	}
	if _, err := svc.RefreshRotate(context.Background(), second.RefreshToken); err == nil {
		t.Error("RefreshRotate() after LogoutAll should fail, refresh tokens were revoked")
	}
}

func TestServiceEnforceIdle(t *testing.T) {
	t.Parallel()
	svc, _, sessions, _, publisher, _ := newTestService(t)
	res := registerTestUser(t, svc)

	// Force the session to look idle by rewinding its last-activity timestamp directly.
	sessions.mu.Lock()
	sessions.sessions[res.SessionID].LastActivityAt = time.Now().Add(-time.Hour)
	sessions.mu.Unlock()

	count, err := svc.EnforceIdle(context.Background(), time.Now().Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("EnforceIdle() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("EnforceIdle() count = %d, want 1", count)
	}
	if publisher.count() != 1 {
		t.Fatalf("publisher events = %d, want 1", publisher.count())
	}
}

func TestServiceVerifyUserPassword(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, _ := newTestService(t)
	res := registerTestUser(t, svc)

	if err := svc.VerifyUserPassword(context.Background(), res.User.ID, "correct-horse-battery"); err != nil {
		t.Fatalf("VerifyUserPassword() error = %v", err)
	}
	if err := svc.VerifyUserPassword(context.Background(), res.User.ID, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("VerifyUserPassword() wrong password error = %v, want ErrInvalidCredentials", err)
	}
}

func TestServiceRecoveryPINStepUp(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, _ := newTestService(t)
	res := registerTestUser(t, svc)

	if err := svc.SetRecoveryPIN(context.Background(), res.User.ID, "correct-horse-battery", "135790"); err != nil {
		t.Fatalf("SetRecoveryPIN() error = %v", err)
	}

	ticket, err := svc.RequestStepUp(context.Background(), res.User.ID, "135790", "")
	if err != nil {
		t.Fatalf("RequestStepUp() error = %v", err)
	}
	if ticket == "" {
		t.Fatal("RequestStepUp() returned empty ticket")
	}

	if err := svc.ConsumeStepUp(context.Background(), res.User.ID, ticket); err != nil {
		t.Fatalf("ConsumeStepUp() error = %v", err)
	}

	// The ticket is single use.
	if err := svc.ConsumeStepUp(context.Background(), res.User.ID, ticket); err == nil {
		t.Fatal("ConsumeStepUp() should fail on reuse")
	}
}

func TestServiceRequestStepUpWrongPIN(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, _ := newTestService(t)
	res := registerTestUser(t, svc)

	if err := svc.SetRecoveryPIN(context.Background(), res.User.ID, "correct-horse-battery", "135790"); err != nil {
		t.Fatalf("SetRecoveryPIN() error = %v", err)
	}

	_, err := svc.RequestStepUp(context.Background(), res.User.ID, "000000", "")
	if !errors.Is(err, ErrInvalidRecoveryPIN) {
		t.Fatalf("RequestStepUp() wrong PIN error = %v, want ErrInvalidRecoveryPIN", err)
	}
}

func TestServiceRequestStepUpNotConfigured(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, _ := newTestService(t)
	res := registerTestUser(t, svc)

	_, err := svc.RequestStepUp(context.Background(), res.User.ID, "135790", "")
	if !errors.Is(err, ErrRecoveryPINNotSet) {
		t.Fatalf("RequestStepUp() with no PIN configured error = %v, want ErrRecoveryPINNotSet", err)
	}
}

func TestServiceRequestStepUpWithTOTPEnrolled(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, _ := newTestService(t)
	res := registerTestUser(t, svc)

	if err := svc.SetRecoveryPIN(context.Background(), res.User.ID, "correct-horse-battery", "135790"); err != nil {
		t.Fatalf("SetRecoveryPIN() error = %v", err)
	}
	otpauthURL, err := svc.EnableStepUpTOTP(context.Background(), res.User.ID, "correct-horse-battery")
	if err != nil {
		t.Fatalf("EnableStepUpTOTP() error = %v", err)
	}
	key, err := otp.NewKeyFromURL(otpauthURL)
	if err != nil {
		t.Fatalf("parse otpauth URL = %v", err)
	}

	if _, err := svc.RequestStepUp(context.Background(), res.User.ID, "135790", ""); !errors.Is(err, ErrStepUpTOTPRequired) {
		t.Fatalf("RequestStepUp() missing TOTP code error = %v, want ErrStepUpTOTPRequired", err)
	}
	if _, err := svc.RequestStepUp(context.Background(), res.User.ID, "135790", "000000"); !errors.Is(err, ErrInvalidStepUpCode) {
		t.Fatalf("RequestStepUp() wrong TOTP code error = %v, want ErrInvalidStepUpCode", err)
	}

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatalf("generate TOTP code = %v", err)
	}
	ticket, err := svc.RequestStepUp(context.Background(), res.User.ID, "135790", code)
	if err != nil {
		t.Fatalf("RequestStepUp() with valid TOTP code error = %v", err)
	}
	if ticket == "" {
		t.Fatal("RequestStepUp() returned empty ticket")
	}

	if err := svc.DisableStepUpTOTP(context.Background(), res.User.ID, "correct-horse-battery"); err != nil {
		t.Fatalf("DisableStepUpTOTP() error = %v", err)
	}
	if _, err := svc.RequestStepUp(context.Background(), res.User.ID, "135790", ""); err != nil {
		t.Fatalf("RequestStepUp() after disabling TOTP error = %v", err)
	}
}

func TestServiceDeleteAccount(t *testing.T) {
	t.Parallel()
	svc, users, _, _, publisher, _ := newTestService(t)
	res := registerTestUser(t, svc)

	if err := svc.DeleteAccount(context.Background(), res.User.ID, "correct-horse-battery", ""); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}
	if _, ok := users.byID[res.User.ID]; ok {
		t.Error("DeleteAccount() should remove the user")
	}
	if publisher.count() != 1 {
		t.Fatalf("publisher events = %d, want 1", publisher.count())
	}

	if _, _, err := svc.Validate(context.Background(), res.AccessToken); err == nil {
		t.Error("Validate() after DeleteAccount should fail")
	}
}

func TestServiceDeleteAccountWrongPassword(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, _ := newTestService(t)
	res := registerTestUser(t, svc)

	err := svc.DeleteAccount(context.Background(), res.User.ID, "wrong-password", "")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("DeleteAccount() wrong password error = %v, want ErrInvalidCredentials", err)
	}
}

func TestServiceDeleteAccountRealmOwnerRefused(t *testing.T) {
	t.Parallel()
	svc, _, _, realmRepo, _, _ := newTestService(t)
	res := registerTestUser(t, svc)
	realmRepo.ownerID = res.User.ID

	err := svc.DeleteAccount(context.Background(), res.User.ID, "correct-horse-battery", "")
	if !errors.Is(err, ErrRealmOwner) {
		t.Fatalf("DeleteAccount() for realm owner error = %v, want ErrRealmOwner", err)
	}
}

func TestServiceRegisterSendsVerificationEmail(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _, sender := newTestService(t)
	registerTestUser(t, svc)

	if sender.sendCalls != 1 {
		t.Fatalf("sender.sendCalls = %d, want 1", sender.sendCalls)
	}
	if sender.lastTo != "alice@example.com" {
		t.Errorf("sender.lastTo = %q, want %q", sender.lastTo, "alice@example.com")
	}
}
