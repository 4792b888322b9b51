package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/echochat/echochat-server/internal/config"
	"github.com/echochat/echochat-server/internal/disposable"
	"github.com/echochat/echochat-server/internal/realm"
	"github.com/echochat/echochat-server/internal/session"
	"github.com/echochat/echochat-server/internal/user"
	"github.com/echochat/echochat-server/internal/wire"
)

// verifyTokenBytes is the entropy, in bytes, of the opaque email-verification token Register generates via
// generateSecureToken.
const verifyTokenBytes = 32

// Sender sends transactional emails such as verification and password-reset messages. Implementations must be safe
// for concurrent use.
type Sender interface {
	SendVerification(ctx context.Context, to, token, serverURL, serverName string) error
}

// EventPublisher publishes a dispatch event to every live connection for a user, across workers, via the Pub/Sub
// Bridge. The concrete implementation lives in internal/gateway.
type EventPublisher interface {
	Publish(ctx context.Context, eventType wire.DispatchEvent, data any) error
}

// Service implements the Session & Token Authority: login, lockout, refresh rotation, revocation, and idle expiry.
// HTTP and realtime entry surfaces stay thin wrappers around it.
type Service struct {
	users      user.Repository
	sessions   session.Repository
	realm      realm.Repository
	redis      *redis.Client
	config     *config.Config
	blocklist  *disposable.Blocklist
	sender     Sender
	publisher  EventPublisher
	log        zerolog.Logger
	// dummyHash is a precomputed Argon2id hash used to keep login timing constant when a username is not found,
	// preventing account enumeration via response-time analysis.
	dummyHash string
}

// NewService creates a new Session & Token Authority. The sender parameter may be nil when SMTP is not configured; in
// that case, verification emails are silently skipped. It returns an error if the Argon2id configuration is invalid,
// since password hashing is fundamental to every auth operation.
func NewService(
	users user.Repository,
	sessions session.Repository,
	realmRepo realm.Repository,
	rdb *redis.Client,
	cfg *config.Config,
	bl *disposable.Blocklist,
	sender Sender,
	publisher EventPublisher,
	logger zerolog.Logger,
) (*Service, error) {
	dummy, err := HashPassword("echochat-dummy-password", cfg.Argon2Memory, cfg.Argon2Iterations, cfg.Argon2Parallelism, cfg.Argon2SaltLength, cfg.Argon2KeyLength)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	return &Service{
		users:     users,
		sessions:  sessions,
		realm:     realmRepo,
		redis:     rdb,
		config:    cfg,
		blocklist: bl,
		sender:    sender,
		publisher: publisher,
		log:       logger,
		dummyHash: dummy,
	}, nil
}

// RegisterRequest is the input for Service.Register. RSAPublicKey and RSAPrivateKeyEncrypted are generated entirely
// client-side; the server never sees the plaintext private key.
type RegisterRequest struct {
	Email                  string
	Username               string
	Password               string
	RSAPublicKey           string
	RSAPrivateKeyEncrypted []byte
	Fingerprint            string
}

// LoginRequest is the input for Service.Login.
type LoginRequest struct {
	Username    string
	Password    string
	IP          string
	Fingerprint string
}

// AuthResult is the output of Register and Login: the authenticated user plus a fresh token pair bound to a new
// AuthSession.
type AuthResult struct {
	User         *user.User
	SessionID    uuid.UUID
	AccessToken  string
	RefreshToken string
}

// TokenPair is the output of RefreshRotate.
type TokenPair struct {
	SessionID    uuid.UUID
	AccessToken  string
	RefreshToken string
}

// Register validates inputs, rejects disposable domains and tombstoned identifiers, creates the user, opens an
// AuthSession, and issues a bound token pair.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	email, domain, err := ValidateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	username := user.NormalizeUsername(req.Username)
	if err := user.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	blocked, err := s.blocklist.IsBlocked(ctx, domain)
	if err != nil {
		s.log.Warn().Err(err).Msg("Disposable email check failed")
	}
	if blocked {
		return nil, ErrDisposableEmail
	}

	emailHMAC, err := HMACIdentifier(email, s.config.ServerSecret)
	if err != nil {
		return nil, fmt.Errorf("compute email HMAC: %w", err)
	}
	if tombstoned, err := s.users.CheckTombstone(ctx, user.TombstoneEmail, emailHMAC); err != nil {
		return nil, fmt.Errorf("check email tombstone: %w", err)
	} else if tombstoned {
		return nil, ErrAccountTombstoned
	}

	usernameHMAC, err := HMACIdentifier(strings.ToLower(username), s.config.ServerSecret)
	if err != nil {
		return nil, fmt.Errorf("compute username HMAC: %w", err)
	}
	if tombstoned, err := s.users.CheckTombstone(ctx, user.TombstoneUsername, usernameHMAC); err != nil {
		return nil, fmt.Errorf("check username tombstone: %w", err)
	} else if tombstoned {
		return nil, ErrAccountTombstoned
	}

	hash, err := HashPassword(
		req.Password,
		s.config.Argon2Memory,
		s.config.Argon2Iterations,
		s.config.Argon2Parallelism,
		s.config.Argon2SaltLength,
		s.config.Argon2KeyLength,
	)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	userID, err := s.users.Create(ctx, user.CreateParams{
		Email:                  email,
		Username:               username,
		PasswordHash:           hash,
		RSAPublicKey:           req.RSAPublicKey,
		RSAPrivateKeyEncrypted: req.RSAPrivateKeyEncrypted,
	})
	if err != nil {
		if errors.Is(err, user.ErrAlreadyExists) {
			return nil, ErrEmailAlreadyTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if s.sender != nil {
		verifyToken, tokenErr := generateSecureToken(verifyTokenBytes)
		if tokenErr != nil {
			s.log.Warn().Err(tokenErr).Str("user_id", userID.String()).Msg("Failed to generate verification token")
		} else if sendErr := s.sender.SendVerification(ctx, email, verifyToken, s.config.ServerURL, s.config.ServerName); sendErr != nil {
			s.log.Error().Err(sendErr).Str("user_id", userID.String()).Msg("Failed to send verification email")
		}
	}

	s.log.Debug().Str("user_id", userID.String()).Msg("User registered")

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get registered user: %w", err)
	}

	result, err := s.issueTokens(ctx, u, req.Fingerprint)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Login verifies the username/password pair, enforces lockout, and on success opens a new AuthSession with a bound
// token pair. Invalid username and invalid password fail identically (ErrInvalidCredentials) to prevent enumeration.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	username := user.NormalizeUsername(req.Username)

	creds, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// Run a password comparison against a dummy hash anyway so username enumeration cannot be inferred
			// from response timing: a "user not found" that skips Argon2id entirely returns measurably faster.
			_, _ = VerifyPassword(req.Password, s.dummyHash)
			s.recordLoginAttempt(ctx, username, req.IP, false)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}

	now := time.Now()
	if creds.IsLocked(now) {
		return nil, ErrLoginLocked
	}

	match, err := VerifyPassword(req.Password, creds.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !match {
		s.failLogin(ctx, creds.ID, username, req.IP, now)
		return nil, ErrInvalidCredentials
	}

	// Lazy hash rotation: rehash with current parameters if the stored hash predates a parameter change.
	if NeedsRehash(creds.PasswordHash, s.config.Argon2Memory, s.config.Argon2Iterations, s.config.Argon2Parallelism, s.config.Argon2SaltLength, s.config.Argon2KeyLength) {
		if newHash, hashErr := HashPassword(req.Password, s.config.Argon2Memory, s.config.Argon2Iterations, s.config.Argon2Parallelism, s.config.Argon2SaltLength, s.config.Argon2KeyLength); hashErr == nil {
			if updateErr := s.users.UpdatePasswordHash(ctx, creds.ID, newHash); updateErr != nil {
				s.log.Warn().Err(updateErr).Str("user_id", creds.ID.String()).Msg("Failed to rotate password hash")
			}
		}
	}

	if err := s.users.RecordLoginSuccess(ctx, creds.ID, req.IP, now); err != nil {
		s.log.Warn().Err(err).Str("user_id", creds.ID.String()).Msg("Failed to record login success")
	}
	s.recordLoginAttempt(ctx, username, req.IP, true)

	return s.issueTokens(ctx, &creds.User, req.Fingerprint)
}

// failLogin increments the lockout counter and, once the configured threshold is crossed, sets LockedUntil and
// resets the counter so the next window starts clean.
func (s *Service) failLogin(ctx context.Context, userID uuid.UUID, username, ip string, now time.Time) {
	count, err := s.users.IncrementLockout(ctx, userID, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to increment lockout counter")
	}

	if count >= s.config.LockoutAttempts {
		lockedUntil := now.Add(s.config.LockoutWindow)
		if err := s.users.Lock(ctx, userID, lockedUntil); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to lock account after repeated failures")
		}
	}

	s.recordLoginAttempt(ctx, username, ip, false)
}

// RefreshRotate atomically consumes a refresh token and mints a new access+refresh pair bound to the same session. A
// reused or unknown token fails closed with ErrRefreshTokenReused; the two cases are not told apart.
func (s *Service) RefreshRotate(ctx context.Context, oldRefreshToken string) (*TokenPair, error) {
	newRefresh, userID, sessionID, err := RotateRefreshToken(ctx, s.redis, oldRefreshToken, s.config.JWTRefreshTTL)
	if err != nil {
		return nil, err
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session for refresh: %w", err)
	}
	if !sess.Active() {
		return nil, ErrSessionTerminated
	}

	accessToken, err := NewAccessToken(userID, sessionID, s.config.JWTSecret, s.config.JWTAccessTTL, s.config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("create access token: %w", err)
	}

	now := time.Now()
	if err := s.sessions.RecordToken(ctx, session.Token{
		JTI:       uuid.New(),
		SessionID: sessionID,
		Kind:      session.TokenRefresh,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.config.JWTRefreshTTL),
	}); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to record refresh token lineage")
	}
	if err := s.sessions.RecordActivity(ctx, sessionID, now); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to record session activity on refresh")
	}

	return &TokenPair{
		SessionID:    sessionID,
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
	}, nil
}

// Validate verifies an access token's signature and expiry, then confirms its bound AuthSession is still active. A
// token whose session was terminated (logout, password reset, or admin action) is rejected even if the JWT itself has
// not expired. On success it stamps session activity so idle enforcement sees a fresh timestamp.
func (s *Service) Validate(ctx context.Context, accessToken string) (userID, sessionID uuid.UUID, err error) {
	claims, err := ValidateAccessToken(accessToken, s.config.JWTSecret, s.config.ServerURL)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	userID, err = uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("parse subject from access token: %w", err)
	}
	sessionID = claims.SessionID

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return uuid.Nil, uuid.Nil, ErrSessionTerminated
		}
		return uuid.Nil, uuid.Nil, fmt.Errorf("get session for validate: %w", err)
	}
	if !sess.Active() {
		return uuid.Nil, uuid.Nil, ErrSessionTerminated
	}

	s.RecordActivity(ctx, sessionID)

	return userID, sessionID, nil
}

// RecordActivity stamps an AuthSession's last-activity timestamp. Failures are logged, not propagated: a missed
// activity stamp only risks an earlier-than-necessary idle timeout, never a security regression.
func (s *Service) RecordActivity(ctx context.Context, sessionID uuid.UUID) {
	if err := s.sessions.RecordActivity(ctx, sessionID, time.Now()); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to record session activity")
	}
}

// LogoutSession terminates a single AuthSession and emits a force_logout dispatch scoped to that session. Refresh
// tokens in Valkey are not deleted; RefreshRotate rejects the session's token because the session is no longer active.
func (s *Service) LogoutSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	if err := s.sessions.Terminate(ctx, sessionID, session.TerminationLogout, time.Now()); err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}
	s.publishForceLogout(ctx, userID, sessionID, "logout")
	return nil
}

// LogoutAll terminates every AuthSession belonging to a user, revokes every refresh token for that user in Valkey, and
// emits one force_logout dispatch per terminated session so every live connection is dropped.
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	terminated, err := s.sessions.TerminateAllForUser(ctx, userID, session.TerminationLogoutAll, time.Now())
	if err != nil {
		return fmt.Errorf("terminate all sessions: %w", err)
	}

	if err := RevokeAllRefreshTokens(ctx, s.redis, userID); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to revoke refresh tokens during logout-all")
	}

	for _, sessionID := range terminated {
		s.publishForceLogout(ctx, userID, sessionID, "logout_all")
	}
	return nil
}

// EnforceIdle scans for AuthSessions whose last activity is at or before cutoff, terminates each, and emits a
// force_logout dispatch. Intended to be called periodically (config.IdleSweepInterval) by a background task; the
// caller computes cutoff as now.Add(-config.SessionIdleTimeout).
func (s *Service) EnforceIdle(ctx context.Context, cutoff time.Time) (int, error) {
	idle, err := s.sessions.IdleSince(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("query idle sessions: %w", err)
	}

	now := time.Now()
	for _, sess := range idle {
		if err := s.sessions.Terminate(ctx, sess.ID, session.TerminationIdleTimeout, now); err != nil {
			s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to terminate idle session")
			continue
		}
		s.publishForceLogout(ctx, sess.UserID, sess.ID, "idle_timeout")
	}

	if len(idle) > 0 {
		s.log.Info().Int("count", len(idle)).Msg("Idle sessions terminated")
	}
	return len(idle), nil
}

// publishForceLogout emits wire.EventForceLogout for one session. Publish failures are logged; the session has
// already been terminated in Postgres, so Validate will reject the token on its next use regardless of whether the
// live connection is proactively dropped.
func (s *Service) publishForceLogout(ctx context.Context, userID, sessionID uuid.UUID, reason string) {
	if s.publisher == nil {
		return
	}
	data := wire.ForceLogoutData{
		UserID:    userID.String(),
		SessionID: sessionID.String(),
		Reason:    reason,
	}
	if err := s.publisher.Publish(ctx, wire.EventForceLogout, data); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to publish force_logout")
	}
}

// VerifyUserPassword confirms that the provided password matches the stored hash for the given user, without
// mutating anything. Used to gate sensitive workflows behind a password prompt.
func (s *Service) VerifyUserPassword(ctx context.Context, userID uuid.UUID, password string) error {
	creds, err := s.users.GetCredentialsByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get credentials for password verification: %w", err)
	}

	match, err := VerifyPassword(password, creds.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !match {
		return ErrInvalidCredentials
	}
	return nil
}

// SetRecoveryPIN hashes and stores a new recovery PIN verifier after confirming the user's current password.
func (s *Service) SetRecoveryPIN(ctx context.Context, userID uuid.UUID, password, pin string) error {
	if err := s.VerifyUserPassword(ctx, userID, password); err != nil {
		return err
	}

	hash, err := HashRecoveryPIN(pin, s.config.Argon2Memory, s.config.Argon2Iterations, s.config.Argon2Parallelism, s.config.Argon2SaltLength, s.config.Argon2KeyLength)
	if err != nil {
		return fmt.Errorf("hash recovery PIN: %w", err)
	}

	if err := s.users.SetRecoveryPIN(ctx, userID, hash); err != nil {
		return fmt.Errorf("set recovery PIN: %w", err)
	}
	return nil
}

// RequestStepUp verifies the recovery PIN and, for accounts that have enrolled a TOTP second factor, a current
// authenticator code layered on top of it, then issues a single-use step-up ticket valid for
// config.RecoveryPINTicketTTL. DeleteAccount is the only operation that consumes the ticket; LogoutAll does not take one.
func (s *Service) RequestStepUp(ctx context.Context, userID uuid.UUID, pin, totpCode string) (string, error) {
	creds, err := s.users.GetCredentialsByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get credentials for step-up: %w", err)
	}
	if creds.RecoveryPINHash == nil {
		return "", ErrRecoveryPINNotSet
	}

	match, err := VerifyRecoveryPIN(pin, *creds.RecoveryPINHash)
	if err != nil {
		return "", fmt.Errorf("verify recovery PIN: %w", err)
	}
	if !match {
		return "", ErrInvalidRecoveryPIN
	}

	if creds.StepUpSecretEncrypted != nil {
		if totpCode == "" {
			return "", ErrStepUpTOTPRequired
		}
		secret, err := DecryptStepUpSecret(*creds.StepUpSecretEncrypted, s.config.RecoveryPINEncryptionKey)
		if err != nil {
			return "", fmt.Errorf("decrypt step-up secret: %w", err)
		}
		if !ValidateStepUpCode(totpCode, secret) {
			return "", ErrInvalidStepUpCode
		}
	}

	ticket, err := CreateStepUpTicket(ctx, s.redis, userID, s.config.RecoveryPINTicketTTL)
	if err != nil {
		return "", fmt.Errorf("create step-up ticket: %w", err)
	}
	return ticket, nil
}

// EnableStepUpTOTP issues a fresh step-up TOTP secret for the user after confirming their current password, encrypts
// it at rest, and stores it. It returns the otpauth:// URL so the caller can render an enrollment QR code; the raw
// secret is never persisted in plaintext.
func (s *Service) EnableStepUpTOTP(ctx context.Context, userID uuid.UUID, password string) (string, error) {
	if !s.config.RecoveryPINConfigured() {
		return "", ErrRecoveryPINNotSet
	}
	creds, err := s.users.GetCredentialsByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get credentials for step-up enrollment: %w", err)
	}
	if err := s.VerifyUserPassword(ctx, userID, password); err != nil {
		return "", err
	}

	key, err := GenerateStepUpSecret(s.config.ServerName, creds.Username)
	if err != nil {
		return "", fmt.Errorf("generate step-up secret: %w", err)
	}

	encrypted, err := EncryptStepUpSecret(key.Secret(), s.config.RecoveryPINEncryptionKey)
	if err != nil {
		return "", fmt.Errorf("encrypt step-up secret: %w", err)
	}
	if err := s.users.SetStepUpSecret(ctx, userID, &encrypted); err != nil {
		return "", fmt.Errorf("store step-up secret: %w", err)
	}
	return key.String(), nil
}

// DisableStepUpTOTP removes the user's step-up TOTP secret after confirming their current password, falling back to
// the recovery PIN alone for future step-up checks.
func (s *Service) DisableStepUpTOTP(ctx context.Context, userID uuid.UUID, password string) error {
	if err := s.VerifyUserPassword(ctx, userID, password); err != nil {
		return err
	}
	if err := s.users.SetStepUpSecret(ctx, userID, nil); err != nil {
		return fmt.Errorf("clear step-up secret: %w", err)
	}
	return nil
}

// ConsumeStepUp validates a step-up ticket for the given user and consumes it so it cannot be replayed.
func (s *Service) ConsumeStepUp(ctx context.Context, userID uuid.UUID, ticket string) error {
	ticketUserID, err := ConsumeStepUpTicket(ctx, s.redis, ticket)
	if err != nil {
		return err
	}
	if ticketUserID != userID {
		return ErrInvalidToken
	}
	return nil
}

// DeleteAccount verifies the user's password and step-up ticket, refuses to delete the realm owner, tombstones the
// email (and optionally the username), and deletes the account along with all of its sessions and tokens.
func (s *Service) DeleteAccount(ctx context.Context, userID uuid.UUID, password, stepUpTicket string) error {
	creds, err := s.users.GetCredentialsByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get credentials for account deletion: %w", err)
	}

	match, err := VerifyPassword(password, creds.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password for account deletion: %w", err)
	}
	if !match {
		return ErrInvalidCredentials
	}

	if s.config.RecoveryPINConfigured() && creds.RecoveryPINHash != nil {
		if err := s.ConsumeStepUp(ctx, userID, stepUpTicket); err != nil {
			return err
		}
	}

	cfg, err := s.realm.Get(ctx)
	if err != nil {
		return fmt.Errorf("get realm config: %w", err)
	}
	if cfg.OwnerID == userID {
		return ErrRealmOwner
	}

	tombstones := make([]user.Tombstone, 0, 2)

	emailHMAC, err := HMACIdentifier(creds.Email, s.config.ServerSecret)
	if err != nil {
		return fmt.Errorf("compute email HMAC: %w", err)
	}
	tombstones = append(tombstones, user.Tombstone{
		IdentifierType: user.TombstoneEmail,
		HMACHash:       emailHMAC,
	})

	if s.config.DeletionTombstoneUsernames {
		usernameHMAC, err := HMACIdentifier(strings.ToLower(creds.Username), s.config.ServerSecret)
		if err != nil {
			return fmt.Errorf("compute username HMAC: %w", err)
		}
		tombstones = append(tombstones, user.Tombstone{
			IdentifierType: user.TombstoneUsername,
			HMACHash:       usernameHMAC,
		})
	}

	if err := s.users.DeleteWithTombstones(ctx, userID, tombstones); err != nil {
		return fmt.Errorf("delete user with tombstones: %w", err)
	}

	terminated, err := s.sessions.TerminateAllForUser(ctx, userID, session.TerminationAdminAction, time.Now())
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to terminate sessions after account deletion")
	}
	if err := RevokeAllRefreshTokens(ctx, s.redis, userID); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to revoke refresh tokens after account deletion")
	}
	for _, sessionID := range terminated {
		s.publishForceLogout(ctx, userID, sessionID, "account_deleted")
	}

	s.log.Info().Str("user_id", userID.String()).Msg("Account deleted")
	return nil
}

// issueTokens opens a new AuthSession for the user and mints a bound access+refresh pair, recording both in the
// lineage audit trail.
func (s *Service) issueTokens(ctx context.Context, u *user.User, fingerprint string) (*AuthResult, error) {
	sess, err := s.sessions.Create(ctx, u.ID, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	accessToken, err := NewAccessToken(u.ID, sess.ID, s.config.JWTSecret, s.config.JWTAccessTTL, s.config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("create access token: %w", err)
	}

	refreshToken, err := CreateRefreshToken(ctx, s.redis, u.ID, sess.ID, s.config.JWTRefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("create refresh token: %w", err)
	}

	now := time.Now()
	if err := s.sessions.RecordToken(ctx, session.Token{
		JTI:       uuid.New(),
		SessionID: sess.ID,
		Kind:      session.TokenAccess,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.config.JWTAccessTTL),
	}); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to record access token lineage")
	}
	if err := s.sessions.RecordToken(ctx, session.Token{
		JTI:       uuid.New(),
		SessionID: sess.ID,
		Kind:      session.TokenRefresh,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.config.JWTRefreshTTL),
	}); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to record refresh token lineage")
	}

	return &AuthResult{
		User:         u,
		SessionID:    sess.ID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

func (s *Service) recordLoginAttempt(ctx context.Context, username, ip string, success bool) {
	if err := s.users.RecordLoginAttempt(ctx, username, ip, success); err != nil {
		s.log.Warn().Err(err).Msg("Failed to record login attempt")
	}
}

func generateSecureToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
