package auth

import "errors"

// Sentinel errors for the auth package.
var (
	// ErrRefreshTokenReused is returned when a consumed refresh token is presented again, indicating potential token
	// theft or a parent-of-already-consumed lineage.
	ErrRefreshTokenReused   = errors.New("refresh token reused")
	ErrInvalidEmail         = errors.New("invalid email format")
	ErrPasswordTooShort     = errors.New("password must be at least 8 characters")
	ErrPasswordTooLong      = errors.New("password must be at most 128 characters")
	ErrInvalidCredentials   = errors.New("invalid username or password")
	ErrDisposableEmail      = errors.New("disposable email addresses are not allowed")
	ErrEmailAlreadyTaken    = errors.New("email or username already taken")
	ErrInvalidToken         = errors.New("invalid or expired token")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRecoveryPINRequired  = errors.New("recovery PIN step-up is required")
	ErrInvalidRecoveryPIN   = errors.New("invalid recovery PIN")
	ErrRecoveryPINNotSet    = errors.New("no recovery PIN configured on this account")
	ErrLoginLocked          = errors.New("account is temporarily locked after repeated failed logins")
	ErrSessionTerminated    = errors.New("session was terminated")
	ErrRealmOwner           = errors.New("the realm owner cannot delete their account")
	ErrAccountTombstoned    = errors.New("email or username was previously used by a deleted account")
	ErrStepUpTOTPRequired   = errors.New("a step-up authenticator code is required")
	ErrInvalidStepUpCode    = errors.New("invalid step-up authenticator code")
)
