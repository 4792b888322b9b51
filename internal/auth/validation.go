package auth

import (
	"net/mail"
	"strings"
)

// ValidateEmail parses and normalizes an email address, returning the normalized form and domain. Returns
// ErrInvalidEmail if the format is invalid or the address is longer than 254 characters.
func ValidateEmail(email string) (normalized, domain string, err error) {
	addr, parseErr := mail.ParseAddress(email)
	if parseErr != nil {
		return "", "", ErrInvalidEmail
	}

	normalized = strings.ToLower(addr.Address)
	if len(normalized) > 254 {
		return "", "", ErrInvalidEmail
	}

	parts := strings.SplitN(normalized, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrInvalidEmail
	}

	return normalized, parts[1], nil
}

// ValidatePassword checks that a password is between 8 and 128 characters. Username validation lives in the user
// package, since username shape is a property of the User entity rather than the authentication flow.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return ErrPasswordTooShort
	}
	if len(password) > 128 {
		return ErrPasswordTooLong
	}
	return nil
}
