// Package realm models the single, server-wide EchoChat realm record (name, description, owner, global
// announcement banner).
package realm

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the realm package.
var (
	ErrNotFound          = errors.New("realm config not found")
	ErrNameLength        = errors.New("name must be between 1 and 100 characters")
	ErrDescriptionLength = errors.New("description must be 1024 characters or fewer")
	ErrAnnouncementLength = errors.New("announcement must be 1024 characters or fewer")
)

// Config holds the realm-wide configuration read from the database.
type Config struct {
	ID                 uuid.UUID
	Name               string
	Description        string
	OwnerID            uuid.UUID
	GlobalAnnouncement *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// UpdateParams groups the optional fields for updating the realm configuration.
type UpdateParams struct {
	Name               *string
	Description        *string
	GlobalAnnouncement *string
}

// ValidateName checks that a non-nil name is between 1 and 100 characters (runes) after trimming whitespace. On
// success the pointed-to value is replaced with the trimmed result.
func ValidateName(name *string) error {
	if name == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*name)
	if n := utf8.RuneCountInString(trimmed); n < 1 || n > 100 {
		return ErrNameLength
	}
	*name = trimmed
	return nil
}

// ValidateDescription checks that a non-nil description is 1024 characters (runes) or fewer.
func ValidateDescription(desc *string) error {
	if desc == nil {
		return nil
	}
	if utf8.RuneCountInString(*desc) > 1024 {
		return ErrDescriptionLength
	}
	return nil
}

// ValidateAnnouncement checks that a non-nil global announcement is 1024 characters (runes) or fewer. A pointer to
// an empty string clears the announcement.
func ValidateAnnouncement(announcement *string) error {
	if announcement == nil {
		return nil
	}
	if utf8.RuneCountInString(*announcement) > 1024 {
		return ErrAnnouncementLength
	}
	return nil
}

// Repository defines the data-access contract for the realm configuration.
type Repository interface {
	Get(ctx context.Context) (*Config, error)
	Update(ctx context.Context, params UpdateParams) (*Config, error)
	Seed(ctx context.Context, name string, ownerID uuid.UUID) (*Config, error)
}
