package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxSessionNameLength is the longest session name a credential may carry.
	MaxSessionNameLength = 200
	// HighRoleThreshold marks roles above which callers should warn.
	HighRoleThreshold = 10
)

var (
	// EmailRegex validates email format
	EmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// UserIDRegex validates participant identifiers
	UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateSessionName validates the session (topic) name
func ValidateSessionName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("session name cannot be empty")
	}
	if utf8.RuneCountInString(name) > MaxSessionNameLength {
		return fmt.Errorf("session name is too long (max %d characters)", MaxSessionNameLength)
	}
	return nil
}

// ValidateRole validates a role type. The returned bool is true when the role
// is valid but unusually high.
func ValidateRole(role int) (bool, error) {
	if role < 0 {
		return false, fmt.Errorf("invalid role: %d. Role must be a non-negative integer", role)
	}
	return role > HighRoleThreshold, nil
}

// ValidateExpiryHours validates a credential lifetime expressed in hours
func ValidateExpiryHours(hours float64) error {
	if hours <= 0 || hours != hours {
		return fmt.Errorf("expiration must be a positive number of hours")
	}
	return nil
}

// ValidateEmail validates email address
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > 254 {
		return fmt.Errorf("email is too long (max 254 characters)")
	}
	if !EmailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateDimensions validates raster dimensions against an upper bound per side
func ValidateDimensions(width, height, maxSide int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("dimensions must be positive, got %dx%d", width, height)
	}
	if maxSide > 0 && (width > maxSide || height > maxSide) {
		return fmt.Errorf("dimensions %dx%d exceed max side %d", width, height, maxSide)
	}
	return nil
}

// ValidateUserID validates participant ID
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user ID is required")
	}
	if len(userID) > 100 {
		return fmt.Errorf("user ID is too long (max 100 characters)")
	}
	if !UserIDRegex.MatchString(userID) {
		return fmt.Errorf("invalid user ID format")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
