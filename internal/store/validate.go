package store

import (
	"fmt"
	"time"
)

// MaxUserIDLength is the maximum allowed length for user identifier strings
// (JID-derived, so well under this in practice).
const MaxUserIDLength = 255

// MaxBodyBytes caps a single message body before it is persisted.
const MaxBodyBytes = 64 * 1024

// ValidateUserID checks that a user identifier is non-empty and bounded.
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty user identifier", ErrInvalidArgument)
	}
	if len(id) > MaxUserIDLength {
		return fmt.Errorf("%w: user identifier too long: %d chars (max %d)", ErrInvalidArgument, len(id), MaxUserIDLength)
	}
	return nil
}

// ValidateTTL rejects negative TTLs. Zero means "no expiry".
func ValidateTTL(ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("%w: negative ttl %s", ErrInvalidArgument, ttl)
	}
	return nil
}

// ValidateBody rejects oversized message bodies before any network call.
func ValidateBody(body string) error {
	if len(body) > MaxBodyBytes {
		return fmt.Errorf("%w: message body too large: %d bytes (max %d)", ErrInvalidArgument, len(body), MaxBodyBytes)
	}
	return nil
}
