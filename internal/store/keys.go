package store

import "fmt"

// Persisted key layout: "chat:{userId}:{kind}". Values are UTF-8 JSON blobs
// except rate-limit counters, which are plain integers.
const keyNamespace = "chat"

// Kind identifies what a key holds for a given user.
type Kind string

const (
	KindContext   Kind = "context"    // bounded conversation history, 24h sliding TTL
	KindPause     Kind = "pause"      // pause record, TTL = pause duration
	KindRateLimit Kind = "rate-limit" // request counter, TTL = window length
	KindUserState Kind = "user-state" // per-user profile (push name, last seen)
)

// GlobalPauseUser is the sentinel user ID for a global pause record.
const GlobalPauseUser = "*"

// Key builds the storage key for a user and kind.
func Key(userID string, kind Kind) string {
	return fmt.Sprintf("%s:%s:%s", keyNamespace, userID, kind)
}

// KeyPattern returns the glob pattern matching every key of the given kind.
func KeyPattern(kind Kind) string {
	return fmt.Sprintf("%s:*:%s", keyNamespace, kind)
}

// UserIDFromKey extracts the user ID back out of a storage key, or "" if the
// key does not follow the layout. Used by admin listings built on Scan.
func UserIDFromKey(key string, kind Kind) string {
	prefix := keyNamespace + ":"
	suffix := ":" + string(kind)
	if len(key) <= len(prefix)+len(suffix) {
		return ""
	}
	if key[:len(prefix)] != prefix || key[len(key)-len(suffix):] != suffix {
		return ""
	}
	return key[len(prefix) : len(key)-len(suffix)]
}
