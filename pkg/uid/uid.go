package uid

import "github.com/google/uuid"

// New returns a fresh UUIDv4 string. Used for threads, messages, events,
// and request ids.
func New() string {
	return uuid.New().String()
}

// IsValid reports whether id parses as a UUID.
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
