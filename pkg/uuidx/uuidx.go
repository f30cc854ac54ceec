// Package uuidx generates and checks the time-ordered ids used for sessions.
package uuidx

import "github.com/google/uuid"

// NewString returns a fresh version 7 UUID in canonical form.
func NewString() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Valid reports whether s parses as a version 7 UUID.
func Valid(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 7 && id.Variant() == uuid.RFC4122
}
