package core

import "github.com/google/uuid"

// NewID returns a random UUID string used as task identifier.
func NewID() string {
	return uuid.NewString()
}
