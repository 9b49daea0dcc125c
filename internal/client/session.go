package client

import (
	"time"

	"github.com/google/uuid"
)

// Session identifies one logical conversation with the backend. The id stays
// stable until an explicit reset; a reset always produces a new Session and a
// new transport, never a mutation of the old one.
type Session struct {
	ID        string
	CreatedAt time.Time
}

// NewSession creates a session with the given id, generating a random one
// when id is empty.
func NewSession(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
	}
}
