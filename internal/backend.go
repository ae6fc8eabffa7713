package internal

import (
	"context"

	"github.com/wordquizzle/wordquizzle/internal/core/session"
)

// Backend is an interface for a server that handles a specific set of client
// interactions as part of the game flow.
type Backend interface {
	// Identifier returns a uniquely identifying string.
	Identifier() string

	// Init is called before a Backend is started as a hook for the Backend to
	// perform any necessary initialization before it can accept clients.
	Init(ctx context.Context) error

	// Handle is the main entry point for processing client requests. It
	// receives one complete request and returns the response payload to be
	// framed and written back. Any recoverable failure must be expressed as
	// a response; a returned error abandons the session.
	Handle(ctx context.Context, s *session.Session, request []byte) ([]byte, error)
}
