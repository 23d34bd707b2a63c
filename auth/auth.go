// Package auth is the actor-authentication boundary. Identity issuance is
// an external concern; this package only validates presented bearer
// credentials and resolves them to an actor id.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized indicates authentication failed or no valid credentials
// were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ActorInfo represents an authenticated actor. Implementations are
// lightweight and safe for concurrent use.
type ActorInfo interface {
	// ActorID returns the unique identifier of the actor.
	ActorID() string
}

// Authenticator validates bearer tokens and returns the associated actor.
// It returns ErrUnauthorized for invalid credentials.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (ActorInfo, error)
}

type actorInfo string

func (a actorInfo) ActorID() string { return string(a) }
