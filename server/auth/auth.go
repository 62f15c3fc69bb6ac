// Package auth provides interfaces and types for account authentication.
package auth

import (
	"time"
)

// Level is the degree of authentication of a connection.
type Level int

const (
	// LevelNone is an unauthenticated connection.
	LevelNone Level = iota
	// LevelAuth is a connection with a verified identity bound to it.
	LevelAuth
)

// String implements Stringer interface for Level.
func (l Level) String() string {
	switch l {
	case LevelAuth:
		return "auth"
	default:
		return "none"
	}
}

// Rec is an authentication record produced by a successful credential check.
type Rec struct {
	// Verified subject of the credential, the account email.
	Subject string
	// Credential expiration time.
	Expires time.Time
}

// Handler is the interface which auth providers must implement.
type Handler interface {
	// Init initializes the handler from a JSON config string.
	Init(jsonconf string) error

	// Authenticate checks validity of the provided credential and returns
	// the verified record. The credential may carry an optional "Bearer "
	// prefix. Fails with types.ErrExpired or types.ErrFailed; never
	// downgrades to an anonymous record.
	Authenticate(secret string) (*Rec, error)

	// GenSecret generates a new credential for the given record. Used by the
	// login service and by tests.
	GenSecret(rec *Rec) (string, time.Time, error)
}
