package auth

import (
	"fmt"
)

// Source records where a credential was resolved from.
type Source string

const (
	SourceEnvironment Source = "environment"
	SourceConfigured  Source = "configured"
	SourceOAuth       Source = "oauth"
)

// Credential is a validated control-plane bearer token. It lives for the
// process lifetime and is never written to disk.
type Credential struct {
	Token    string
	Source   Source
	Username string
}

// Reason classifies why credential acquisition failed.
type Reason string

const (
	// ReasonNone means no credential source produced a token.
	ReasonNone Reason = "no credential source available"
	// ReasonTimeout means the OAuth callback was never received.
	ReasonTimeout Reason = "authorization callback not received in time"
	// ReasonInvalid means a token was obtained but rejected by the
	// identity endpoint.
	ReasonInvalid Reason = "token rejected by identity endpoint"
)

// AuthError is returned when no credential could be acquired. It is
// always fatal and always precedes any billable action.
type AuthError struct {
	Reason Reason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
