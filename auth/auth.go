package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthenticated indicates the request carried no acceptable credential.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrMissingCredential means the expected header was absent.
	ErrMissingCredential = fmt.Errorf("%w: missing credential", ErrUnauthenticated)
	// ErrInvalidCredential means a credential was presented and rejected.
	ErrInvalidCredential = fmt.Errorf("%w: invalid credential", ErrUnauthenticated)
)

// Error is a rejected authentication attempt. Message is safe to return to the
// caller; Cause holds the detailed reason for logs.
type Error struct {
	Kind      error
	Message   string
	Challenge string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// Grant describes a verified bearer token. It lives only as long as the
// request it was attached to.
type Grant struct {
	ClientID  string
	Subject   string
	Scopes    []string
	ExpiresAt time.Time
}

type grantKey struct{}

// WithGrant returns a copy of ctx carrying g.
func WithGrant(ctx context.Context, g *Grant) context.Context {
	return context.WithValue(ctx, grantKey{}, g)
}

// GrantFromContext returns the Grant attached by the Bearer strategy, if any.
func GrantFromContext(ctx context.Context) (*Grant, bool) {
	g, ok := ctx.Value(grantKey{}).(*Grant)
	return g, ok && g != nil
}
