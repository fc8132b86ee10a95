// Package authtest provides test doubles for the auth package.
package authtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ggoodman/redis-mcp-server/auth"
	"github.com/ggoodman/redis-mcp-server/internal/jwtauth"
)

// Verifier is an in-memory auth.TokenVerifier that accepts a fixed set of
// tokens.
type Verifier struct {
	mu     sync.RWMutex
	grants map[string]*auth.Grant
}

var _ auth.TokenVerifier = (*Verifier)(nil)

// NewVerifier creates an empty Verifier.
func NewVerifier() *Verifier {
	return &Verifier{grants: map[string]*auth.Grant{}}
}

// Allow makes token verify to a grant for clientID with the given scopes.
func (v *Verifier) Allow(token, clientID string, scopes ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.grants[token] = &auth.Grant{ClientID: clientID, Scopes: append([]string(nil), scopes...)}
}

// Verify implements auth.TokenVerifier. Unknown tokens fail with
// jwtauth.ErrInvalidToken.
func (v *Verifier) Verify(_ context.Context, token string) (*auth.Grant, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	g, ok := v.grants[token]
	if !ok {
		return nil, fmt.Errorf("%w: unknown test token", jwtauth.ErrInvalidToken)
	}
	dup := *g
	return &dup, nil
}
