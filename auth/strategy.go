package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

const (
	// APIKeyHeader carries the shared secret for the StaticKey strategy.
	APIKeyHeader = "X-API-Key"

	authorizationHeader = "Authorization"
	realm               = "MCP Server"
)

// Strategy authenticates a single HTTP request. Implementations are NoAuth,
// StaticKey and Bearer.
type Strategy interface {
	// Name is a short identifier used in logs.
	Name() string
	// Authenticate returns the grant for the request (nil when the strategy
	// does not produce one) or an *Error.
	Authenticate(r *http.Request) (*Grant, error)

	sealed()
}

// NoAuth accepts every request.
type NoAuth struct{}

func (NoAuth) Name() string                               { return "none" }
func (NoAuth) Authenticate(*http.Request) (*Grant, error) { return nil, nil }
func (NoAuth) sealed()                                    {}

// StaticKey accepts requests whose X-API-Key header equals one of a fixed set
// of keys.
type StaticKey struct {
	keys [][]byte
}

// NewStaticKey returns a StaticKey over the non-empty entries of keys.
func NewStaticKey(keys []string) *StaticKey {
	s := &StaticKey{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			s.keys = append(s.keys, []byte(k))
		}
	}
	return s
}

// Len reports how many keys are configured.
func (s *StaticKey) Len() int { return len(s.keys) }

func (s *StaticKey) Name() string { return "static-key" }
func (s *StaticKey) sealed()      {}

func (s *StaticKey) Authenticate(r *http.Request) (*Grant, error) {
	challenge := fmt.Sprintf(`ApiKey realm="%s"`, realm)
	presented := r.Header.Get(APIKeyHeader)
	if presented == "" {
		return nil, &Error{Kind: ErrMissingCredential, Message: "Missing X-API-Key header", Challenge: challenge}
	}
	if !s.Check(presented) {
		return nil, &Error{Kind: ErrInvalidCredential, Message: "Invalid API key", Challenge: challenge}
	}
	return nil, nil
}

// Check compares presented against every configured key.
func (s *StaticKey) Check(presented string) bool {
	p := []byte(presented)
	match := 0
	for _, k := range s.keys {
		match |= subtle.ConstantTimeCompare(p, k)
	}
	return match == 1
}

// TokenVerifier validates a raw bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Grant, error)
}

// Bearer accepts requests carrying a token the verifier accepts.
type Bearer struct {
	verifier TokenVerifier
	scope    string
}

// NewBearer returns a Bearer strategy. requiredScopes are only advertised in
// challenges; enforcement belongs to the verifier.
func NewBearer(v TokenVerifier, requiredScopes ...string) *Bearer {
	return &Bearer{verifier: v, scope: strings.Join(requiredScopes, " ")}
}

func (b *Bearer) Name() string { return "bearer" }
func (b *Bearer) sealed()      {}

func (b *Bearer) Authenticate(r *http.Request) (*Grant, error) {
	header := r.Header.Get(authorizationHeader)
	if header == "" {
		return nil, &Error{
			Kind:      ErrMissingCredential,
			Message:   "Missing Authorization header",
			Challenge: buildBearerChallenge(realm, b.scopeParams(nil)),
		}
	}

	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, &Error{
			Kind:    ErrInvalidCredential,
			Message: "Invalid Authorization header format. Expected: Bearer <token>",
			Challenge: buildBearerChallenge(realm, b.scopeParams(map[string]string{
				"error":             "invalid_request",
				"error_description": "malformed bearer authorization header",
			})),
		}
	}

	g, err := b.verifier.Verify(r.Context(), parts[1])
	if err != nil {
		return nil, &Error{
			Kind:    ErrInvalidCredential,
			Message: "Invalid or expired access token",
			Challenge: buildBearerChallenge(realm, b.scopeParams(map[string]string{
				"error":             "invalid_token",
				"error_description": "the access token is invalid or expired",
			})),
			Cause: err,
		}
	}
	return g, nil
}

func (b *Bearer) scopeParams(params map[string]string) map[string]string {
	if b.scope == "" {
		return params
	}
	if params == nil {
		params = map[string]string{}
	}
	params["scope"] = b.scope
	return params
}

// buildBearerChallenge builds a standardized Bearer challenge header value.
// Format:
//
//	Bearer realm="<realm>", error="...", error_description="...", scope="..."
func buildBearerChallenge(realm string, params map[string]string) string {
	pieces := make([]string, 0, 1+len(params))
	esc := func(v string) string { return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) }
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	for _, k := range []string{"error", "error_description", "scope"} {
		if v, ok := params[k]; ok {
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(v)))
		}
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}
