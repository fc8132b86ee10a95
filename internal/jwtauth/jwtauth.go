package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultAuthority is the Microsoft identity platform login host.
const DefaultAuthority = "https://login.microsoftonline.com"

// Config controls validation behavior for access tokens issued by an
// Entra-style tenant.
type Config struct {
	TenantID       string
	ClientID       string
	RequiredScopes []string

	// Authority is the login host. Defaults to DefaultAuthority.
	Authority string
	// Issuer and JWKSURL override the values derived from Authority and
	// TenantID. Discovery fills them when NewFromDiscovery is used.
	Issuer  string
	JWKSURL string

	AllowedAlgs []string
	Leeway      time.Duration
}

// DefaultConfig returns a Config with safe defaults for algorithm and leeway.
func DefaultConfig() *Config {
	return &Config{
		Authority:   DefaultAuthority,
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

func (c *Config) normalize() error {
	if c.TenantID == "" {
		return errors.New("tenant id is required")
	}
	if c.ClientID == "" {
		return errors.New("client id is required")
	}
	if c.Authority == "" {
		c.Authority = DefaultAuthority
	}
	c.Authority = strings.TrimRight(c.Authority, "/")
	if c.Issuer == "" {
		c.Issuer = fmt.Sprintf("%s/%s/v2.0", c.Authority, c.TenantID)
	}
	if c.JWKSURL == "" {
		c.JWKSURL = fmt.Sprintf("%s/%s/discovery/v2.0/keys", c.Authority, c.TenantID)
	}
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	return nil
}

// Audiences returns the accepted audience values in match order.
func (c *Config) Audiences() []string {
	return []string{"api://" + c.ClientID, c.ClientID}
}

// Verifier validates bearer access tokens.
type Verifier struct {
	cfg     Config
	keyfunc jwt.Keyfunc
}

var (
	// ErrUnauthorized indicates that the access token failed validation and the
	// request should be treated as unauthenticated. Every other error returned
	// by Verify wraps it.
	ErrUnauthorized = errors.New("jwtauth: unauthorized")

	ErrExpired           = fmt.Errorf("%w: token expired", ErrUnauthorized)
	ErrAudience          = fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	ErrIssuer            = fmt.Errorf("%w: issuer mismatch", ErrUnauthorized)
	ErrInvalidToken      = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	ErrInsufficientScope = fmt.Errorf("%w: insufficient_scope", ErrUnauthorized)
	// ErrVerifier reports an unexpected failure inside the verifier itself.
	ErrVerifier = fmt.Errorf("%w: verifier error", ErrUnauthorized)
)

// New constructs a Verifier that fetches signing keys from the tenant's JWKS
// endpoint. Keys are cached and refreshed in the background until ctx ends.
func New(ctx context.Context, cfg *Config) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	c := *cfg
	if err := c.normalize(); err != nil {
		return nil, err
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{c.JWKSURL})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return NewWithKeyfunc(&c, kf.Keyfunc)
}

// NewFromDiscovery performs OIDC discovery against the tenant's v2.0 issuer to
// learn the issuer and jwks_uri, then behaves like New.
func NewFromDiscovery(ctx context.Context, cfg *Config) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	c := *cfg
	if err := c.normalize(); err != nil {
		return nil, err
	}

	provider, err := oidc.NewProvider(ctx, c.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer  string `json:"issuer"`
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}
	c.JWKSURL = meta.JwksURI
	if meta.Issuer != "" {
		c.Issuer = meta.Issuer
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{c.JWKSURL})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return NewWithKeyfunc(&c, kf.Keyfunc)
}

// NewWithKeyfunc builds a Verifier around an existing key lookup.
func NewWithKeyfunc(cfg *Config, kf jwt.Keyfunc) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if kf == nil {
		return nil, errors.New("keyfunc is required")
	}
	c := *cfg
	if err := c.normalize(); err != nil {
		return nil, err
	}
	c.RequiredScopes = append([]string(nil), c.RequiredScopes...)
	return &Verifier{
		cfg: c,
		keyfunc: func(t *jwt.Token) (any, error) {
			if alg := t.Method.Alg(); !slices.Contains(c.AllowedAlgs, alg) {
				return nil, fmt.Errorf("disallowed alg: %s", alg)
			}
			return kf(t)
		},
	}, nil
}

// Issuer returns the expected token issuer.
func (v *Verifier) Issuer() string { return v.cfg.Issuer }

// RequiredScopes returns the configured scope requirement.
func (v *Verifier) RequiredScopes() []string {
	return append([]string(nil), v.cfg.RequiredScopes...)
}

// Grant is the result of a successful verification.
type Grant struct {
	ClientID  string
	Subject   string
	Audience  string
	Scopes    []string
	ExpiresAt time.Time
}

// Verify checks signature, expiry, issuer, audience and scopes of tok.
func (v *Verifier) Verify(ctx context.Context, tok string) (*Grant, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithLeeway(v.cfg.Leeway),
	)

	parsed, err := parser.Parse(tok, v.keyfunc)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type %T", ErrVerifier, parsed.Claims)
	}

	aud, ok := matchAudience(claims["aud"], v.cfg.Audiences())
	if !ok {
		return nil, ErrAudience
	}

	scopes := grantedScopes(claims)
	if len(v.cfg.RequiredScopes) > 0 && !scopesSatisfied(scopes, v.cfg.RequiredScopes) {
		return nil, fmt.Errorf("%w: have %v, want %v", ErrInsufficientScope, scopes, v.cfg.RequiredScopes)
	}

	g := &Grant{
		ClientID: clientID(claims, v.cfg.ClientID),
		Audience: aud,
		Scopes:   scopes,
	}
	g.Subject, _ = claims["sub"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		g.ExpiresAt = exp.Time
	}
	return g, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %v", ErrIssuer, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", ErrAudience, err)
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	default:
		return fmt.Errorf("%w: %v", ErrVerifier, err)
	}
}

// matchAudience returns the first accepted audience present in the token.
func matchAudience(aud any, wants []string) (string, bool) {
	for _, want := range wants {
		if audContains(aud, want) {
			return want, true
		}
	}
	return "", false
}

func audContains(aud any, want string) bool {
	switch v := aud.(type) {
	case string:
		return v == want
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && s == want {
				return true
			}
		}
	case []string:
		return slices.Contains(v, want)
	}
	return false
}

// clientID prefers appid (v1 tokens), then azp (v2 tokens), then the
// configured application id.
func clientID(claims jwt.MapClaims, fallback string) string {
	for _, name := range []string{"appid", "azp"} {
		if s, _ := claims[name].(string); s != "" {
			return s
		}
	}
	return fallback
}
