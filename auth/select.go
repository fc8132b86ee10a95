package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ggoodman/redis-mcp-server/internal/jwtauth"
)

// Method names a configured authentication strategy.
type Method string

const (
	MethodDisabled  Method = "disabled"
	MethodStaticKey Method = "static-key"
	MethodBearer    Method = "bearer"
)

// ParseMethod maps configuration spellings onto a Method. The second result is
// false for unrecognized input.
func ParseMethod(s string) (Method, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "no-auth", "no_auth", "noauth", "disabled", "none":
		return MethodDisabled, true
	case "api-key", "api_key", "apikey", "static-key", "static_key":
		return MethodStaticKey, true
	case "oauth", "bearer":
		return MethodBearer, true
	default:
		return "", false
	}
}

// Config is the authentication section of the server configuration.
type Config struct {
	Method              string
	APIKeys             []string
	OAuthTenantID       string
	OAuthClientID       string
	OAuthRequiredScopes []string
	// OAuthAuthority overrides the login host used to derive issuer and JWKS.
	OAuthAuthority string
	// OAuthDiscovery resolves issuer and JWKS through OIDC discovery.
	OAuthDiscovery bool
}

// Select resolves the single Strategy used for the server's lifetime.
//
// Misconfiguration never fails startup: the server falls back to NoAuth and
// logs why. Operators must watch for auth.select.fallback events.
func Select(ctx context.Context, cfg Config, log *slog.Logger) Strategy {
	if log == nil {
		log = slog.Default()
	}

	method, ok := ParseMethod(cfg.Method)
	if !ok {
		log.ErrorContext(ctx, "auth.select.fallback",
			slog.String("method", cfg.Method),
			slog.String("reason", "unknown authentication method"))
		return NoAuth{}
	}

	switch method {
	case MethodStaticKey:
		s := NewStaticKey(cfg.APIKeys)
		if s.Len() == 0 {
			log.WarnContext(ctx, "auth.select.fallback",
				slog.String("method", string(method)),
				slog.String("reason", "no API keys configured"))
			return NoAuth{}
		}
		log.InfoContext(ctx, "auth.select.ok",
			slog.String("strategy", s.Name()),
			slog.Int("keys", s.Len()))
		return s

	case MethodBearer:
		if cfg.OAuthTenantID == "" || cfg.OAuthClientID == "" {
			log.WarnContext(ctx, "auth.select.fallback",
				slog.String("method", string(method)),
				slog.String("reason", "tenant id and client id are required"),
				slog.Bool("tenant_id_set", cfg.OAuthTenantID != ""),
				slog.Bool("client_id_set", cfg.OAuthClientID != ""))
			return NoAuth{}
		}

		jcfg := jwtauth.DefaultConfig()
		jcfg.TenantID = cfg.OAuthTenantID
		jcfg.ClientID = cfg.OAuthClientID
		jcfg.RequiredScopes = cfg.OAuthRequiredScopes
		if cfg.OAuthAuthority != "" {
			jcfg.Authority = cfg.OAuthAuthority
		}

		var (
			v   *jwtauth.Verifier
			err error
		)
		if cfg.OAuthDiscovery {
			v, err = jwtauth.NewFromDiscovery(ctx, jcfg)
		} else {
			v, err = jwtauth.New(ctx, jcfg)
		}
		if err != nil {
			log.ErrorContext(ctx, "auth.select.fallback",
				slog.String("method", string(method)),
				slog.String("reason", "bearer verifier construction failed"),
				slog.String("err", err.Error()))
			return NoAuth{}
		}

		log.InfoContext(ctx, "auth.select.ok",
			slog.String("strategy", "bearer"),
			slog.String("issuer", v.Issuer()),
			slog.Any("required_scopes", v.RequiredScopes()))
		return NewBearer(JWTVerifier(v), v.RequiredScopes()...)

	default:
		log.InfoContext(ctx, "auth.select.ok", slog.String("strategy", NoAuth{}.Name()))
		return NoAuth{}
	}
}

type jwtVerifier struct {
	v *jwtauth.Verifier
}

// JWTVerifier adapts a jwtauth.Verifier to TokenVerifier.
func JWTVerifier(v *jwtauth.Verifier) TokenVerifier {
	return jwtVerifier{v: v}
}

func (j jwtVerifier) Verify(ctx context.Context, token string) (*Grant, error) {
	g, err := j.v.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	return &Grant{
		ClientID:  g.ClientID,
		Subject:   g.Subject,
		Scopes:    g.Scopes,
		ExpiresAt: g.ExpiresAt,
	}, nil
}
