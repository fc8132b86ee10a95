package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/ggoodman/redis-mcp-server/internal/jsonrpc"
	"github.com/ggoodman/redis-mcp-server/internal/jwtauth"
	"github.com/ggoodman/redis-mcp-server/internal/logctx"
)

// Middleware enforces s on every request except those whose path is listed in
// exempt. Rejections never reach next.
func Middleware(s Strategy, log *slog.Logger, exempt ...string) func(http.Handler) http.Handler {
	log = logctx.Wrap(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(exempt, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			grant, err := s.Authenticate(r)
			if err != nil {
				var ae *Error
				if !errors.As(err, &ae) {
					ae = &Error{Kind: ErrInvalidCredential, Message: "Authentication failed", Cause: err}
				}
				log.WarnContext(ctx, "auth.check.fail",
					slog.String("strategy", s.Name()),
					slog.String("reason", failureReason(ae)),
					slog.String("err", ae.Error()))
				writeUnauthenticated(w, ae)
				return
			}

			ad := &logctx.AuthData{Strategy: s.Name()}
			if grant != nil {
				ad.ClientID = grant.ClientID
				ctx = WithGrant(ctx, grant)
			}
			ctx = logctx.WithAuthData(ctx, ad)
			if grant != nil {
				log.InfoContext(ctx, "auth.check.ok", slog.Any("scopes", grant.Scopes))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// failureReason names the verifier outcome for logs.
func failureReason(e *Error) string {
	switch {
	case errors.Is(e, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(e, jwtauth.ErrExpired):
		return "expired"
	case errors.Is(e, jwtauth.ErrAudience):
		return "audience"
	case errors.Is(e, jwtauth.ErrIssuer):
		return "issuer"
	case errors.Is(e, jwtauth.ErrInsufficientScope):
		return "insufficient_scope"
	case errors.Is(e, jwtauth.ErrInvalidToken):
		return "malformed"
	case errors.Is(e, jwtauth.ErrVerifier):
		return "verifier_error"
	default:
		return "invalid_credential"
	}
}

func writeUnauthenticated(w http.ResponseWriter, e *Error) {
	if e.Challenge != "" {
		w.Header().Set("WWW-Authenticate", e.Challenge)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeUnauthenticated, e.Message, nil))
}
