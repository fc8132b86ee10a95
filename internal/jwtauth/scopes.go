package jwtauth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// grantedScopes reads delegated permissions from "scp" and falls back to the
// application roles in "roles".
func grantedScopes(claims jwt.MapClaims) []string {
	if scp, ok := claims["scp"].(string); ok && strings.TrimSpace(scp) != "" {
		return strings.Fields(scp)
	}
	switch roles := claims["roles"].(type) {
	case []any:
		out := make([]string, 0, len(roles))
		for _, r := range roles {
			if s, ok := r.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string(nil), roles...)
	case string:
		return strings.Fields(roles)
	}
	return nil
}

// scopesSatisfied reports whether every required scope is granted. An exact
// subset check runs first; only when it fails is each scope matched loosely.
func scopesSatisfied(granted, required []string) bool {
	have := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		have[g] = struct{}{}
	}
	exact := true
	for _, r := range required {
		if _, ok := have[r]; !ok {
			exact = false
			break
		}
	}
	if exact {
		return true
	}

	for _, r := range required {
		if !scopeMatches(granted, r) {
			return false
		}
	}
	return true
}

// scopeMatches accepts r verbatim, as "User."+r, or as a dotted suffix of a
// granted scope.
func scopeMatches(granted []string, r string) bool {
	for _, g := range granted {
		if g == r || g == "User."+r || strings.HasSuffix(g, "."+r) {
			return true
		}
	}
	return false
}
