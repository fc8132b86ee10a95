package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ggoodman/redis-mcp-server/auth"
	"github.com/ggoodman/redis-mcp-server/auth/authtest"
)

type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func serve(t *testing.T, s auth.Strategy, req *http.Request) (*httptest.ResponseRecorder, *auth.Grant) {
	t.Helper()
	var seen *auth.Grant
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.GrantFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	auth.Middleware(s, quietLogger(), "/health")(next).ServeHTTP(rec, req)
	return rec, seen
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return env
}

func expectUnauthenticated(t *testing.T, rec *httptest.ResponseRecorder, message, challengePrefix string) {
	t.Helper()
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.JSONRPC != "2.0" || string(env.ID) != "null" {
		t.Fatalf("unexpected envelope %s", rec.Body.String())
	}
	if env.Error.Code != -32001 {
		t.Fatalf("want code -32001, got %d", env.Error.Code)
	}
	if env.Error.Message != message {
		t.Fatalf("want message %q, got %q", message, env.Error.Message)
	}
	if got := rec.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, challengePrefix) {
		t.Fatalf("want challenge prefix %q, got %q", challengePrefix, got)
	}
}

func TestStaticKey_AcceptsEveryConfiguredKey(t *testing.T) {
	keys := []string{"alpha", "bravo-longer-key", "c"}
	s := auth.NewStaticKey(keys)

	for _, k := range keys {
		req := httptest.NewRequest(http.MethodPost, "/message", nil)
		req.Header.Set(auth.APIKeyHeader, k)
		rec, _ := serve(t, s, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("key %q: want 200, got %d", k, rec.Code)
		}
	}
}

func TestStaticKey_RejectsUnknownKeys(t *testing.T) {
	s := auth.NewStaticKey([]string{"alpha", "bravo"})

	for _, k := range []string{"alph", "alphaa", "ALPHA", "bravo ", "x"} {
		req := httptest.NewRequest(http.MethodPost, "/message", nil)
		req.Header.Set(auth.APIKeyHeader, k)
		rec, _ := serve(t, s, req)
		expectUnauthenticated(t, rec, "Invalid API key", `ApiKey realm="MCP Server"`)
	}
}

func TestStaticKey_MissingHeader(t *testing.T) {
	s := auth.NewStaticKey([]string{"alpha"})
	rec, _ := serve(t, s, httptest.NewRequest(http.MethodGet, "/sse", nil))
	expectUnauthenticated(t, rec, "Missing X-API-Key header", `ApiKey realm="MCP Server"`)

	_, err := s.Authenticate(httptest.NewRequest(http.MethodGet, "/sse", nil))
	if !errors.Is(err, auth.ErrMissingCredential) || !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("want missing credential, got %v", err)
	}
}

func TestHealthIsExempt(t *testing.T) {
	for _, s := range []auth.Strategy{
		auth.NewStaticKey([]string{"alpha"}),
		auth.NewBearer(authtest.NewVerifier()),
	} {
		rec, _ := serve(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: health should bypass auth, got %d", s.Name(), rec.Code)
		}
	}
}

func TestBearer(t *testing.T) {
	v := authtest.NewVerifier()
	v.Allow("good-token", "client-a", "MCP.Read")
	s := auth.NewBearer(v, "MCP.Read")

	t.Run("missing header", func(t *testing.T) {
		rec, _ := serve(t, s, httptest.NewRequest(http.MethodPost, "/message", nil))
		expectUnauthenticated(t, rec, "Missing Authorization header", `Bearer realm="MCP Server"`)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		for _, h := range []string{"Basic abc", "Bearer", "Bearer a b"} {
			req := httptest.NewRequest(http.MethodPost, "/message", nil)
			req.Header.Set("Authorization", h)
			rec, _ := serve(t, s, req)
			expectUnauthenticated(t, rec, "Invalid Authorization header format. Expected: Bearer <token>", "Bearer ")
			if !strings.Contains(rec.Header().Get("WWW-Authenticate"), `error="invalid_request"`) {
				t.Fatalf("%q: want invalid_request challenge, got %q", h, rec.Header().Get("WWW-Authenticate"))
			}
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/message", nil)
		req.Header.Set("Authorization", "Bearer bad-token")
		rec, _ := serve(t, s, req)
		expectUnauthenticated(t, rec, "Invalid or expired access token", "Bearer ")
		ch := rec.Header().Get("WWW-Authenticate")
		if !strings.Contains(ch, `error="invalid_token"`) || !strings.Contains(ch, `scope="MCP.Read"`) {
			t.Fatalf("unexpected challenge %q", ch)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/message", nil)
		req.Header.Set("Authorization", "bearer good-token")
		rec, grant := serve(t, s, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d", rec.Code)
		}
		if grant == nil || grant.ClientID != "client-a" {
			t.Fatalf("grant not attached to context: %+v", grant)
		}
	})
}

func TestParseMethod(t *testing.T) {
	cases := map[string]auth.Method{
		"":          auth.MethodDisabled,
		"NO-AUTH":   auth.MethodDisabled,
		"disabled":  auth.MethodDisabled,
		"API-KEY":   auth.MethodStaticKey,
		"api_key":   auth.MethodStaticKey,
		"OAUTH":     auth.MethodBearer,
		" bearer  ": auth.MethodBearer,
	}
	for in, want := range cases {
		got, ok := auth.ParseMethod(in)
		if !ok || got != want {
			t.Fatalf("%q: want %s, got %s (ok=%v)", in, want, got, ok)
		}
	}
	if _, ok := auth.ParseMethod("kerberos"); ok {
		t.Fatalf("unknown method should not parse")
	}
}

func TestSelect(t *testing.T) {
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"keys":[]}`))
	}))
	defer jwks.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cases := []struct {
		name string
		cfg  auth.Config
		want string
	}{
		{name: "disabled", cfg: auth.Config{Method: "NO-AUTH"}, want: "none"},
		{name: "static with keys", cfg: auth.Config{Method: "API-KEY", APIKeys: []string{"k1"}}, want: "static-key"},
		{name: "static without keys", cfg: auth.Config{Method: "API-KEY", APIKeys: []string{" "}}, want: "none"},
		{name: "bearer missing client", cfg: auth.Config{Method: "OAUTH", OAuthTenantID: "t"}, want: "none"},
		{name: "bearer missing tenant", cfg: auth.Config{Method: "OAUTH", OAuthClientID: "c"}, want: "none"},
		{name: "bearer", cfg: auth.Config{Method: "OAUTH", OAuthTenantID: "t", OAuthClientID: "c", OAuthAuthority: jwks.URL}, want: "bearer"},
		{name: "bearer discovery failure", cfg: auth.Config{Method: "OAUTH", OAuthTenantID: "t", OAuthClientID: "c", OAuthAuthority: jwks.URL + "/missing", OAuthDiscovery: true}, want: "none"},
		{name: "unknown", cfg: auth.Config{Method: "kerberos"}, want: "none"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			s := auth.Select(ctx, tc.cfg, slog.New(slog.NewJSONHandler(&buf, nil)))
			if s.Name() != tc.want {
				t.Fatalf("want strategy %s, got %s", tc.want, s.Name())
			}
			if tc.want == "none" && tc.cfg.Method != "NO-AUTH" && !strings.Contains(buf.String(), "auth.select.fallback") {
				t.Fatalf("fallback not logged: %s", buf.String())
			}
		})
	}
}
