// Package auth selects and enforces the authentication strategy placed in
// front of every HTTP request.
//
// Exactly one Strategy is active for the lifetime of a server:
//
//   - NoAuth lets every request through.
//   - StaticKey compares the X-API-Key header in constant time against a set
//     of shared secrets.
//   - Bearer verifies an "Authorization: Bearer <token>" access token issued by
//     an Entra-style tenant and attaches the resulting Grant to the request
//     context.
//
// Select builds the Strategy from configuration once at startup. It never
// fails: a misconfigured strategy degrades to NoAuth and the reason is logged
// at warning or error level, so a server always starts.
//
//	strategy := auth.Select(ctx, auth.Config{Method: "API-KEY", APIKeys: keys}, log)
//	handler := auth.Middleware(strategy, log, "/health")(mux)
//
// # Errors
//
// Rejections are reported as *Error values whose Kind is ErrMissingCredential
// or ErrInvalidCredential. Both wrap ErrUnauthenticated. The middleware
// renders them as HTTP 401 with a JSON-RPC error envelope carrying code -32001
// and a WWW-Authenticate challenge.
package auth
