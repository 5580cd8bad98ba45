// Package auth verifies bearer credentials presented by HTTP and websocket clients.
//
// Token issuance lives in a separate service; this package only checks signatures,
// expiry and issuer, and extracts the caller Identity. Two token formats are supported:
// HS256 JWT (default) and PASETO v4.public.
package auth
