package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// TokenQueryParam is the handshake field browsers use, since they cannot set
// headers on a websocket upgrade.
const TokenQueryParam = "token"

// TokenFromRequest returns the bearer credential, preferring the handshake
// query field over the Authorization header.
func TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if t := strings.TrimSpace(r.URL.Query().Get(TokenQueryParam)); t != "" {
		return t
	}

	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Authenticate verifies the request's bearer credential.
// It returns ErrAuthenticationRequired when none is present and ErrInvalidToken otherwise.
func Authenticate(r *http.Request, v Verifier, now time.Time) (Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return Identity{}, ErrAuthenticationRequired
	}
	if v == nil {
		return Identity{}, ErrInvalidToken
	}

	id, err := v.Verify(token, now)
	if err != nil {
		if errors.Is(err, ErrAuthenticationRequired) {
			return Identity{}, ErrAuthenticationRequired
		}
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}
