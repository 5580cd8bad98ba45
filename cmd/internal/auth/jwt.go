package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessClaims mirrors the claims minted by the auth service: sub, email, role.
type accessClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 access tokens.
type JWTVerifier struct {
	secret    []byte
	issuer    string
	clockSkew time.Duration
}

// NewJWTVerifier builds a verifier for HS256 tokens signed with secret.
// An empty issuer disables the iss check.
func NewJWTVerifier(secret, issuer string, clockSkew time.Duration) (*JWTVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrConfig
	}
	if clockSkew < 0 {
		clockSkew = 0
	}
	return &JWTVerifier{
		secret:    []byte(secret),
		issuer:    strings.TrimSpace(issuer),
		clockSkew: clockSkew,
	}, nil
}

// Verify parses token and validates signature, algorithm, expiry and issuer.
func (v *JWTVerifier) Verify(token string, now time.Time) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrAuthenticationRequired
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims accessClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, opts...)
	if err != nil || parsed == nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		UserID: sub,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}
