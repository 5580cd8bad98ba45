package auth

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// PasetoVerifier verifies PASETO v4.public access tokens.
//
// The subject claim carries the user id; "email" and "role" are optional string claims.
type PasetoVerifier struct {
	issuer    string
	clockSkew time.Duration
	public    paseto.V4AsymmetricPublicKey
}

// NewPasetoVerifier builds a verifier from a hex-encoded Ed25519 public key.
func NewPasetoVerifier(publicKeyHex, issuer string, clockSkew time.Duration) (*PasetoVerifier, error) {
	public, err := paseto.NewV4AsymmetricPublicKeyFromHex(strings.TrimSpace(publicKeyHex))
	if err != nil {
		return nil, ErrConfig
	}
	if clockSkew < 0 {
		clockSkew = 0
	}
	return &PasetoVerifier{
		issuer:    strings.TrimSpace(issuer),
		clockSkew: clockSkew,
		public:    public,
	}, nil
}

// Verify parses and validates token.
func (v *PasetoVerifier) Verify(token string, now time.Time) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrAuthenticationRequired
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// Validating slightly in the future tolerates nbf drift between issuer and server.
	validNow := now.Add(v.clockSkew)

	// Fresh parser per call; rules accumulate on a parser.
	p := paseto.NewParserWithoutExpiryCheck()
	if v.issuer != "" {
		p.AddRule(paseto.IssuedBy(v.issuer))
	}
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(v.public, token, nil)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	if _, err := parsed.GetExpiration(); err != nil {
		return Identity{}, ErrInvalidToken
	}

	sub, err := parsed.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return Identity{}, ErrInvalidToken
	}

	email, _ := parsed.GetString("email")
	role, _ := parsed.GetString("role")

	return Identity{
		UserID: strings.TrimSpace(sub),
		Email:  email,
		Role:   role,
	}, nil
}
