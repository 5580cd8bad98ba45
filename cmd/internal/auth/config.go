package auth

import (
	"os"
	"strings"
	"time"
)

// Token formats accepted by NewVerifier.
const (
	FormatJWT    = "jwt"
	FormatPaseto = "paseto"
)

// Config selects and parameterizes the token verifier.
type Config struct {
	// Format is "jwt" (HS256) or "paseto" (v4.public).
	Format string

	// Issuer is matched against the "iss" claim when non-empty.
	Issuer string

	// JWTSecret is the HS256 shared secret.
	JWTSecret string

	// PasetoV4PublicKeyHex is the hex-encoded Ed25519 public key.
	PasetoV4PublicKeyHex string

	// ClockSkew is the tolerated clock difference with the issuer.
	ClockSkew time.Duration
}

// DefaultConfig returns the defaults: JWT format and 30s skew.
func DefaultConfig() Config {
	return Config{
		Format:    FormatJWT,
		ClockSkew: 30 * time.Second,
	}
}

// LoadConfigFromEnv loads auth configuration from environment variables.
//
// Keys:
//   - MESSENGER_TOKEN_FORMAT (jwt|paseto)
//   - MESSENGER_JWT_SECRET (required for jwt)
//   - MESSENGER_PASETO_V4_PUBLIC_KEY_HEX (required for paseto)
//   - MESSENGER_AUTH_ISSUER
//   - MESSENGER_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("MESSENGER_TOKEN_FORMAT")); v != "" {
		cfg.Format = strings.ToLower(v)
	}
	cfg.Issuer = strings.TrimSpace(os.Getenv("MESSENGER_AUTH_ISSUER"))
	cfg.JWTSecret = os.Getenv("MESSENGER_JWT_SECRET")
	cfg.PasetoV4PublicKeyHex = strings.TrimSpace(os.Getenv("MESSENGER_PASETO_V4_PUBLIC_KEY_HEX"))

	if v := strings.TrimSpace(os.Getenv("MESSENGER_AUTH_CLOCK_SKEW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected format has its key material.
func (c Config) Validate() error {
	switch c.Format {
	case FormatJWT:
		if strings.TrimSpace(c.JWTSecret) == "" {
			return ErrConfig
		}
	case FormatPaseto:
		if strings.TrimSpace(c.PasetoV4PublicKeyHex) == "" {
			return ErrConfig
		}
	default:
		return ErrConfig
	}
	return nil
}

// NewVerifier builds the Verifier selected by cfg.Format.
func NewVerifier(cfg Config) (Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Format {
	case FormatPaseto:
		return NewPasetoVerifier(cfg.PasetoV4PublicKeyHex, cfg.Issuer, cfg.ClockSkew)
	default:
		return NewJWTVerifier(cfg.JWTSecret, cfg.Issuer, cfg.ClockSkew)
	}
}
