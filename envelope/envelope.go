// Package envelope implements the signed request/response wrapper: inbound
// tokens are verified against the operator's public key with a hard lifetime
// ceiling, outbound responses are signed with the callback private key. With
// auth disabled the envelope degrades to a pass-through that hands the raw
// body straight to the decoder.
package envelope

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/tos-network/refilld/log"
)

var (
	// ErrTokenExpired marks a token whose exp claim already passed.
	ErrTokenExpired = errors.New("envelope: token expired")

	// ErrLifetimeExceeded marks a token whose exp-iat window is wider
	// than the configured ceiling.
	ErrLifetimeExceeded = errors.New("envelope: token lifetime exceeds maximum")

	// ErrInvalidToken covers every other verification failure: bad
	// signature, malformed token, missing iat/exp claims.
	ErrInvalidToken = errors.New("envelope: invalid token")

	// Bearer extraction failures for read operations.
	ErrMissingAuthHeader = errors.New("envelope: missing authorization header")
	ErrInvalidAuthFormat = errors.New("envelope: invalid authorization format")
	ErrMissingBearer     = errors.New("envelope: missing bearer token")

	// ErrSigningUnavailable is returned by Sign when no private key is
	// loaded.
	ErrSigningUnavailable = errors.New("envelope: signing key not configured")
)

// Config carries the envelope keys and policy.
type Config struct {
	Enabled     bool
	PublicKey   string // PEM, verifies inbound tokens
	PrivateKey  string // PEM, signs outbound responses
	MaxLifetime time.Duration
}

// Envelope verifies inbound and signs outbound payloads. Immutable after
// construction.
type Envelope struct {
	enabled     bool
	verifyKey   *rsa.PublicKey
	signKey     *rsa.PrivateKey
	maxLifetime time.Duration
	log         log.Logger
}

// New parses the configured keys. With auth enabled, a missing or unparsable
// public key is a boot error; the private key is optional but responses
// cannot be signed without it.
func New(cfg Config) (*Envelope, error) {
	e := &Envelope{
		enabled:     cfg.Enabled,
		maxLifetime: cfg.MaxLifetime,
		log:         log.New("component", "envelope"),
	}
	if !cfg.Enabled {
		return e, nil
	}
	if strings.TrimSpace(cfg.PublicKey) == "" {
		return nil, errors.New("envelope: auth enabled but no public key configured")
	}
	verifyKey, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("envelope: parsing public key: %w", err)
	}
	e.verifyKey = verifyKey
	if strings.TrimSpace(cfg.PrivateKey) != "" {
		signKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("envelope: parsing private key: %w", err)
		}
		e.signKey = signKey
	} else {
		e.log.Warn("No callback private key configured, responses will not be signed")
	}
	return e, nil
}

// Enabled reports whether envelope enforcement is on.
func (e *Envelope) Enabled() bool {
	return e.enabled
}

// Verify checks a signed token and returns its payload as JSON. With auth
// disabled the raw body is returned untouched. The payload keeps the iat and
// exp claims; decoders ignore them.
func (e *Envelope) Verify(raw []byte) (json.RawMessage, error) {
	if !e.enabled {
		return raw, nil
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(string(raw)), claims, func(token *jwt.Token) (interface{}, error) {
		return e.verifyKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		var vErr *jwt.ValidationError
		if errors.As(err, &vErr) && vErr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	iat, ok := numericClaim(claims, "iat")
	if !ok {
		return nil, fmt.Errorf("%w: missing iat claim", ErrInvalidToken)
	}
	exp, ok := numericClaim(claims, "exp")
	if !ok {
		return nil, fmt.Errorf("%w: missing exp claim", ErrInvalidToken)
	}
	if lifetime := exp - iat; lifetime > int64(e.maxLifetime.Seconds()) {
		return nil, ErrLifetimeExceeded
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return payload, nil
}

// Sign wraps a response payload in a signed token with iat = now and
// exp = now + max lifetime.
func (e *Envelope) Sign(payload interface{}) (string, error) {
	if e.signKey == nil {
		return "", ErrSigningUnavailable
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("envelope: encoding payload: %w", err)
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(blob, &claims); err != nil {
		return "", fmt.Errorf("envelope: payload is not a JSON object: %w", err)
	}
	now := time.Now()
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(e.maxLifetime).Unix()
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(e.signKey)
}

// BearerToken extracts the token from an Authorization header for read
// operations. A present Bearer scheme without a token is distinguished from
// a malformed header.
func BearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", ErrMissingAuthHeader
	}
	parts := strings.Fields(header)
	if !strings.EqualFold(parts[0], "Bearer") || len(parts) > 2 {
		return "", ErrInvalidAuthFormat
	}
	if len(parts) == 1 {
		return "", ErrMissingBearer
	}
	return parts[1], nil
}

// numericClaim reads an integer claim that may arrive as float64 (decoded
// JSON number) or json.Number.
func numericClaim(claims jwt.MapClaims, name string) (int64, bool) {
	switch v := claims[name].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case int64:
		return v, true
	}
	return 0, false
}
