// Package token encodes and decodes the signed bearer tokens used across the
// authentication layer: short-lived access tokens, rotating refresh tokens,
// and one-time email-confirmation tokens. All three share one wire format
// (HMAC-signed JWT with subject, scope, iat, exp and a per-mint jti nonce)
// and differ only in scope and lifetime. The codec is pure: no clock state
// beyond time.Now, no I/O, safe for concurrent use from any number of
// request handlers.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scope restricts where a token is accepted. A token presented outside its
// scope is rejected with ErrWrongScope no matter how valid its signature is.
type Scope string

const (
	// ScopeAccess marks short-lived tokens presented on every protected request.
	ScopeAccess Scope = "access"
	// ScopeRefresh marks long-lived tokens accepted only by the refresh endpoint.
	ScopeRefresh Scope = "refresh"
	// ScopeEmailConfirm marks single-purpose tokens proving control of an email address.
	ScopeEmailConfirm Scope = "email-confirm"
)

var (
	// ErrMalformed is returned when the raw string cannot be parsed as a token.
	ErrMalformed = errors.New("token malformed")
	// ErrInvalidSignature is returned when the signature does not verify
	// against the configured secret, or the signing algorithm is not the
	// configured one.
	ErrInvalidSignature = errors.New("token signature invalid")
	// ErrExpired is returned when a correctly signed token is past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrWrongScope is returned when a token is valid but minted for a
	// different scope, e.g. an access token presented to the refresh endpoint.
	ErrWrongScope = errors.New("token scope mismatch")
)

// Claims is the full claim set carried by every token.
type Claims struct {
	Scope Scope `json:"scope"`
	jwt.RegisteredClaims
}

// Config holds the process-wide signing parameters. It is read once at
// construction; the codec never consults the environment.
type Config struct {
	// Secret is the HMAC signing key shared by all token scopes.
	Secret []byte
	// Algorithm selects the HMAC family: HS256 (default), HS384 or HS512.
	Algorithm string
	// Issuer, when set, is embedded in every token and required on decode.
	Issuer string
}

// Codec signs and verifies bearer tokens.
type Codec struct {
	secret []byte
	method jwt.SigningMethod
	issuer string
}

// New validates cfg and builds a Codec.
func New(cfg Config) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token: signing secret is required")
	}

	var method jwt.SigningMethod
	switch cfg.Algorithm {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("token: unsupported algorithm %q", cfg.Algorithm)
	}

	return &Codec{
		secret: cfg.Secret,
		method: method,
		issuer: cfg.Issuer,
	}, nil
}

// Encode mints a signed token for subject with the given scope and lifetime.
func (c *Codec) Encode(subject string, scope Scope, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			// Timestamps have second granularity, so without a nonce two
			// tokens minted back to back would be byte-identical and
			// stored-token equality checks could not tell them apart.
			ID: uuid.NewString(),
		},
	}
	if c.issuer != "" {
		claims.Issuer = c.issuer
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Decode verifies raw and returns its claims. The signature is checked before
// any claim is trusted, then expiry, then scope. Callers get exactly one of
// ErrMalformed, ErrInvalidSignature, ErrExpired or ErrWrongScope on failure;
// the distinction is for logs and tests, the HTTP boundary collapses all four
// to an unauthorized response.
func (c *Codec) Decode(raw string, want Scope) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		options = append(options, jwt.WithIssuer(c.issuer))
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, options...)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	if claims.Scope != want {
		return nil, ErrWrongScope
	}
	return claims, nil
}

// classify maps jwt/v5 error chains onto the codec's error set. Expiry is
// checked first: the library only reports it for tokens whose signature
// already verified, so ErrExpired always implies an authentic token.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
