package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/GriffinCanCode/termhost/internal/infrastructure/config"
)

var (
	// ErrMissingToken is returned when the handshake carries no token.
	ErrMissingToken = errors.New("missing token")
	// ErrInvalidToken is returned when a token fails verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Principal is the identity a handshake token vouches for. Subject and
// TokenID are empty when the verifier only checks presence.
type Principal struct {
	Subject  string
	TokenID  string
	Verified bool
}

// Verifier checks handshake tokens.
type Verifier interface {
	Verify(token string) (Principal, error)
}

// New returns a JWT verifier when a secret is configured, otherwise a
// verifier that only requires a token to be present.
func New(cfg config.AuthConfig) Verifier {
	if cfg.JWTSecret == "" {
		return PresenceVerifier{}
	}
	return NewJWT([]byte(cfg.JWTSecret), cfg.JWTIssuer)
}

// PresenceVerifier accepts any non-empty token. It is meant for development
// setups where an upstream proxy already authenticated the user.
type PresenceVerifier struct{}

func (PresenceVerifier) Verify(token string) (Principal, error) {
	if strings.TrimSpace(token) == "" {
		return Principal{}, ErrMissingToken
	}
	return Principal{}, nil
}

// JWTVerifier verifies HMAC-signed JWTs.
type JWTVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewJWT creates a verifier for HS256/384/512 tokens. A non-empty issuer
// must match the iss claim.
func NewJWT(secret []byte, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: secret, issuer: issuer, leeway: 30 * time.Second}
}

func (v *JWTVerifier) Verify(tokenString string) (Principal, error) {
	if strings.TrimSpace(tokenString) == "" {
		return Principal{}, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return Principal{}, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}
	return Principal{Subject: claims.Subject, TokenID: claims.ID, Verified: true}, nil
}

// Sign issues an HS256 token for subject with a random jti. The server's
// -issue-token flag prints one.
func Sign(secret []byte, issuer, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

// TokenFromRequest extracts the handshake token from the token query
// parameter, an Authorization bearer header, or X-Auth-Token, in that order.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if header := r.Header.Get("Authorization"); header != "" {
		if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.Header.Get("X-Auth-Token")
}
