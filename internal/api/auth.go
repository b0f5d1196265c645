package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-hap/internal/infrastructure/config"
)

// Token constants.
const (
	// TokenIssuer is the iss claim of every token the bridge issues.
	TokenIssuer = "graylogic-hap"

	// defaultTokenTTL applies when security.jwt.access_token_ttl is zero.
	defaultTokenTTL = 60 * time.Minute
)

// ErrNoSecret is returned when a token is issued without a configured secret.
var ErrNoSecret = errors.New("api: jwt secret is not configured")

// IssueToken signs an HS256 access token for subject.
//
// Parameters:
//   - cfg: JWT settings; Secret must be set
//   - subject: The sub claim
//   - now: Issue time
//
// Returns:
//   - string: The signed token
//   - time.Time: Expiry time
//   - error: ErrNoSecret, or a signing error
func IssueToken(cfg config.JWTConfig, subject string, now time.Time) (string, time.Time, error) {
	if cfg.Secret == "" {
		return "", time.Time{}, ErrNoSecret
	}
	ttl := time.Duration(cfg.AccessTokenTTL) * time.Minute
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	expires := now.Add(ttl)

	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    TokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expires, nil
}

// ParseToken validates an HS256 token issued by IssueToken.
func ParseToken(cfg config.JWTConfig, raw string) (*jwt.RegisteredClaims, error) {
	if cfg.Secret == "" {
		return nil, ErrNoSecret
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return []byte(cfg.Secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
