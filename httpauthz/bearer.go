package httpauthz

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/hackreg/authority"
)

var (
	errMissingBearer = errors.New("missing bearer token")
	errInvalidClaims = errors.New("invalid token claims")
)

// BearerTokens identifies callers from an HS256 signed JWT in the
// Authorization header. The subject claim is the user id.
type BearerTokens struct {
	secret []byte
	issuer string
	logger *slog.Logger
}

// NewBearerTokens returns a provider that accepts tokens signed with secret.
// When issuer is not empty tokens must carry it.
func NewBearerTokens(secret []byte, issuer string, logger *slog.Logger) *BearerTokens {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &BearerTokens{secret: secret, issuer: issuer, logger: logger}
}

// CurrentUser implements UserProvider. Invalid tokens are treated as
// anonymous callers.
func (b *BearerTokens) CurrentUser(r *http.Request) (authority.UserID, bool) {
	userID, err := b.Verify(r.Header.Get("Authorization"))
	if err != nil {
		if !errors.Is(err, errMissingBearer) {
			b.logger.Debug("reject bearer token", slog.Any("error", err))
		}
		return "", false
	}
	return userID, true
}

// Verify parses an Authorization header value and returns the token subject.
func (b *BearerTokens) Verify(header string) (authority.UserID, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", errMissingBearer
	}

	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return b.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", errInvalidClaims
	}
	if b.issuer != "" && !claims.VerifyIssuer(b.issuer, true) {
		return "", fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errInvalidClaims
	}
	return authority.UserID(claims.Subject), nil
}

// Issue signs a token for userID valid for ttl.
func (b *BearerTokens) Issue(userID authority.UserID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   string(userID),
		Issuer:    b.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
}
