package httpauthz_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackreg/authority"
	"github.com/hackreg/authority/httpauthz"
)

func TestBearerTokens(t *testing.T) {
	tokens := httpauthz.NewBearerTokens([]byte("s3cret"), "hackreg", nil)

	signed, err := tokens.Issue("user-1", time.Hour)
	require.NoError(t, err)

	userID, err := tokens.Verify("Bearer " + signed)
	require.NoError(t, err)
	assert.Equal(t, authority.UserID("user-1"), userID)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	userID, ok := tokens.CurrentUser(req)
	assert.True(t, ok)
	assert.Equal(t, authority.UserID("user-1"), userID)

	_, ok = tokens.CurrentUser(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}

func TestBearerTokensRejectsBadTokens(t *testing.T) {
	tokens := httpauthz.NewBearerTokens([]byte("s3cret"), "hackreg", nil)

	otherKey, err := httpauthz.NewBearerTokens([]byte("other"), "hackreg", nil).Issue("user-1", time.Hour)
	require.NoError(t, err)
	otherIssuer, err := httpauthz.NewBearerTokens([]byte("s3cret"), "elsewhere", nil).Issue("user-1", time.Hour)
	require.NoError(t, err)
	expired, err := tokens.Issue("user-1", -time.Minute)
	require.NoError(t, err)
	noSubject, err := tokens.Issue("", time.Hour)
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1", Issuer: "hackreg"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"wrong key":    "Bearer " + otherKey,
		"wrong issuer": "Bearer " + otherIssuer,
		"expired":      "Bearer " + expired,
		"no subject":   "Bearer " + noSubject,
		"alg none":     "Bearer " + unsigned,
		"not bearer":   "Basic dXNlcjpwYXNz",
		"empty":        "",
	} {
		_, err := tokens.Verify(header)
		assert.Error(t, err, name)
	}
}
