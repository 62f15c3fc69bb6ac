package jwt

import (
	"sync"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniconnect/chat/server/auth"
	"github.com/uniconnect/chat/server/store"
	"github.com/uniconnect/chat/server/store/types"
)

const (
	testKey    = "0123456789abcdef0123456789abcdef"
	testIssuer = "uniconnect-test"
)

var initOnce sync.Once

func testHandler(t *testing.T) auth.Handler {
	t.Helper()

	handler := store.GetAuthHandler("jwt")
	require.NotNil(t, handler)
	initOnce.Do(func() {
		require.NoError(t, handler.Init(
			`{"key": "`+testKey+`", "issuer": "`+testIssuer+`", "expire_in": 3600}`))
	})
	return handler
}

func TestInitValidation(t *testing.T) {
	short := &authenticator{}
	assert.Error(t, short.Init(`{"key": "too-short", "issuer": "x", "expire_in": 60}`))

	noIssuer := &authenticator{}
	assert.Error(t, noIssuer.Init(`{"key": "`+testKey+`", "expire_in": 60}`))

	badExpire := &authenticator{}
	assert.Error(t, badExpire.Init(`{"key": "`+testKey+`", "issuer": "x", "expire_in": 0}`))

	ok := &authenticator{}
	require.NoError(t, ok.Init(`{"key": "`+testKey+`", "issuer": "x", "expire_in": 60}`))
	// Double initialization is rejected.
	assert.Error(t, ok.Init(`{"key": "`+testKey+`", "issuer": "x", "expire_in": 60}`))
}

func TestRoundTrip(t *testing.T) {
	handler := testHandler(t)

	token, expires, err := handler.GenSecret(&auth.Rec{Subject: "alice@example.edu"})
	require.NoError(t, err)
	assert.True(t, expires.After(time.Now()))

	rec, err := handler.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.edu", rec.Subject)
	assert.WithinDuration(t, expires, rec.Expires, time.Second)

	// The "Bearer " prefix is optional.
	rec, err = handler.Authenticate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.edu", rec.Subject)
}

func TestAuthenticateExpired(t *testing.T) {
	handler := testHandler(t)

	token, _, err := handler.GenSecret(&auth.Rec{
		Subject: "alice@example.edu",
		Expires: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	_, err = handler.Authenticate(token)
	assert.ErrorIs(t, err, types.ErrExpired)
}

func TestAuthenticateMalformed(t *testing.T) {
	handler := testHandler(t)

	_, err := handler.Authenticate("")
	assert.ErrorIs(t, err, types.ErrMalformed)

	_, err = handler.Authenticate("Bearer ")
	assert.ErrorIs(t, err, types.ErrMalformed)

	_, err = handler.Authenticate("not-even-a-token")
	assert.ErrorIs(t, err, types.ErrMalformed)
}

func TestAuthenticateWrongIssuer(t *testing.T) {
	handler := testHandler(t)

	token := signedToken(t, gojwt.RegisteredClaims{
		Issuer:    "somebody-else",
		Subject:   "alice@example.edu",
		ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, testKey)

	_, err := handler.Authenticate(token)
	assert.ErrorIs(t, err, types.ErrFailed)
}

func TestAuthenticateWrongKey(t *testing.T) {
	handler := testHandler(t)

	token := signedToken(t, gojwt.RegisteredClaims{
		Issuer:    testIssuer,
		Subject:   "alice@example.edu",
		ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, "another-key-another-key-another-key")

	_, err := handler.Authenticate(token)
	assert.ErrorIs(t, err, types.ErrFailed)
}

func TestAuthenticateMissingClaims(t *testing.T) {
	handler := testHandler(t)

	// No expiration claim.
	token := signedToken(t, gojwt.RegisteredClaims{
		Issuer:  testIssuer,
		Subject: "alice@example.edu",
	}, testKey)
	_, err := handler.Authenticate(token)
	assert.ErrorIs(t, err, types.ErrFailed)

	// No subject claim.
	token = signedToken(t, gojwt.RegisteredClaims{
		Issuer:    testIssuer,
		ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, testKey)
	_, err = handler.Authenticate(token)
	assert.ErrorIs(t, err, types.ErrMalformed)
}

func TestGenSecretNoSubject(t *testing.T) {
	handler := testHandler(t)

	_, _, err := handler.GenSecret(&auth.Rec{})
	assert.ErrorIs(t, err, types.ErrMalformed)
}

func signedToken(t *testing.T, claims gojwt.RegisteredClaims, key string) string {
	t.Helper()

	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}
