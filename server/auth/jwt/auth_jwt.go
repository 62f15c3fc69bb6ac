// Package jwt implements authentication by HS256-signed bearer tokens.
package jwt

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/uniconnect/chat/server/auth"
	"github.com/uniconnect/chat/server/store"
	"github.com/uniconnect/chat/server/store/types"
)

// Shortest signing key accepted by Init.
const minKeyLength = 32

// authenticator is a singleton instance of the authenticator.
type authenticator struct {
	name     string
	key      []byte
	issuer   string
	lifetime time.Duration
}

// Init initializes the authenticator: parses the config and sets the signing
// key, issuer and token lifetime.
func (ja *authenticator) Init(jsonconf string) error {
	if ja.name != "" {
		return errors.New("auth_jwt: already initialized as " + ja.name)
	}

	type configType struct {
		// Key for signing tokens.
		Key string `json:"key"`
		// Expected token issuer.
		Issuer string `json:"issuer"`
		// Token expiration time in seconds.
		ExpireIn int `json:"expire_in"`
	}
	var config configType
	if err := json.Unmarshal([]byte(jsonconf), &config); err != nil {
		return errors.New("auth_jwt: failed to parse config: " + err.Error() + "(" + jsonconf + ")")
	}

	if len(config.Key) < minKeyLength {
		return errors.New("auth_jwt: the key is missing or too short")
	}
	if config.Issuer == "" {
		return errors.New("auth_jwt: issuer is missing")
	}
	if config.ExpireIn <= 0 {
		return errors.New("auth_jwt: invalid expiration value")
	}

	ja.name = "jwt"
	ja.key = []byte(config.Key)
	ja.issuer = config.Issuer
	ja.lifetime = time.Duration(config.ExpireIn) * time.Second

	return nil
}

// Authenticate checks validity of the provided token: signature, issuer and
// expiration. The "Bearer " prefix is optional. On success returns the record
// with the verified subject; any failure is terminal, there is no anonymous
// fallback.
func (ja *authenticator) Authenticate(secret string) (*auth.Rec, error) {
	token := stripBearer(secret)
	if token == "" {
		return nil, types.ErrMalformed
	}

	parsed, err := gojwt.Parse(token,
		func(t *gojwt.Token) (any, error) {
			return ja.key, nil
		},
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithIssuer(ja.issuer),
		gojwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, gojwt.ErrTokenExpired) {
			return nil, types.ErrExpired
		}
		if errors.Is(err, gojwt.ErrTokenMalformed) {
			return nil, types.ErrMalformed
		}
		return nil, types.ErrFailed
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return nil, types.ErrMalformed
	}
	expires, err := parsed.Claims.GetExpirationTime()
	if err != nil || expires == nil {
		return nil, types.ErrMalformed
	}

	return &auth.Rec{Subject: subject, Expires: expires.Time.UTC()}, nil
}

// GenSecret generates a new signed token for the given record.
func (ja *authenticator) GenSecret(rec *auth.Rec) (string, time.Time, error) {
	if rec.Subject == "" {
		return "", time.Time{}, types.ErrMalformed
	}

	expires := rec.Expires
	if expires.IsZero() {
		expires = time.Now().Add(ja.lifetime).UTC().Round(time.Millisecond)
	}

	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.RegisteredClaims{
		Issuer:    ja.issuer,
		Subject:   rec.Subject,
		IssuedAt:  gojwt.NewNumericDate(time.Now()),
		ExpiresAt: gojwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString(ja.key)
	if err != nil {
		return "", time.Time{}, types.ErrInternal
	}

	return signed, expires, nil
}

func stripBearer(token string) string {
	return strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
}

func init() {
	store.RegisterAuthScheme("jwt", &authenticator{})
}
