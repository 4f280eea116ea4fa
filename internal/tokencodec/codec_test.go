package tokencodec

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	codec := New("test-secret")

	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		Audience:  jwt.ClaimStrings{"cybersherlock"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := codec.Sign(claims)
	require.NoError(t, err)

	var decoded jwt.RegisteredClaims
	require.NoError(t, codec.Verify(signed, &decoded))
	require.Equal(t, "user-1", decoded.Subject)
	require.Equal(t, jwt.ClaimStrings{"cybersherlock"}, decoded.Audience)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	signed, err := New("secret-a").Sign(jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	var decoded jwt.RegisteredClaims
	require.ErrorIs(t, New("secret-b").Verify(signed, &decoded), ErrInvalidToken)
}

func TestVerifyRejectsExpired(t *testing.T) {
	codec := New("test-secret")
	signed, err := codec.Sign(jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	require.NoError(t, err)

	var decoded jwt.RegisteredClaims
	require.ErrorIs(t, codec.Verify(signed, &decoded), ErrInvalidToken)
}

func signRS256(t *testing.T, key *rsa.PrivateKey, claims jwt.Claims, kid string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestDecodeRS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signed := signRS256(t, key, jwt.RegisteredClaims{
		Subject:   "user-2",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, "")

	var decoded jwt.RegisteredClaims
	require.NoError(t, DecodeRS256(signed, &key.PublicKey, &decoded, true))
	require.Equal(t, "user-2", decoded.Subject)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	require.ErrorIs(t, DecodeRS256(signed, &other.PublicKey, &decoded, true), ErrInvalidToken)
}

func TestDecodeRS256SkipsExpiryWhenAsked(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signed := signRS256(t, key, jwt.RegisteredClaims{
		Subject:   "user-3",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}, "")

	var decoded jwt.RegisteredClaims
	require.ErrorIs(t, DecodeRS256(signed, &key.PublicKey, &decoded, true), ErrInvalidToken)
	require.NoError(t, DecodeRS256(signed, &key.PublicKey, &decoded, false))
	require.Equal(t, "user-3", decoded.Subject)
}

func TestKeyID(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	withKid := signRS256(t, key, jwt.RegisteredClaims{Subject: "x"}, "kid-42")
	kid, err := KeyID(withKid)
	require.NoError(t, err)
	require.Equal(t, "kid-42", kid)

	withoutKid := signRS256(t, key, jwt.RegisteredClaims{Subject: "x"}, "")
	_, err = KeyID(withoutKid)
	require.ErrorIs(t, err, ErrNoKeyID)

	_, err = KeyID("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestPublicKeyFromComponents(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	n := base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes())

	rebuilt, err := PublicKeyFromComponents(n, e)
	require.NoError(t, err)
	require.Zero(t, rebuilt.N.Cmp(key.PublicKey.N))
	require.Equal(t, key.PublicKey.E, rebuilt.E)

	_, err = PublicKeyFromComponents("%%%", e)
	require.Error(t, err)
}
