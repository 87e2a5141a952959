package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pmichalski/copydesk/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	tm := TokenManager{secretKey: []byte("testsecret")}
	token, err := tm.GenerateToken(42)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	customerID, err := tm.ParseToken(token)
	require.NoError(t, err)
	require.Equal(t, 42, customerID)
}

func TestParseInvalidToken(t *testing.T) {
	tm := TokenManager{secretKey: []byte("testsecret")}

	_, err := tm.ParseToken("invalid.token.string")
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestParseTokenWithWrongSignature(t *testing.T) {
	tm := TokenManager{secretKey: []byte("testsecret")}

	claims := jwt.MapClaims{
		"customer_id": 1,
		"exp":         time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	badTokenStr, _ := token.SignedString([]byte("wrongsecret"))

	_, err := tm.ParseToken(badTokenStr)
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestParseExpiredToken(t *testing.T) {
	tm := TokenManager{secretKey: []byte("testsecret")}

	claims := jwt.MapClaims{
		"customer_id": 1,
		"exp":         time.Now().Add(-time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	expiredTokenStr, _ := token.SignedString([]byte("testsecret"))

	_, err := tm.ParseToken(expiredTokenStr)
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}
