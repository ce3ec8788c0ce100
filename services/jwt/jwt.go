package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Claims carries the user identity inside an access token.
type Claims struct {
	UserID uint `json:"id"`
	jwt.RegisteredClaims
}

// GenerateToken signs an access token for the given user id.
func GenerateToken(userID uint, secret string) (string, error) {
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "unable to sign token")
	}
	return signed, nil
}

// ValidateAndGetClaims parses and verifies an access token.
func ValidateAndGetClaims(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid or expired token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == 0 {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// Verifier turns a bearer credential into a stable user identity.
type Verifier interface {
	Verify(credential string) (uint, error)
}

type hmacVerifier struct {
	secret string
}

// NewVerifier returns a Verifier backed by HMAC-signed access tokens.
func NewVerifier(secret string) Verifier {
	return &hmacVerifier{secret: secret}
}

func (v *hmacVerifier) Verify(credential string) (uint, error) {
	claims, err := ValidateAndGetClaims(credential, v.secret)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}
