package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrSecretRequired = errors.New("auth: jwt secret required")
	ErrInvalidToken   = errors.New("auth: invalid token")
)

// Service verifies bearer tokens issued by the external identity provider.
// Session issuance lives outside this system; only verification happens here.
type Service struct {
	secret []byte
}

func NewService(secret string) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretRequired
	}
	return &Service{secret: []byte(secret)}, nil
}

// VerifyToken parses and validates a signed token, returning its claims.
// The subject claim carries the verified user id.
func (s *Service) VerifyToken(token string) (*jwt.RegisteredClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
