package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in recorder tokens.
const (
	RoleViewer = "viewer"
	RoleAdmin  = "admin"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownRole  = errors.New("unknown role")
)

// Claims holds JWT claims: the subject names the client, the role gates the API.
type Claims struct {
	Role    string `json:"role"`
	Channel int    `json:"channel,omitempty"`
	jwt.RegisteredClaims
}

// JWTService handles token generation and validation.
type JWTService struct {
	secret      []byte
	expireHours int
}

// NewJWTService creates a JWT service.
func NewJWTService(secret string, expireHours int) *JWTService {
	if expireHours <= 0 {
		expireHours = 24
	}
	return &JWTService{
		secret:      []byte(secret),
		expireHours: expireHours,
	}
}

// Generate creates a token for subject with role, optionally scoped to one channel (0 = any).
func (s *JWTService) Generate(subject, role string, channel int) (string, error) {
	if role != RoleViewer && role != RoleAdmin {
		return "", ErrUnknownRole
	}
	now := time.Now()
	claims := Claims{
		Role:    role,
		Channel: channel,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.expireHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a JWT, returning claims or error.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ViewerValidator returns a check that accepts viewer or admin tokens valid for channel.
func (s *JWTService) ViewerValidator(channel int) func(token string) error {
	return func(token string) error {
		claims, err := s.Validate(token)
		if err != nil {
			return err
		}
		if claims.Channel != 0 && claims.Channel != channel {
			return ErrInvalidToken
		}
		return nil
	}
}
