// Package identity issues and validates the signed tokens carrying a user's
// access identity between services.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tallyhr/accesscore/internal/access"
)

// DefaultTokenTTL defines the fallback validity period for access tokens.
const DefaultTokenTTL = 15 * time.Minute

// Config bundles the configuration required to build a Service.
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Clock  func() time.Time
}

// Claims represents the custom claims embedded in issued tokens.
type Claims struct {
	UserID             string   `json:"uid"`
	Role               string   `json:"role"`
	DepartmentID       string   `json:"dept,omitempty"`
	ManagedDepartments []string `json:"managed,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts the claims into the core identity type.
func (c *Claims) Identity() access.Identity {
	return access.Identity{
		UserID:             c.UserID,
		Role:               c.Role,
		DepartmentID:       c.DepartmentID,
		ManagedDepartments: c.ManagedDepartments,
	}
}

// Service issues and validates JSON Web Tokens for the access service.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewService constructs a Service when provided with the required configuration.
func NewService(cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("identity: secret must be provided")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &Service{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    now,
	}, nil
}

// Generate issues a signed token for the identity.
func (s *Service) Generate(id access.Identity) (string, error) {
	if id.UserID == "" {
		return "", errors.New("identity: user id is required")
	}

	now := s.now()
	claims := &Claims{
		UserID:             id.UserID,
		Role:               id.Role,
		DepartmentID:       id.DepartmentID,
		ManagedDepartments: id.ManagedDepartments,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and validates a signed token, returning the claims.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("identity: token string is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("identity: parse token: %w", err)
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, errors.New("identity: invalid issuer")
	}
	if claims.UserID == "" {
		return nil, errors.New("identity: missing user id claim")
	}

	return &claims, nil
}
