// Package identity verifies bearer tokens issued by the auth service and
// exposes the caller to handlers.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RolePatient Role = "PACIENTE"
	RoleDoctor  Role = "MEDICO"
	RoleAdmin   Role = "ADMIN"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID uuid.UUID
	Role   Role
	Name   string
	Email  string
}

// Claims mirrors the token payload: {id, name, email, role}.
type Claims struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

var ErrInvalidToken = errors.New("invalid token")

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses an HS256 token and returns the identity it carries.
func (v *Verifier) Verify(token string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := uuid.Parse(claims.ID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: subject id: %v", ErrInvalidToken, err)
	}

	role := Role(claims.Role)
	switch role {
	case RolePatient, RoleDoctor, RoleAdmin:
	default:
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	return Identity{UserID: id, Role: role, Name: claims.Name, Email: claims.Email}, nil
}

// Sign issues a token for id. Used by the seed and simulate tools and tests.
func Sign(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ID:    id.UserID.String(),
		Name:  id.Name,
		Email: id.Email,
		Role:  string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
