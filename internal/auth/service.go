package auth

import (
	"fmt"
	"strings"

	"collab-app/internal/config"
	"collab-app/internal/protocol"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified claim set supplied by the external identity
// provider. The collaboration core treats it as opaque and trusted.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
}

// Elevated reports whether the identity carries a role allowed to manage
// meetings it did not create.
func (id Identity) Elevated() bool {
	switch id.Role {
	case "admin", "manager":
		return true
	}
	return false
}

type Service struct {
	cfg *config.Config
}

func NewService(cfg *config.Config) *Service {
	return &Service{cfg: cfg}
}

// Verify validates a connection token issued by the identity provider and
// maps its claims onto an Identity. Any failure is an AuthenticationError.
func (s *Service) Verify(tokenString string) (*Identity, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, &protocol.AuthenticationError{Reason: "missing token"}
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.cfg.Auth.Secret, nil
	})
	if err != nil {
		return nil, &protocol.AuthenticationError{Reason: err.Error()}
	}

	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, &protocol.AuthenticationError{Reason: "invalid token"}
	}

	identity := &Identity{
		UserID:      stringClaim(claims, "sub"),
		DisplayName: stringClaim(claims, "name"),
		AvatarRef:   stringClaim(claims, "avatar"),
		Email:       stringClaim(claims, "email"),
		Role:        stringClaim(claims, "role"),
	}
	if identity.UserID == "" {
		return nil, &protocol.AuthenticationError{Reason: "token missing subject"}
	}
	if identity.DisplayName == "" {
		identity.DisplayName = identity.UserID
	}

	return identity, nil
}

func stringClaim(claims *jwt.MapClaims, key string) string {
	if value, ok := (*claims)[key].(string); ok {
		return value
	}
	return ""
}
