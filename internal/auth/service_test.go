package auth

import (
	"testing"
	"time"

	"collab-app/internal/config"
	"collab-app/internal/protocol"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func newTestService() *Service {
	return NewService(&config.Config{Auth: config.AuthConfig{Secret: testSecret}})
}

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestVerifyMapsClaims(t *testing.T) {
	service := newTestService()

	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":    "alice",
		"name":   "Alice",
		"avatar": "avatars/alice.png",
		"email":  "alice@example.com",
		"role":   "admin",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	identity, err := service.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.UserID)
	assert.Equal(t, "Alice", identity.DisplayName)
	assert.Equal(t, "avatars/alice.png", identity.AvatarRef)
	assert.Equal(t, "alice@example.com", identity.Email)
	assert.Equal(t, "admin", identity.Role)
}

func TestVerifyDisplayNameFallsBackToSubject(t *testing.T) {
	service := newTestService()

	token := signToken(t, testSecret, jwt.MapClaims{"sub": "alice"})
	identity, err := service.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.DisplayName)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	service := newTestService()

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage", "not.a.token"},
		{"wrong secret", signToken(t, []byte("other-secret"), jwt.MapClaims{"sub": "alice"})},
		{"missing subject", signToken(t, testSecret, jwt.MapClaims{"name": "Alice"})},
		{"expired", signToken(t, testSecret, jwt.MapClaims{
			"sub": "alice",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Verify(tt.token)
			var authErr *protocol.AuthenticationError
			require.ErrorAs(t, err, &authErr)
		})
	}
}

func TestElevatedRoles(t *testing.T) {
	assert.True(t, Identity{Role: "admin"}.Elevated())
	assert.True(t, Identity{Role: "manager"}.Elevated())
	assert.False(t, Identity{Role: "member"}.Elevated())
	assert.False(t, Identity{}.Elevated())
}
