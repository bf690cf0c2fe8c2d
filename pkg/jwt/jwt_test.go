package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing-purposes"

func TestNewJWTManager(t *testing.T) {
	manager := NewJWTManager(testSecret, "marketchat-api", 15*time.Minute)

	assert.NotNil(t, manager)
	assert.Equal(t, testSecret, manager.secretKey)
	assert.Equal(t, "marketchat-api", manager.audience)
	assert.Equal(t, 15*time.Minute, manager.accessTokenDuration)
}

func TestValidateToken_ValidToken(t *testing.T) {
	manager := NewJWTManager(testSecret, "marketchat-api", 15*time.Minute)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "Ada", "https://cdn.example.com/ada.png")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)

	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "Ada", claims.DisplayName)
	assert.Equal(t, "https://cdn.example.com/ada.png", claims.PhotoURL)
	assert.Equal(t, "marketchat-auth", claims.Issuer)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.NotEmpty(t, claims.ID)
	assert.True(t, claims.ExpiresAt.After(claims.IssuedAt.Time))
}

func TestValidateToken_ExpiredToken(t *testing.T) {
	manager := NewJWTManager(testSecret, "marketchat-api", time.Nanosecond)

	token, err := manager.GenerateAccessToken(uuid.New(), "Ada", "")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	claims, err := manager.ValidateToken(token)
	assert.Error(t, err)
	assert.Nil(t, claims)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateToken_WrongAudience(t *testing.T) {
	issuerManager := NewJWTManager(testSecret, "other-api", 15*time.Minute)
	token, err := issuerManager.GenerateAccessToken(uuid.New(), "Ada", "")
	require.NoError(t, err)

	manager := NewJWTManager(testSecret, "marketchat-api", 15*time.Minute)
	claims, err := manager.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateToken_InvalidToken(t *testing.T) {
	manager := NewJWTManager(testSecret, "marketchat-api", 15*time.Minute)

	claims, err := manager.ValidateToken("invalid.token.here")

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	manager1 := NewJWTManager("secret-1", "marketchat-api", 15*time.Minute)
	token, err := manager1.GenerateAccessToken(uuid.New(), "Ada", "")
	require.NoError(t, err)

	manager2 := NewJWTManager("secret-2", "marketchat-api", 15*time.Minute)
	claims, err := manager2.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestTokenID(t *testing.T) {
	manager := NewJWTManager(testSecret, "marketchat-api", 15*time.Minute)
	token, err := manager.GenerateAccessToken(uuid.New(), "Ada", "")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)

	jti, err := TokenID(token)
	assert.NoError(t, err)
	assert.Equal(t, claims.ID, jti)

	_, err = TokenID("garbage")
	assert.Error(t, err)
}
