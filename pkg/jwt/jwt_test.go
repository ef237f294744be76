package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccessSecret = "test-access-secret-key-for-testing-purposes"

func testSubject() Subject {
	return Subject{
		UserID: uuid.New(),
		Name:   "Asha Rao",
		Phone:  "9876543210",
		Email:  "asha@example.com",
		Roles:  []string{"guest"},
	}
}

func TestNewService(t *testing.T) {
	service := NewService(testAccessSecret, time.Hour)

	assert.NotNil(t, service)
	assert.Equal(t, testAccessSecret, service.accessSecret)
	assert.Equal(t, time.Hour, service.accessTokenExpiry)
}

func TestGenerateAccessToken(t *testing.T) {
	service := NewService(testAccessSecret, time.Hour)
	sub := testSubject()

	token, err := service.GenerateAccessToken(sub)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := service.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, sub.UserID, claims.UserID)
	assert.Equal(t, sub.Name, claims.Name)
	assert.Equal(t, sub.Phone, claims.Phone)
	assert.Equal(t, sub.Email, claims.Email)
	assert.Equal(t, sub.Roles, claims.Roles)
	assert.Equal(t, AccessToken, claims.TokenType)
	assert.Equal(t, "smartstay-booking", claims.Issuer)
	assert.Equal(t, sub.UserID.String(), claims.Subject)
}

func TestValidateAccessToken(t *testing.T) {
	service := NewService(testAccessSecret, time.Hour)

	token, err := service.GenerateAccessToken(testSubject())
	require.NoError(t, err)

	_, err = service.ValidateAccessToken("invalid.token.here")
	assert.Error(t, err)

	wrongService := NewService("wrong-secret", time.Hour)
	_, err = wrongService.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestValidateAccessToken_WrongType(t *testing.T) {
	claims := Claims{
		UserID:    uuid.New(),
		TokenType: TokenType("refresh"),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testAccessSecret))
	require.NoError(t, err)

	_, err = NewService(testAccessSecret, time.Hour).ValidateAccessToken(token)
	assert.ErrorContains(t, err, "invalid token type")
}

func TestExpiredToken(t *testing.T) {
	service := NewService(testAccessSecret, -time.Minute)

	token, err := service.GenerateAccessToken(testSubject())
	require.NoError(t, err)

	_, err = service.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestTokenSigningMethod(t *testing.T) {
	service := NewService(testAccessSecret, time.Hour)

	token, err := service.GenerateAccessToken(testSubject())
	require.NoError(t, err)

	parsedToken, err := jwt.ParseWithClaims(token, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(testAccessSecret), nil
	})
	require.NoError(t, err)

	_, ok := parsedToken.Method.(*jwt.SigningMethodHMAC)
	assert.True(t, ok, "Token should use HMAC signing method")
}

func TestConcurrentTokenGeneration(t *testing.T) {
	service := NewService(testAccessSecret, time.Hour)

	done := make(chan bool)
	errors := make(chan error, 100)

	for i := 0; i < 100; i++ {
		go func() {
			token, err := service.GenerateAccessToken(testSubject())
			if err != nil {
				errors <- err
				done <- true
				return
			}

			if _, err := service.ValidateAccessToken(token); err != nil {
				errors <- err
			}
			done <- true
		}()
	}

	for i := 0; i < 100; i++ {
		<-done
	}

	close(errors)
	assert.Empty(t, errors)
}
