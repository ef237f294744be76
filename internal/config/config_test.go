package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("BOOKING_API_URL", "http://booking.local/api/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "http://booking.local/api", cfg.BookingAPI.BaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Availability.Debounce)
	assert.Equal(t, 24*time.Hour, cfg.Lifecycle.CancellationWindow)
	assert.Equal(t, 30*time.Minute, cfg.Draft.TTL)
	assert.Equal(t, "INR", cfg.Payment.Currency)
	assert.False(t, cfg.Broker.Enabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("BOOKING_API_URL", "http://booking.local")
	t.Setenv("AVAILABILITY_DEBOUNCE_MS", "250")
	t.Setenv("CANCELLATION_WINDOW_HOURS", "48")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("BROKER_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Availability.Debounce)
	assert.Equal(t, 48*time.Hour, cfg.Lifecycle.CancellationWindow)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.Broker.Enabled)
}

func TestValidate(t *testing.T) {
	t.Run("Missing JWT secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		t.Setenv("BOOKING_API_URL", "http://booking.local")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWT_SECRET")
	})

	t.Run("Missing booking API", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "secret")
		t.Setenv("BOOKING_API_URL", "")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "BOOKING_API_URL")
	})

	t.Run("Production requires gateway keys", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "secret")
		t.Setenv("BOOKING_API_URL", "http://booking.local")
		t.Setenv("ENVIRONMENT", "production")
		t.Setenv("GATEWAY_KEY_ID", "")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "GATEWAY_KEY_ID")
	})
}
