package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET_KEY", "test-jwt-secret")
	t.Setenv("SECRET_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("SAPTIVA_FORCE_MOCK", "true")
}

func TestLoad(t *testing.T) {
	t.Run("loads defaults with minimal environment", func(t *testing.T) {
		validEnv(t)

		s, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"http://localhost:3000"}, s.CORSOrigins)
		assert.Equal(t, []string{"*"}, s.AllowedHosts)
		assert.True(t, s.DeepResearchKillSwitch)
		assert.Equal(t, 1000, s.UserRateLimitPerHour)
		assert.Equal(t, 24*time.Hour, s.TaskTTL)
	})

	t.Run("rejects short SECRET_KEY", func(t *testing.T) {
		validEnv(t)
		t.Setenv("SECRET_KEY", "too-short")

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidValue)
	})

	t.Run("requires JWT_SECRET_KEY", func(t *testing.T) {
		validEnv(t)
		t.Setenv("JWT_SECRET_KEY", "")

		_, err := Load()
		assert.ErrorIs(t, err, ErrMissingRequiredField)
	})

	t.Run("requires API key unless mock is forced", func(t *testing.T) {
		validEnv(t)
		t.Setenv("SAPTIVA_FORCE_MOCK", "false")
		t.Setenv("SAPTIVA_API_KEY", "")

		_, err := Load()
		assert.ErrorIs(t, err, ErrMissingRequiredField)
	})
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty", "", nil},
		{"csv", "a.example.com, b.example.com", []string{"a.example.com", "b.example.com"}},
		{"json array", `["https://a.test","https://b.test"]`, []string{"https://a.test", "https://b.test"}},
		{"csv with blanks", "a,,b,", []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseList(tt.raw))
		})
	}
}

func TestIsAdminUser(t *testing.T) {
	validEnv(t)
	t.Setenv("MCP_ADMIN_USERS", "admin@saptiva.com, ops")

	s, err := Load()
	require.NoError(t, err)

	assert.True(t, s.IsAdminUser("admin@saptiva.com"))
	assert.True(t, s.IsAdminUser("OPS"))
	assert.False(t, s.IsAdminUser("random@example.com"))
}

func TestGetDuration(t *testing.T) {
	t.Run("accepts bare seconds", func(t *testing.T) {
		t.Setenv("SAPTIVA_CONNECT_TIMEOUT", "15")
		assert.Equal(t, 15*time.Second, getDuration("SAPTIVA_CONNECT_TIMEOUT", time.Second))
	})

	t.Run("accepts Go duration syntax", func(t *testing.T) {
		t.Setenv("SAPTIVA_READ_TIMEOUT", "2m")
		assert.Equal(t, 2*time.Minute, getDuration("SAPTIVA_READ_TIMEOUT", time.Second))
	})
}
