package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/saptiva-ai/copilotos/pkg/cache"
	"github.com/saptiva-ai/copilotos/pkg/store"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemory()
	blacklist := cache.NewMemory()
	t.Cleanup(func() { _ = blacklist.Close() })
	tokens := NewTokenService("test-secret-key-for-unit-tests", "test-reset-secret-for-unit-tests", blacklist)
	return NewService(mem, tokens), mem
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	t.Run("success", func(t *testing.T) {
		user, err := svc.Register(ctx, RegisterRequest{
			Username: "maria",
			Email:    "Maria@Example.com",
			Password: "contraseña-segura",
		})
		require.NoError(t, err)
		assert.Equal(t, "maria", user.Username)
		assert.Equal(t, "maria@example.com", user.Email, "email is normalized to lowercase")
		assert.True(t, user.IsActive)
		assert.NotEqual(t, "contraseña-segura", user.PasswordHash)
	})

	t.Run("duplicate username", func(t *testing.T) {
		_, err := svc.Register(ctx, RegisterRequest{Username: "maria", Email: "otra@example.com", Password: "password123"})
		assert.ErrorIs(t, err, ErrUsernameTaken)
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.Register(ctx, RegisterRequest{Username: "maria2", Email: "maria@example.com", Password: "password123"})
		assert.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("short password rejected", func(t *testing.T) {
		_, err := svc.Register(ctx, RegisterRequest{Username: "pedro", Email: "pedro@example.com", Password: "corta"})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "password", vErr.Field)
	})

	t.Run("invalid email rejected", func(t *testing.T) {
		_, err := svc.Register(ctx, RegisterRequest{Username: "pedro", Email: "no-es-correo", Password: "password123"})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "email", vErr.Field)
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t)

	_, err := svc.Register(ctx, RegisterRequest{Username: "carlos", Email: "carlos@example.com", Password: "password123"})
	require.NoError(t, err)

	t.Run("by username", func(t *testing.T) {
		user, pair, err := svc.Login(ctx, "carlos", "password123")
		require.NoError(t, err)
		assert.Equal(t, "carlos", user.Username)
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)
		assert.Equal(t, "bearer", pair.TokenType)
		assert.NotNil(t, user.LastLogin)
	})

	t.Run("by email", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "Carlos@Example.com", "password123")
		require.NoError(t, err)
	})

	t.Run("username containing @ wins over email lookup", func(t *testing.T) {
		_, err := svc.Register(ctx, RegisterRequest{Username: "mesa@soporte", Email: "mesa@example.com", Password: "password123"})
		require.NoError(t, err)

		user, _, err := svc.Login(ctx, "mesa@soporte", "password123")
		require.NoError(t, err)
		assert.Equal(t, "mesa@soporte", user.Username)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "carlos", "incorrecta")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown user looks like wrong password", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "nadie", "password123")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("inactive account", func(t *testing.T) {
		user, err := mem.GetUserByUsername(ctx, "carlos")
		require.NoError(t, err)
		user.IsActive = false
		require.NoError(t, mem.UpdateUser(ctx, user))

		_, _, err = svc.Login(ctx, "carlos", "password123")
		assert.ErrorIs(t, err, ErrUserInactive)

		user.IsActive = true
		require.NoError(t, mem.UpdateUser(ctx, user))
	})

	t.Run("legacy bcrypt hash is upgraded", func(t *testing.T) {
		legacy, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
		require.NoError(t, err)

		user, err := mem.GetUserByUsername(ctx, "carlos")
		require.NoError(t, err)
		user.PasswordHash = string(legacy)
		require.NoError(t, mem.UpdateUser(ctx, user))

		_, _, err = svc.Login(ctx, "carlos", "password123")
		require.NoError(t, err)

		upgraded, err := mem.GetUserByUsername(ctx, "carlos")
		require.NoError(t, err)
		assert.False(t, NeedsRehash(upgraded.PasswordHash), "hash upgraded to argon2id")

		_, _, err = svc.Login(ctx, "carlos", "password123")
		require.NoError(t, err, "login still works after upgrade")
	})
}

func TestRefreshRotation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Register(ctx, RegisterRequest{Username: "ana", Email: "ana@example.com", Password: "password123"})
	require.NoError(t, err)
	_, pair, err := svc.Login(ctx, "ana", "password123")
	require.NoError(t, err)

	t.Run("refresh issues a new pair", func(t *testing.T) {
		next, err := svc.Refresh(ctx, pair.RefreshToken)
		require.NoError(t, err)
		assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

		t.Run("old refresh token is revoked", func(t *testing.T) {
			_, err := svc.Refresh(ctx, pair.RefreshToken)
			assert.ErrorIs(t, err, ErrTokenRevoked)
		})
	})

	t.Run("access token is not accepted as refresh", func(t *testing.T) {
		_, err := svc.Refresh(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Register(ctx, RegisterRequest{Username: "luis", Email: "luis@example.com", Password: "password123"})
	require.NoError(t, err)
	_, pair, err := svc.Login(ctx, "luis", "password123")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, pair.AccessToken, pair.RefreshToken))

	_, err = svc.ValidateAccess(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	t.Run("logout is idempotent", func(t *testing.T) {
		assert.NoError(t, svc.Logout(ctx, pair.AccessToken, pair.RefreshToken))
		assert.NoError(t, svc.Logout(ctx, "", ""))
	})
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Register(ctx, RegisterRequest{Username: "elena", Email: "elena@example.com", Password: "password123"})
	require.NoError(t, err)

	t.Run("unknown email yields no token and no error", func(t *testing.T) {
		token, err := svc.ForgotPassword(ctx, "nadie@example.com")
		require.NoError(t, err)
		assert.Empty(t, token)
	})

	t.Run("full reset flow", func(t *testing.T) {
		token, err := svc.ForgotPassword(ctx, "Elena@Example.com")
		require.NoError(t, err)
		require.NotEmpty(t, token)

		require.NoError(t, svc.ResetPassword(ctx, token, "nueva-contraseña"))

		_, _, err = svc.Login(ctx, "elena", "password123")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		_, _, err = svc.Login(ctx, "elena", "nueva-contraseña")
		assert.NoError(t, err)

		t.Run("reset token cannot be replayed", func(t *testing.T) {
			err := svc.ResetPassword(ctx, token, "otra-contraseña")
			assert.ErrorIs(t, err, ErrTokenRevoked)
		})
	})

	t.Run("access token is not accepted as reset token", func(t *testing.T) {
		_, pair, err := svc.Login(ctx, "elena", "nueva-contraseña")
		require.NoError(t, err)
		err = svc.ResetPassword(ctx, pair.AccessToken, "password-x-123")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestResetTokenKeySeparation(t *testing.T) {
	ctx := context.Background()
	blacklist := cache.NewMemory()
	t.Cleanup(func() { _ = blacklist.Close() })

	issuer := NewTokenService("session-secret", "reset-secret", blacklist)
	token, err := issuer.IssueResetToken("user-1", "elena")
	require.NoError(t, err)

	t.Run("valid under the issuing reset key", func(t *testing.T) {
		claims, err := issuer.Validate(ctx, token, TokenTypeReset)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.UserID)
	})

	t.Run("rejected when only the reset key differs", func(t *testing.T) {
		other := NewTokenService("session-secret", "another-reset-secret", blacklist)
		_, err := other.Validate(ctx, token, TokenTypeReset)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("session key cannot mint a reset token", func(t *testing.T) {
		sessionOnly := NewTokenService("session-secret", "session-secret", blacklist)
		forged, err := sessionOnly.IssueResetToken("user-1", "elena")
		require.NoError(t, err)
		_, err = issuer.Validate(ctx, forged, TokenTypeReset)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestPasswordHashing(t *testing.T) {
	t.Run("argon2id round trip", func(t *testing.T) {
		hash, err := HashPassword("secreto123")
		require.NoError(t, err)
		assert.NoError(t, VerifyPassword("secreto123", hash))
		assert.ErrorIs(t, VerifyPassword("otro", hash), ErrPasswordMismatch)
		assert.False(t, NeedsRehash(hash))
	})

	t.Run("hashes are salted", func(t *testing.T) {
		a, err := HashPassword("secreto123")
		require.NoError(t, err)
		b, err := HashPassword("secreto123")
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("unknown format rejected", func(t *testing.T) {
		assert.Error(t, VerifyPassword("x", "plaintext"))
	})
}
