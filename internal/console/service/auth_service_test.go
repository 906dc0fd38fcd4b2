package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/trading-floor-prototype/internal/domain"
	"github.com/xela07ax/trading-floor-prototype/internal/infra/auth"
)

type fakeUsers struct {
	users map[string]*domain.User
}

func (f *fakeUsers) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return f.users[username], nil // nil для незнакомца — как в Postgres-репозитории
}

func newAuthFixture(t *testing.T) (*AuthService, *auth.BaseValidator) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)

	repo := &fakeUsers{users: map[string]*domain.User{
		"operator-1": {
			ID:           "u-1",
			Username:     "operator-1",
			PasswordHash: string(hash),
			Scopes:       map[string]bool{"floor.admin": true},
		},
	}}
	return NewAuthService(repo, key, time.Hour), auth.NewBaseValidator(&key.PublicKey)
}

func TestTokenRoundTrip(t *testing.T) {
	svc, validator := newAuthFixture(t)

	resp, err := svc.GenerateToken(context.Background(), "operator-1", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Greater(t, resp.ExpiresIn, int64(3500))

	claims, err := validator.VerifyToken("Bearer " + resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.True(t, claims.Scopes["floor.admin"])
	assert.Equal(t, "floor-console", claims.Issuer)
}

func TestTokenRejectsWrongPassword(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.GenerateToken(context.Background(), "operator-1", "wrong")
	assert.Error(t, err)
}

func TestTokenRejectsUnknownUser(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.GenerateToken(context.Background(), "nobody", "whatever")
	assert.Error(t, err)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	svc, _ := newAuthFixture(t)
	resp, err := svc.GenerateToken(context.Background(), "operator-1", "correct horse")
	require.NoError(t, err)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	stranger := auth.NewBaseValidator(&otherKey.PublicKey)

	_, err = stranger.VerifyToken(resp.AccessToken)
	assert.Error(t, err, "подпись чужим ключом не проходит")
}
