package service

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planora/planora-auth/internal/models"
)

func newTestIssuer(repo tokenRepository) *TokenIssuer {
	return NewTokenIssuer(repo, TokenConfig{
		Secret:     "secret",
		Issuer:     "planora-auth",
		Audience:   []string{"planora-api"},
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 14 * 24 * time.Hour,
	})
}

func TestIssueTokens(t *testing.T) {
	repo := newFakeAuthRepo()
	issuer := newTestIssuer(repo)
	user := &models.User{ID: "u1", Username: "alice", Role: models.RoleMember, Active: true}

	issued, err := issuer.Issue(context.Background(), user, models.RequestMeta{IP: "10.0.0.1", UserAgent: "test"}, "")
	require.NoError(t, err)

	claims, err := issuer.Verify(issued.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, models.RoleMember, claims.Role)
	assert.Equal(t, issued.JTI, claims.ID)
	assert.Equal(t, "planora-auth", claims.Issuer)

	assert.Equal(t, int64(900), issued.AccessExpiresIn)
	assert.WithinDuration(t, time.Now().Add(14*24*time.Hour), issued.RefreshExpiresAt, time.Minute)

	// 64 bytes of entropy encode to 86 base64url characters.
	raw, err := base64.RawURLEncoding.DecodeString(issued.RefreshToken)
	require.NoError(t, err)
	assert.Len(t, raw, refreshSecretBytes)

	// Only the digest is persisted, never the secret.
	record, err := repo.FindRefreshTokenByHash(context.Background(), HashRefreshToken(issued.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, issued.Record.ID, record.ID)
	assert.NotEqual(t, issued.RefreshToken, record.TokenHash)
	assert.Equal(t, issued.JTI, record.JTI)
	assert.Equal(t, "10.0.0.1", record.IPAddress)
}

func TestIssueTokensAreUnique(t *testing.T) {
	repo := newFakeAuthRepo()
	issuer := newTestIssuer(repo)
	user := &models.User{ID: "u1", Username: "alice", Role: models.RoleMember, Active: true}

	first, err := issuer.Issue(context.Background(), user, models.RequestMeta{}, "")
	require.NoError(t, err)
	second, err := issuer.Issue(context.Background(), user, models.RequestMeta{}, "")
	require.NoError(t, err)

	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.JTI, second.JTI)
}

func TestIssueWithReplacementRotates(t *testing.T) {
	repo := newFakeAuthRepo()
	issuer := newTestIssuer(repo)
	user := &models.User{ID: "u1", Username: "alice", Role: models.RoleMember, Active: true}
	ctx := context.Background()

	first, err := issuer.Issue(ctx, user, models.RequestMeta{}, "")
	require.NoError(t, err)

	second, err := issuer.Issue(ctx, user, models.RequestMeta{}, first.Record.ID)
	require.NoError(t, err)

	old, err := repo.FindRefreshTokenByHash(ctx, HashRefreshToken(first.RefreshToken))
	require.NoError(t, err)
	assert.True(t, old.Revoked)
	require.NotNil(t, old.ReplacedByTokenID)
	assert.Equal(t, second.Record.ID, *old.ReplacedByTokenID)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	repo := newFakeAuthRepo()
	issuer := newTestIssuer(repo)
	user := &models.User{ID: "u1", Username: "alice", Role: models.RoleMember, Active: true}

	issued, err := issuer.Issue(context.Background(), user, models.RequestMeta{}, "")
	require.NoError(t, err)

	other := NewTokenIssuer(repo, TokenConfig{Secret: "other-secret", AccessTTL: time.Minute, RefreshTTL: time.Hour})
	_, err = other.Verify(issued.AccessToken)
	assert.Error(t, err)

	_, err = issuer.Verify(issued.AccessToken + "x")
	assert.Error(t, err)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	repo := newFakeAuthRepo()
	user := &models.User{ID: "u1", Username: "alice", Role: models.RoleMember, Active: true}

	// Same secret, different issuer: the signature alone is not enough.
	foreign := NewTokenIssuer(repo, TokenConfig{
		Secret:     "secret",
		Issuer:     "some-other-service",
		Audience:   []string{"planora-api"},
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 14 * 24 * time.Hour,
	})
	issued, err := foreign.Issue(context.Background(), user, models.RequestMeta{}, "")
	require.NoError(t, err)

	_, err = newTestIssuer(repo).Verify(issued.AccessToken)
	assert.Error(t, err)
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	repo := newFakeAuthRepo()
	user := &models.User{ID: "u1", Username: "alice", Role: models.RoleMember, Active: true}

	foreign := NewTokenIssuer(repo, TokenConfig{
		Secret:     "secret",
		Issuer:     "planora-auth",
		Audience:   []string{"some-other-api"},
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 14 * 24 * time.Hour,
	})
	issued, err := foreign.Issue(context.Background(), user, models.RequestMeta{}, "")
	require.NoError(t, err)

	_, err = newTestIssuer(repo).Verify(issued.AccessToken)
	assert.Error(t, err)
}

func TestHashRefreshTokenDeterministic(t *testing.T) {
	token := "some-refresh-secret"
	assert.Equal(t, HashRefreshToken(token), HashRefreshToken(token))
	assert.NotEqual(t, HashRefreshToken(token), HashRefreshToken(token+"x"))
	assert.Len(t, HashRefreshToken(token), 64)
}
