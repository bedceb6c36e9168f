package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/stagedoor/handoff-server-go/internal/errors"
)

type memoryRefreshStore struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newMemoryRefreshStore() *memoryRefreshStore {
	return &memoryRefreshStore{tokens: make(map[string]string)}
}

func (s *memoryRefreshStore) Save(_ context.Context, userID, token string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = token
	return nil
}

func (s *memoryRefreshStore) Get(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[userID], nil
}

func (s *memoryRefreshStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, userID)
	return nil
}

func newTestTokenService(store RefreshTokenStore) *TokenService {
	return NewTokenService("access-secret-for-tests", "refresh-secret-for-tests", store, false)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := newTestTokenService(newMemoryRefreshStore())

	token, err := svc.IssueAccessToken("user-1")
	require.NoError(t, err)

	userID, err := svc.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestAccessTokenRejectsWrongSecret(t *testing.T) {
	issuer := newTestTokenService(newMemoryRefreshStore())
	verifier := NewTokenService("a-completely-different-secret", "refresh-secret-for-tests", newMemoryRefreshStore(), false)

	token, err := issuer.IssueAccessToken("user-1")
	require.NoError(t, err)

	_, err = verifier.VerifyAccessToken(token)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidToken, apperrors.GetCode(err))
}

func TestAccessTokenRejectsRefreshToken(t *testing.T) {
	svc := newTestTokenService(newMemoryRefreshStore())

	refresh, err := svc.IssueRefreshToken(context.Background(), "user-1")
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(refresh)
	require.Error(t, err, "tokens signed with the refresh secret must not pass as access tokens")
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	svc := newTestTokenService(newMemoryRefreshStore())
	ctx := context.Background()

	token, err := svc.IssueRefreshToken(ctx, "user-1")
	require.NoError(t, err)

	userID, err := svc.VerifyRefreshToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestRefreshTokenDisplacedByRotation(t *testing.T) {
	svc := newTestTokenService(newMemoryRefreshStore())
	ctx := context.Background()

	first, err := svc.IssueRefreshToken(ctx, "user-1")
	require.NoError(t, err)

	// Signed at a different second so the two tokens differ.
	time.Sleep(1100 * time.Millisecond)

	second, err := svc.IssueRefreshToken(ctx, "user-1")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, err = svc.VerifyRefreshToken(ctx, first)
	require.Error(t, err, "displaced refresh token must be rejected")
	assert.Equal(t, apperrors.ErrCodeInvalidToken, apperrors.GetCode(err))

	_, err = svc.VerifyRefreshToken(ctx, second)
	assert.NoError(t, err)
}

func TestRefreshTokenRevocation(t *testing.T) {
	svc := newTestTokenService(newMemoryRefreshStore())
	ctx := context.Background()

	token, err := svc.IssueRefreshToken(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.RevokeRefreshToken(ctx, "user-1"))

	_, err = svc.VerifyRefreshToken(ctx, token)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidToken, apperrors.GetCode(err))
}

func TestVerifyGarbageToken(t *testing.T) {
	svc := newTestTokenService(newMemoryRefreshStore())

	_, err := svc.VerifyAccessToken("not-a-jwt")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidToken, apperrors.GetCode(err))
}
