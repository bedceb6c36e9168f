package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goredis "github.com/redis/go-redis/v9"

	"github.com/stagedoor/handoff-server-go/internal/config"
	apperrors "github.com/stagedoor/handoff-server-go/internal/errors"
	"github.com/stagedoor/handoff-server-go/internal/redis"
	"github.com/stagedoor/handoff-server-go/internal/util"
)

const (
	AccessTokenCookie  = "accToken"
	RefreshTokenCookie = "refToken"
)

// RefreshTokenStore persists the single active refresh token per user.
// Issuing a new one displaces the old, so a stolen refresh token dies the
// next time the legitimate client rotates.
type RefreshTokenStore interface {
	Save(ctx context.Context, userID, token string, ttl time.Duration) error
	Get(ctx context.Context, userID string) (string, error)
	Delete(ctx context.Context, userID string) error
}

type redisRefreshStore struct {
	client *redis.Client
}

func NewRedisRefreshStore(client *redis.Client) RefreshTokenStore {
	return &redisRefreshStore{client: client}
}

func (s *redisRefreshStore) Save(ctx context.Context, userID, token string, ttl time.Duration) error {
	return s.client.Set(ctx, redis.RefreshTokenKey(userID), token, ttl).Err()
}

func (s *redisRefreshStore) Get(ctx context.Context, userID string) (string, error) {
	val, err := s.client.Get(ctx, redis.RefreshTokenKey(userID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	return val, err
}

func (s *redisRefreshStore) Delete(ctx context.Context, userID string) error {
	return s.client.Del(ctx, redis.RefreshTokenKey(userID)).Err()
}

type tokenClaims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies the access/refresh token pair. Access
// tokens are stateless; refresh tokens are additionally checked against the
// per-user store so logout and rotation revoke them server-side.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	refreshStore  RefreshTokenStore
	isProduction  bool
}

func NewTokenService(accessSecret, refreshSecret string, store RefreshTokenStore, isProduction bool) *TokenService {
	return &TokenService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		refreshStore:  store,
		isProduction:  isProduction,
	}
}

func (s *TokenService) sign(userID string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		ID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (s *TokenService) IssueAccessToken(userID string) (string, error) {
	return s.sign(userID, s.accessSecret, config.AccessTokenTTL)
}

// IssueRefreshToken signs a refresh token and records it as the user's only
// valid one.
func (s *TokenService) IssueRefreshToken(ctx context.Context, userID string) (string, error) {
	token, err := s.sign(userID, s.refreshSecret, config.RefreshTokenTTL)
	if err != nil {
		return "", err
	}
	if err := s.refreshStore.Save(ctx, userID, token, config.RefreshTokenTTL); err != nil {
		return "", err
	}
	return token, nil
}

func (s *TokenService) verify(token string, secret []byte) (string, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperrors.TokenExpired()
		}
		return "", apperrors.InvalidToken("Token verification failed").WithCause(err)
	}
	if claims.ID == "" {
		return "", apperrors.InvalidToken("Token carries no subject")
	}
	return claims.ID, nil
}

// VerifyAccessToken returns the user id the token was issued to.
func (s *TokenService) VerifyAccessToken(token string) (string, error) {
	return s.verify(token, s.accessSecret)
}

// VerifyRefreshToken accepts only the refresh token currently on record for
// its user; a verified signature on a displaced token is not enough.
func (s *TokenService) VerifyRefreshToken(ctx context.Context, token string) (string, error) {
	userID, err := s.verify(token, s.refreshSecret)
	if err != nil {
		return "", err
	}

	stored, err := s.refreshStore.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if stored == "" || !util.ConstantTimeEqual(stored, token) {
		return "", apperrors.InvalidToken("Refresh token has been revoked")
	}
	return userID, nil
}

func (s *TokenService) RevokeRefreshToken(ctx context.Context, userID string) error {
	return s.refreshStore.Delete(ctx, userID)
}

func (s *TokenService) authCookie(name, value string, maxAge time.Duration) *http.Cookie {
	sameSite := http.SameSiteLaxMode
	if s.isProduction {
		sameSite = http.SameSiteNoneMode
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Secure:   s.isProduction,
		HttpOnly: true,
		SameSite: sameSite,
	}
}

// SetAuthCookies attaches both tokens to the response.
func (s *TokenService) SetAuthCookies(w http.ResponseWriter, accessToken, refreshToken string) {
	http.SetCookie(w, s.authCookie(AccessTokenCookie, accessToken, config.AccessTokenTTL))
	http.SetCookie(w, s.authCookie(RefreshTokenCookie, refreshToken, config.RefreshTokenTTL))
}

// ClearAuthCookies expires both token cookies.
func (s *TokenService) ClearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, s.authCookie(AccessTokenCookie, "", -time.Second))
	http.SetCookie(w, s.authCookie(RefreshTokenCookie, "", -time.Second))
}
