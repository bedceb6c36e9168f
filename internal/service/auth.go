package service

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/stagedoor/handoff-server-go/internal/errors"
	"github.com/stagedoor/handoff-server-go/internal/model"
	"github.com/stagedoor/handoff-server-go/internal/repository"
	"github.com/stagedoor/handoff-server-go/internal/util"
)

// PendingLoginSource resolves which user a redeemed login ticket belongs to.
type PendingLoginSource interface {
	ConsumePendingLogin(clientID string) (string, bool)
}

// AuthResult is a successful authentication: the user plus a fresh token
// pair.
type AuthResult struct {
	User         *model.User
	AccessToken  string
	RefreshToken string
}

// AuthService owns every way into an authenticated session: password login,
// ticket redemption from a pairing handoff, token refresh, and logout.
type AuthService struct {
	users   repository.UserRepository
	tokens  *TokenService
	tickets *TicketStore
	logins  PendingLoginSource
}

func NewAuthService(
	users repository.UserRepository,
	tokens *TokenService,
	tickets *TicketStore,
	logins PendingLoginSource,
) *AuthService {
	return &AuthService{
		users:   users,
		tokens:  tokens,
		tickets: tickets,
		logins:  logins,
	}
}

func (s *AuthService) issue(ctx context.Context, user *model.User) (*AuthResult, error) {
	accessToken, err := s.tokens.IssueAccessToken(user.ID)
	if err != nil {
		return nil, apperrors.Internal("Failed to issue access token").WithCause(err)
	}
	refreshToken, err := s.tokens.IssueRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, apperrors.Internal("Failed to issue refresh token").WithCause(err)
	}
	return &AuthResult{User: user, AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (s *AuthService) activeUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil {
		return nil, apperrors.Unauthorized("Account no longer exists")
	}
	if user.Status != model.UserStatusActive {
		return nil, apperrors.Forbidden("Account is not active")
	}
	return user, nil
}

// Login authenticates with an email or phone number plus password. The
// failure message never reveals whether the identifier or the password was
// wrong.
func (s *AuthService) Login(ctx context.Context, emailOrPhone, password string) (*AuthResult, error) {
	user, err := s.users.FindByEmailOrPhone(ctx, emailOrPhone)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil || !util.CheckPasswordHash(password, user.PasswordHash) {
		return nil, apperrors.Unauthorized("Invalid credentials")
	}
	if user.Status != model.UserStatusActive {
		return nil, apperrors.Forbidden("Account is not active")
	}

	result, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}

	log.Info().Str("userId", user.ID).Msg("password login")
	return result, nil
}

// LoginWithTicket redeems a pairing ticket for a session. The ticket must
// match the one issued to this exact client, and it burns on first use
// whether or not the rest of the login succeeds.
func (s *AuthService) LoginWithTicket(ctx context.Context, clientID, ticket string) (*AuthResult, error) {
	if !s.tickets.Redeem(clientID, ticket) {
		return nil, apperrors.Unauthorized("Invalid or expired ticket")
	}

	userID, ok := s.logins.ConsumePendingLogin(clientID)
	if !ok {
		return nil, apperrors.Unauthorized("No confirmed login for this client")
	}

	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	result, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}

	log.Info().Str("userId", user.ID).Str("clientId", clientID).Msg("ticket login")
	return result, nil
}

// Verify resolves an access token to its active user.
func (s *AuthService) Verify(ctx context.Context, accessToken string) (*model.User, error) {
	userID, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	return s.activeUser(ctx, userID)
}

// Refresh rotates both tokens off a valid refresh token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	userID, err := s.tokens.VerifyRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, user)
}

// Logout revokes the user's refresh token. The access token keeps working
// until it expires; that window is why it is short-lived.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	if err := s.tokens.RevokeRefreshToken(ctx, userID); err != nil {
		return apperrors.Internal("Failed to revoke refresh token").WithCause(err)
	}
	log.Info().Str("userId", userID).Msg("logout")
	return nil
}
