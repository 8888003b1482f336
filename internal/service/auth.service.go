package service

import (
	"card-key-shop/internal/domain"
	"card-key-shop/internal/infrastructure/cache"
	"card-key-shop/internal/infrastructure/identity"
	"card-key-shop/internal/repo"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const oauthStateTTL = 10 * time.Minute

type AuthService interface {
	// BeginLogin issues a single-use state and returns the provider URL to redirect to.
	BeginLogin(ctx context.Context, next string) (string, error)
	// CompleteLogin consumes state, exchanges code and opens a session. It also returns
	// the path the user wanted before logging in.
	CompleteLogin(ctx context.Context, state, code string) (*domain.Session, string, error)
	// Authenticate returns the live session for id, or nil.
	Authenticate(ctx context.Context, sessionID string) (*domain.Session, error)
	Logout(ctx context.Context, sessionID string) error
	PurgeExpired(ctx context.Context) (int64, error)
}

type authService struct {
	sessionRepo repo.SessionRepo
	states      cache.StateStore
	provider    identity.Provider
	sessionTTL  time.Duration
	logger      *slog.Logger
}

func NewAuthService(
	sessionRepo repo.SessionRepo,
	states cache.StateStore,
	provider identity.Provider,
	sessionTTL time.Duration,
	logger *slog.Logger,
) AuthService {
	return &authService{
		sessionRepo: sessionRepo,
		states:      states,
		provider:    provider,
		sessionTTL:  sessionTTL,
		logger:      logger.With("module", "auth"),
	}
}

func (s *authService) BeginLogin(ctx context.Context, next string) (string, error) {
	state := uuid.NewString()
	if err := s.states.Put(ctx, state, cache.OAuthState{Next: safeNext(next), CreatedAt: time.Now()}, oauthStateTTL); err != nil {
		return "", err
	}
	return s.provider.AuthorizeURL(state), nil
}

func (s *authService) CompleteLogin(ctx context.Context, state, code string) (*domain.Session, string, error) {
	if state == "" {
		return nil, "", domain.ErrInvalidState
	}
	stored, err := s.states.Consume(ctx, state)
	if err != nil {
		return nil, "", err
	}
	if stored == nil {
		return nil, "", domain.ErrInvalidState
	}

	profile, err := s.provider.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn("identity exchange failed", "operation", "login", "outcome", "failed", "error", err)
		if identity.IsRejected(err) {
			return nil, "", fmt.Errorf("%w: %v", domain.ErrAuthenticationFailed, err)
		}
		return nil, "", err
	}

	now := time.Now()
	session := &domain.Session{
		ID:         uuid.NewString(),
		UserID:     profile.UserID,
		Username:   profile.Username,
		AvatarURL:  profile.AvatarURL,
		TrustLevel: profile.TrustLevel,
		CSRFToken:  uuid.NewString(),
		ExpiresAt:  now.Add(s.sessionTTL),
		CreatedAt:  now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, "", err
	}
	s.logger.Info("session opened", "operation", "login", "outcome", "ok", "user_id", profile.UserID)
	return session, stored.Next, nil
}

func (s *authService) Authenticate(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	return s.sessionRepo.FindActive(ctx, sessionID, time.Now())
}

func (s *authService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return s.sessionRepo.Delete(ctx, sessionID)
}

func (s *authService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.sessionRepo.DeleteExpired(ctx, time.Now())
}

// safeNext only keeps same-site absolute paths.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return "/"
	}
	return next
}
