package repo

import (
	"card-key-shop/internal/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type SessionRepo interface {
	Create(ctx context.Context, s *domain.Session) error
	// FindActive returns nil when the session does not exist or has expired.
	FindActive(ctx context.Context, id string, now time.Time) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type sessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, username, avatar_url, trust_level, csrf_token, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.UserID, s.Username, s.AvatarURL, s.TrustLevel, s.CSRFToken, s.ExpiresAt, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *sessionRepo) FindActive(ctx context.Context, id string, now time.Time) (*domain.Session, error) {
	var s domain.Session
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, username, avatar_url, trust_level, csrf_token, expires_at, created_at
		 FROM sessions WHERE id = $1 AND expires_at > $2`,
		id, now,
	).Scan(&s.ID, &s.UserID, &s.Username, &s.AvatarURL, &s.TrustLevel, &s.CSRFToken, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return &s, nil
}

func (r *sessionRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *sessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
