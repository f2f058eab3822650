package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	. "go-relay/pkg/chat"
	"gorm.io/gorm"
)

var (
	ErrEmptyUsername       = errors.New("username cannot be empty")
	ErrEmptyPassword       = errors.New("password cannot be empty")
	ErrUsernameTaken       = errors.New("username already exists")
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

type AuthService struct {
	db         *gorm.DB
	log        *slog.Logger
	refreshTTL time.Duration
	now        func() time.Time
}

func NewAuthService(db *gorm.DB, refreshTTL time.Duration, log *slog.Logger) *AuthService {
	return &AuthService{db: db, log: log, refreshTTL: refreshTTL, now: time.Now}
}

func (s *AuthService) Register(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}
	if password == "" {
		return nil, ErrEmptyPassword
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if existing > 0 {
		return nil, ErrUsernameTaken
	}

	hashedPassword, err := HashString(password)
	if err != nil {
		return nil, err
	}

	user := User{
		Username: username,
		Password: hashedPassword,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.Info("user registered", "user_id", user.ID)
	return &user, nil
}

func (s *AuthService) Login(ctx context.Context, username, password string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !VerifyHashedString(password, user.Password) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

func (s *AuthService) CreateRefreshToken(ctx context.Context, userID string) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := base64.URLEncoding.EncodeToString(tokenBytes)

	refreshToken := RefreshToken{
		UserID:    userID,
		TokenHash: hashToken(token),
		ExpiresAt: s.now().Add(s.refreshTTL).Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&refreshToken).Error; err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return token, nil
}

// ValidateRefreshToken returns the owner of an unexpired refresh token and
// prunes that user's expired tokens.
func (s *AuthService) ValidateRefreshToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrInvalidRefreshToken
	}
	now := s.now().Unix()

	var rt RefreshToken
	err := s.db.WithContext(ctx).
		Where("token_hash = ? AND expires_at > ?", hashToken(token), now).
		First(&rt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	var user User
	if err := s.db.WithContext(ctx).Where("id = ?", rt.UserID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	if err := s.db.WithContext(ctx).Delete(&RefreshToken{}, "user_id = ? AND expires_at <= ?", rt.UserID, now).Error; err != nil {
		s.log.Warn("prune expired refresh tokens", "user_id", rt.UserID, "error", err)
	}
	return &user, nil
}

// RevokeRefreshToken deletes token. Unknown tokens are not an error.
func (s *AuthService) RevokeRefreshToken(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Delete(&RefreshToken{}, "token_hash = ?", hashToken(token)).Error
}
