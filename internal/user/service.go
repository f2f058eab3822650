package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go-relay/pkg/chat"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 50
)

type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

func (s *UserService) GetUser(ctx context.Context, userID string) (*chat.User, error) {
	var user chat.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// Usernames maps each known id in ids to its username. Unknown ids are
// left out.
func (s *UserService) Usernames(ctx context.Context, ids []string) (map[string]string, error) {
	ids = lo.Uniq(lo.Compact(ids))
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	var users []chat.User
	if err := s.db.WithContext(ctx).Select("id", "username").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	return lo.SliceToMap(users, func(u chat.User) (string, string) {
		return u.ID, u.Username
	}), nil
}

// Search finds users whose username contains query, case-insensitively,
// excluding the searcher. It returns one page and the total match count.
func (s *UserService) Search(ctx context.Context, searcherID, query string, limit int) ([]chat.User, int64, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	likeQuery := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"
	where := s.db.WithContext(ctx).Model(&chat.User{}).
		Where(`LOWER(username) LIKE ? ESCAPE '\' AND id != ?`, likeQuery, searcherID)

	var total int64
	if err := where.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var users []chat.User
	if err := where.Session(&gorm.Session{}).Order("username ASC").Limit(limit).Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
