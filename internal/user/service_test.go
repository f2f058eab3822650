package user

import (
	"context"
	"testing"

	"go-relay/internal/logging"
	"go-relay/internal/storage"
	"go-relay/pkg/chat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedUsers(t *testing.T, db *gorm.DB, names ...string) []chat.User {
	t.Helper()
	users := make([]chat.User, 0, len(names))
	for _, name := range names {
		u := chat.User{Username: name, Password: "x"}
		require.NoError(t, db.Create(&u).Error)
		users = append(users, u)
	}
	return users
}

func setup(t *testing.T) (*UserService, *gorm.DB) {
	db, err := storage.Connect(storage.MemoryDBPath, logging.Discard())
	require.NoError(t, err)
	return NewUserService(db), db
}

func TestUserService_GetUser(t *testing.T) {
	svc, db := setup(t)
	users := seedUsers(t, db, "alice")

	u, err := svc.GetUser(context.Background(), users[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = svc.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserService_Usernames(t *testing.T) {
	svc, db := setup(t)
	users := seedUsers(t, db, "alice", "bob")

	names, err := svc.Usernames(context.Background(), []string{users[0].ID, users[1].ID, users[0].ID, "ghost", ""})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{users[0].ID: "alice", users[1].ID: "bob"}, names)

	names, err = svc.Usernames(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestUserService_Search(t *testing.T) {
	svc, db := setup(t)
	users := seedUsers(t, db, "Alice", "alicia", "bob", "mal_ice")
	ctx := context.Background()

	found, total, err := svc.Search(ctx, users[2].ID, "ALI", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, []string{"Alice", "alicia"}, usernames(found))

	found, total, err = svc.Search(ctx, users[0].ID, "ali", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total, "searcher is excluded")
	assert.Equal(t, []string{"alicia"}, usernames(found))

	found, _, err = svc.Search(ctx, users[2].ID, "_", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"mal_ice"}, usernames(found), "underscore is literal")
}

func usernames(users []chat.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Username
	}
	return out
}
