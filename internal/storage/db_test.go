package storage

import (
	"bytes"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"go-relay/internal/logging"
	. "go-relay/pkg/chat"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestConnect_MigratesSchema(t *testing.T) {
	db, err := Connect(MemoryDBPath, logging.Discard())
	require.NoError(t, err)

	for _, model := range []any{&User{}, &RefreshToken{}, &Message{}} {
		assert.True(t, db.Migrator().HasTable(model), "missing table for %T", model)
	}
	assert.True(t, db.Migrator().HasIndex(&Message{}, "idx_messages_pair"))
}

func TestConnect_FileDatabaseSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")

	db, err := Connect(path, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, db.Create(&User{Username: "alice", Password: "x"}).Error)
	sqlDB, _ := db.DB()
	require.NoError(t, sqlDB.Close())

	db, err = Connect(path, logging.Discard())
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Model(&User{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestConnect_LogsThroughSlog(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	db, err := Connect(MemoryDBPath, log)
	require.NoError(t, err)

	t.Run("record not found is quiet", func(t *testing.T) {
		buf.Reset()
		var u User
		err := db.Where("username = ?", "nobody").First(&u).Error
		assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
		assert.Empty(t, buf.String())
	})

	t.Run("query errors reach the logger", func(t *testing.T) {
		buf.Reset()
		err := db.Exec("SELECT * FROM no_such_table").Error
		require.Error(t, err)
		assert.Contains(t, buf.String(), "component=gorm")
		assert.Contains(t, buf.String(), "no_such_table")
	})
}

func TestOpenBadger(t *testing.T) {
	db, err := OpenBadger(t.TempDir(), logging.Discard())
	require.NoError(t, err)
	defer db.Close()

	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	})
	require.NoError(t, err)
}
