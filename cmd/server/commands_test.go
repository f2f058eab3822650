package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"go-relay/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing"

func TestTokenCommand(t *testing.T) {
	t.Setenv("RELAY_APP_SECRET", testSecret)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"token", "--user", "u1", "--name", "alice", "--ttl", "10m"})
	require.NoError(t, root.Execute())

	claims, err := auth.NewTokenIssuer(testSecret, time.Hour).Validate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenCommand_RequiresUser(t *testing.T) {
	t.Setenv("RELAY_APP_SECRET", testSecret)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"token"})
	assert.Error(t, root.Execute())
}

func TestMigrateCommand(t *testing.T) {
	t.Setenv("RELAY_APP_SECRET", testSecret)
	t.Setenv("RELAY_DB_PATH", t.TempDir()+"/relay.db")

	root := newRootCmd()
	root.SetArgs([]string{"migrate"})
	assert.NoError(t, root.Execute())
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "relay v"+version+"\n", out.String())
}
