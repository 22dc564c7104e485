package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMapDefaults(t *testing.T) {
	cfg, err := FromMap(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3001", cfg.ServerURL)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 5, cfg.ReconnectAttempts)
	assert.Equal(t, time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 15*time.Second, cfg.CreateJoinGrace)
	assert.Equal(t, 5*time.Second, cfg.OperationGrace)
}

func TestFromMapErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad duration", env: map[string]string{"DUEL_CONNECT_TIMEOUT": "soon"}},
		{name: "bad url scheme", env: map[string]string{"DUEL_SERVER_URL": "ftp://example.com"}},
		{name: "negative attempts", env: map[string]string{"DUEL_RECONNECT_ATTEMPTS": "-1"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromMap(tc.env)
			require.Error(t, err)
		})
	}
}

func TestWebSocketURL(t *testing.T) {
	cfg, err := FromMap(map[string]string{
		"DUEL_SERVER_URL":  "https://duel.example.com/base/",
		"DUEL_PLAYER_NAME": "Ada Lovelace",
	})
	require.NoError(t, err)

	assert.Equal(t, "wss://duel.example.com/base/ws?name=Ada+Lovelace", cfg.WebSocketURL())
	assert.Equal(t, "https://duel.example.com/base/api/rooms", cfg.RoomsURL())
}

func TestLoadReadsDotenvWithoutOverridingEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("DUEL_PLAYER_NAME=FromFile\nDUEL_RECONNECT_ATTEMPTS=2\n"), 0o600))
	t.Setenv("DUEL_RECONNECT_ATTEMPTS", "7")
	// godotenv.Load sets variables in the process; restore them after the test.
	t.Setenv("DUEL_PLAYER_NAME", "")
	require.NoError(t, os.Unsetenv("DUEL_PLAYER_NAME"))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "FromFile", cfg.PlayerName)
	assert.Equal(t, 7, cfg.ReconnectAttempts)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}
