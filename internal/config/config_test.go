package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(15), cfg.Economy.InitialBalance)
	assert.Equal(t, int64(5), cfg.Economy.CardCreationReward)
	assert.Equal(t, int64(2), cfg.Economy.CorrectCardCost)
	assert.Equal(t, int64(5), cfg.Economy.SpecialContentCost)
	assert.Equal(t, int64(50), cfg.Economy.NFTMintCost)
	assert.Equal(t, 5, cfg.Economy.InitialFeedSize)
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoadFileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	doc := []byte(`
server:
  port: 9090
economy:
  initial_balance: 30
  initial_feed_size: 8
audit:
  schedule: "@every 1m"
`)
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	chdir(t, dir)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("ECONOMY_INITIAL_FEED_SIZE", "3")
	t.Setenv("AUTH_TOKEN_TTL", "2h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, int64(30), cfg.Economy.InitialBalance)
	assert.Equal(t, 3, cfg.Economy.InitialFeedSize, "environment overrides file")
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "@every 1m", cfg.Audit.Schedule)
	assert.Equal(t, int64(2), cfg.Economy.CorrectCardCost, "unset keys keep defaults")
}

func TestValidateRejectsBadEconomy(t *testing.T) {
	cfg := Default()
	cfg.Economy.CorrectCardCost = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Economy.InitialFeedSize = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Default().Validate())
}

func TestLoadMissingFile(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_FILE", "does-not-exist.yaml")
	_, err := Load()
	assert.Error(t, err)
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
