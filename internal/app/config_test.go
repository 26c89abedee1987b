package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waypoint/internal/store"
)

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("WAYPOINT_HOME", "/tmp/wp")
	t.Setenv("WAYPOINT_USER", "alice")
	t.Setenv("WAYPOINT_MAX_SKIP", "50")
	t.Setenv("WAYPOINT_SKIPPED_KEY_TTL", "1h")
	t.Setenv("WAYPOINT_REQUIRE_ONE_TIME_PREKEY", "false")
	t.Setenv("WAYPOINT_PREKEY_BATCH", "not-a-number")

	cfg := LoadConfig()
	assert.Equal(t, "/tmp/wp", cfg.Home)
	assert.Equal(t, "alice", cfg.User.String())
	assert.Equal(t, 50, cfg.Conversation.Ratchet.MaxSkip)
	assert.Equal(t, time.Hour, cfg.Conversation.Ratchet.SkippedKeyTTL)
	assert.False(t, cfg.Conversation.RequireOneTimePreKey)
	assert.Equal(t, 100, cfg.Conversation.PreKeyBatch)
	assert.Equal(t, StoreFile, cfg.Store)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Home: "/tmp/wp", Passphrase: "pw", Store: StoreFile}
	require.NoError(t, cfg.Validate())

	cfg.Store = StorePostgres
	require.ErrorContains(t, cfg.Validate(), "WAYPOINT_POSTGRES_DSN")

	cfg.Store = "s3"
	require.ErrorContains(t, cfg.Validate(), `unknown store "s3"`)

	require.Error(t, Config{Store: StoreFile}.Validate())
}

func TestNewWire_FileStoreWithoutRelay(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		Home:       t.TempDir(),
		User:       "alice",
		Passphrase: "pw",
		Store:      StoreFile,
		Scrypt:     store.ScryptParams{N: 1 << 10, R: 8, P: 1},
		LogMode:    "development",
	}
	w, err := NewWire(ctx, cfg)
	require.NoError(t, err)
	defer w.Close()

	assert.Nil(t, w.Messages)
	require.ErrorIs(t, w.RequireRelay(), ErrNoRelay)

	fp, err := w.Keys.Fingerprint(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, fp)

	cfg.RelayURL = "http://127.0.0.1:1"
	w2, err := NewWire(ctx, cfg)
	require.NoError(t, err)
	defer w2.Close()
	require.NotNil(t, w2.Messages)
	require.NotNil(t, w2.Signals)
	r, err := w2.Replenisher(ctx)
	require.NoError(t, err)
	require.NotNil(t, r)
}
