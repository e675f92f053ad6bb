package scraper

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bizkut/callsignscrapper/store"
)

func TestLoadConfig_FillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
data_dir: /var/lib/callsigns
storage:
  backend: sqlite
registry:
  timeout: 90s
pacing:
  min_delay: 1s
  max_delay: 3s
  blocked_cooldown: 10m
session:
  duplicate_threshold: 25
  max_page: 400
logging:
  level: debug
  file: scraper.log
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "/var/lib/callsigns", cfg.DataDir)
	require.Equal(t, store.BackendSQLite, cfg.Storage.Backend)
	require.Equal(t, "callsigns.db", cfg.Storage.SQLiteFile)
	require.Equal(t, "corrupt", cfg.Storage.QuarantineDir)

	require.Equal(t, 90*time.Second, cfg.Registry.Timeout)
	require.Equal(t, "AARadio", cfg.Registry.ApparatusType)
	require.Equal(t, 3, cfg.Registry.Retries)

	require.Equal(t, time.Second, cfg.Pacing.MinDelay)
	require.Equal(t, 3*time.Second, cfg.Pacing.MaxDelay)
	require.Equal(t, 10*time.Minute, cfg.Pacing.BlockedCooldown)
	require.Equal(t, 30*time.Minute, cfg.Pacing.MaxBlockedCooldown)
	require.Equal(t, 50, cfg.Pacing.LongBreakEvery)

	require.Equal(t, 25, cfg.Session.DuplicateThreshold)
	require.Equal(t, 5, cfg.Session.CheckpointEvery)
	require.Equal(t, 10000, cfg.Session.RotateEvery)
	require.Equal(t, 400, cfg.Session.MaxPage)

	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "scraper.log", cfg.Logging.File)
	require.Equal(t, 20, cfg.Logging.MaxSizeMB)

	sc := cfg.StoreConfig(nil)
	require.Equal(t, "/var/lib/callsigns", sc.Dir)
	require.Equal(t, store.BackendSQLite, sc.Backend)
}

func TestLoadConfig_KeepsExplicitZeros(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
storage:
  quarantine_dir: ""
registry:
  retries: 0
pacing:
  min_delay: 0s
  max_delay: 0s
  long_break_every: 0
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "", cfg.Storage.QuarantineDir)
	require.Equal(t, 0, cfg.Registry.Retries)
	require.Equal(t, time.Duration(0), cfg.Pacing.MinDelay)
	require.Equal(t, time.Duration(0), cfg.Pacing.MaxDelay)
	require.Equal(t, 0, cfg.Pacing.LongBreakEvery)
	require.Equal(t, time.Duration(0), cfg.Pacing.InterPageDelay(50, nil))

	// Untouched siblings keep their defaults.
	require.Equal(t, "callsigns.json", cfg.Storage.RecordsFile)
	require.Equal(t, 2*time.Second, cfg.Registry.RetryWait)
	require.Equal(t, 5*time.Minute, cfg.Pacing.BlockedCooldown)

	sc := cfg.StoreConfig(nil)
	require.Equal(t, "", sc.QuarantineDir)
}

func TestLoadConfig_EmptyPathIsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), *cfg)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pacing: [1, 2"), 0o644))
	_, err = LoadConfig(path)
	require.Error(t, err)
}

func TestFileConfig_ApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) string {
		if k == EnvDataDir {
			return " /srv/data "
		}
		return ""
	})
	require.Equal(t, "/srv/data", cfg.DataDir)

	cfg.ApplyEnv(func(string) string { return "" })
	require.Equal(t, "/srv/data", cfg.DataDir)
}

func TestFileConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Backend = "postgres"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Pacing.MinDelay = 10 * time.Second
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Pacing.LongBreakMin = 2 * time.Minute
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Storage.Backend = " JSON "
	require.NoError(t, cfg.Validate())
}
