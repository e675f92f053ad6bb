package scraper

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/bizkut/callsignscrapper/logging"
	"github.com/bizkut/callsignscrapper/store"
)

const (
	EnvDataDir = "DATA_DIR"
	EnvConfig  = "SCRAPER_CONFIG"
)

type StorageConfig struct {
	// Backend is "json" or "sqlite".
	Backend        string `yaml:"backend"`
	RecordsFile    string `yaml:"records_file"`
	LedgerFile     string `yaml:"ledger_file"`
	CheckpointFile string `yaml:"checkpoint_file"`
	SQLiteFile     string `yaml:"sqlite_file"`
	QuarantineDir  string `yaml:"quarantine_dir"`
}

type RegistryConfig struct {
	BaseURL       string        `yaml:"base_url"`
	ApparatusType string        `yaml:"apparatus_type"`
	UserAgent     string        `yaml:"user_agent"`
	Timeout       time.Duration `yaml:"timeout"`
	Retries       int           `yaml:"retries"`
	RetryWait     time.Duration `yaml:"retry_wait"`
	// NavigateDelay is the pause between pages while seeking to the start page.
	NavigateDelay time.Duration `yaml:"navigate_delay"`
}

type FileConfig struct {
	DataDir string `yaml:"data_dir"`
	Debug   bool   `yaml:"debug"`

	Storage  StorageConfig  `yaml:"storage"`
	Registry RegistryConfig `yaml:"registry"`
	Pacing   Pacing         `yaml:"pacing"`
	Session  DriverConfig   `yaml:"session"`
	Logging  logging.Config `yaml:"logging"`
}

func DefaultConfig() FileConfig {
	return FileConfig{
		DataDir: "data",
		Storage: StorageConfig{
			Backend:        store.BackendJSON,
			RecordsFile:    "callsigns.json",
			LedgerFile:     "scrape_history.json",
			CheckpointFile: "checkpoint.json",
			SQLiteFile:     "callsigns.db",
			QuarantineDir:  "corrupt",
		},
		Registry: RegistryConfig{
			BaseURL:       "https://www.mcmc.gov.my/en/legal/registers/register-of-apparatus-assignments-search",
			ApparatusType: "AARadio",
			UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			Timeout:       60 * time.Second,
			Retries:       3,
			RetryWait:     2 * time.Second,
			NavigateDelay: time.Second,
		},
		Pacing:  DefaultPacing(),
		Session: DefaultDriverConfig(),
		Logging: logging.DefaultConfig(),
	}
}

// LoadConfig decodes a YAML file over DefaultConfig. Keys missing from the
// file keep their default; keys set to a zero value stay zero. An empty path
// returns the defaults.
func LoadConfig(path string) (*FileConfig, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return &cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyEnv overrides file values with environment variables.
func (c *FileConfig) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvDataDir)); v != "" {
		c.DataDir = v
	}
}

func (c *FileConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Storage.Backend)) {
	case store.BackendJSON, store.BackendSQLite:
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", store.BackendJSON, store.BackendSQLite, c.Storage.Backend)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Pacing.MaxDelay < c.Pacing.MinDelay {
		return fmt.Errorf("pacing.max_delay (%s) is below pacing.min_delay (%s)", c.Pacing.MaxDelay, c.Pacing.MinDelay)
	}
	if c.Pacing.LongBreakMax < c.Pacing.LongBreakMin {
		return fmt.Errorf("pacing.long_break_max (%s) is below pacing.long_break_min (%s)", c.Pacing.LongBreakMax, c.Pacing.LongBreakMin)
	}
	if c.Session.MaxPage < 0 {
		return fmt.Errorf("session.max_page must not be negative")
	}
	return nil
}

func (c *FileConfig) StoreConfig(log *zap.Logger) store.Config {
	return store.Config{
		Backend:        strings.ToLower(strings.TrimSpace(c.Storage.Backend)),
		Dir:            c.DataDir,
		RecordsFile:    c.Storage.RecordsFile,
		LedgerFile:     c.Storage.LedgerFile,
		CheckpointFile: c.Storage.CheckpointFile,
		SQLiteFile:     c.Storage.SQLiteFile,
		QuarantineDir:  c.Storage.QuarantineDir,
		Logger:         log,
	}
}
