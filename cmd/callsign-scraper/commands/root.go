package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bizkut/callsignscrapper/logging"
	"github.com/bizkut/callsignscrapper/scraper"
	"github.com/bizkut/callsignscrapper/store"
)

var (
	configPath string
	dataDir    string
	backend    string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "callsign-scraper",
	Short:         "callsign-scraper keeps a local copy of the MCMC amateur radio assignment register.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML config file path (default $"+scraper.EnvConfig+").")
	pf.StringVar(&dataDir, "data-dir", "", "Directory of the record store, ledger and checkpoint (overrides data_dir).")
	pf.StringVar(&backend, "backend", "", "Storage backend, json or sqlite (overrides storage.backend).")
	pf.BoolVar(&debug, "debug", false, "Enable debug logs.")
}

// ExecuteContext runs the CLI and returns the process exit code.
func ExecuteContext(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

// loadConfig merges the config file, the environment and the flags that
// were set explicitly, in that order.
func loadConfig(cmd *cobra.Command) (*scraper.FileConfig, error) {
	path := configPath
	if !cmd.Flags().Changed("config") {
		path = strings.TrimSpace(os.Getenv(scraper.EnvConfig))
	}
	cfg, err := scraper.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)

	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if cmd.Flags().Changed("backend") {
		cfg.Storage.Backend = backend
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = debug
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds what every subcommand needs.
type app struct {
	cfg   *scraper.FileConfig
	log   *zap.Logger
	store *store.Store
}

// setup loads the config, the logger and the store. A read-only store never
// moves or deletes unreadable state files.
func setup(cmd *cobra.Command, readOnly bool) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Logging, cmd.ErrOrStderr(), cfg.Debug)
	if err != nil {
		return nil, err
	}
	sc := cfg.StoreConfig(log.Named("store"))
	sc.ReadOnly = readOnly
	st, err := store.Open(sc)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("open store in %s: %w", cfg.DataDir, err)
	}
	log.Debug("store opened",
		zap.String("data_dir", cfg.DataDir),
		zap.String("backend", cfg.Storage.Backend))
	return &app{cfg: cfg, log: log, store: st}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("close store", zap.Error(err))
	}
	_ = a.log.Sync()
}
