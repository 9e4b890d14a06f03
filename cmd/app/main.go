package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/maloquacious/libcashier/internal/config"
	"github.com/maloquacious/libcashier/internal/logger"
	"github.com/maloquacious/libcashier/internal/schema"
	"github.com/maloquacious/libcashier/internal/store"
	"github.com/maloquacious/libcashier/internal/store/sqlite"
	"github.com/maloquacious/semver"
	"github.com/spf13/cobra"
)

var (
	version   = semver.Version{Minor: 1, PreRelease: "alpha", Build: semver.Commit()}
	buildDate = ""
)

var (
	configPath string
	storeDir   string
	logLevel   string
	logFormat  string
	logFile    string

	cfg config.AppConfig
	log logger.Logger = logger.Default
)

func main() {
	err := newRootCmd().Execute()
	closeLog()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "app",
		Short:             "Library cashier datastore and ledger CLI",
		SilenceUsage:      true,
		PersistentPreRunE: loadSettings,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: user config dir)")
	rootCmd.PersistentFlags().StringVar(&storeDir, "store", "", "directory holding "+schema.DatabaseName)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "text or json")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also log to this file (rotated)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print application and schema versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"version":       version.String(),
				"schemaVersion": schema.Version,
				"buildDate":     buildDate,
			})
		},
	}

	rootCmd.AddCommand(versionCmd, newDBCmd(), newProductCmd(), newSaleCmd(), newLoanCmd())
	return rootCmd
}

// loadSettings merges config file, environment and flags, then builds the logger.
func loadSettings(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("store") {
		cfg.Store.Dir = storeDir
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	if flags.Changed("log-file") {
		cfg.Logging.File = logFile
	}
	closeLog()
	log = logger.New(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
		Writer: cmd.ErrOrStderr(),
	})
	return nil
}

// closeLog releases the log file opened by loadSettings.
func closeLog() {
	if c, ok := log.(io.Closer); ok {
		_ = c.Close()
	}
}

func dbPath() string {
	return store.GetDBPath(store.GetStorePath(cfg.Store.Dir))
}

func newStore() *sqlite.SQLiteStore {
	return sqlite.New(dbPath(), schema.Version, schema.NewManager(log), sqlite.WithLogger(log))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
