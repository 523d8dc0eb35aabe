package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/FranLegon/drive-upload/internal/config"
	"github.com/FranLegon/drive-upload/internal/database"
	"github.com/FranLegon/drive-upload/internal/logger"
)

var (
	configDir string
	verbose   bool
	safeMode  bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "drive-upload",
	Short: "Upload files to Google Drive with resumable, retrying transfers",
	Long: `drive-upload sends local files to Google Drive. Small files go in a single
request, large ones through a resumable session that survives dropped
connections and server errors.

Credentials and accounts are stored in an encrypted config file (config.json.enc)
protected by a master password. Every upload is recorded in a local journal (uploads.db).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			logger.SetLevel(logger.LogLevelDebug)
		}
		if configDir == "" {
			dir, err := defaultConfigDir()
			if err != nil {
				return err
			}
			configDir = dir
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Directory holding the config and journal (default: next to the executable)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every request of the upload protocol")
	rootCmd.PersistentFlags().BoolVarP(&safeMode, "safe", "s", false, "Dry run mode (nothing is uploaded)")
}

func defaultConfigDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	return filepath.Dir(exe), nil
}

// getContext returns a context cancelled on Ctrl+C
func getContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// loadConfig prompts for the master password and decrypts the config
func loadConfig() (*config.Config, string, error) {
	if !config.Exists(configDir) {
		return nil, "", fmt.Errorf("no configuration found in %s. please run 'init' first", configDir)
	}

	password, err := config.GetMasterPassword(false)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read master password: %w", err)
	}

	cfg, err := config.Load(configDir, password)
	if err != nil {
		return nil, "", err
	}
	return cfg, password, nil
}

// openDatabase opens the upload journal, creating it if needed
func openDatabase() (*database.DB, error) {
	db, err := database.Open(database.GetDBPath(configDir))
	if err != nil {
		return nil, err
	}
	if err := db.Initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize upload journal: %w", err)
	}
	return db, nil
}
