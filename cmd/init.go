package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/FranLegon/drive-upload/internal/config"
	"github.com/FranLegon/drive-upload/internal/logger"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the encrypted configuration",
	Long: `Performs first-time setup. Prompts for a master password and the OAuth client
credentials from the Google Cloud Console, then writes the encrypted config and
creates the upload journal. Add an account afterwards with 'add-account'.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if config.Exists(configDir) {
		return fmt.Errorf("configuration already exists in %s", configDir)
	}

	logger.Info("First-time setup. The master password encrypts your credentials.")
	password, err := config.GetMasterPassword(true)
	if err != nil {
		return fmt.Errorf("failed to read master password: %w", err)
	}

	logger.Info("Enter the OAuth client credentials (Google Cloud Console > APIs & Services > Credentials):")
	clientID, err := promptForInput("Google Client ID", false)
	if err != nil {
		return err
	}
	clientSecret, err := promptForInput("Google Client Secret", true)
	if err != nil {
		return err
	}

	cfg := &config.Config{
		GoogleClient: config.ClientCredentials{ID: clientID, Secret: clientSecret},
		Upload:       config.DefaultUploadSettings(),
	}
	if err := config.Create(configDir, password, cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("Initialization complete. Authorize an account with 'add-account'.")
	return nil
}

func promptForInput(label string, secret bool) (string, error) {
	prompt := promptui.Prompt{
		Label: label,
		Validate: func(input string) error {
			if strings.TrimSpace(input) == "" {
				return errors.New("value is required")
			}
			return nil
		},
	}
	if secret {
		prompt.Mask = '*'
	}
	result, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return strings.TrimSpace(result), nil
}
