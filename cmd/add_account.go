package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FranLegon/drive-upload/internal/auth"
	"github.com/FranLegon/drive-upload/internal/config"
	"github.com/FranLegon/drive-upload/internal/logger"
	"github.com/FranLegon/drive-upload/internal/model"
)

var addAccountCmd = &cobra.Command{
	Use:   "add-account",
	Short: "Authorize a Google account to upload to",
	Long: `Runs the OAuth flow in the browser and stores the account's refresh token in
the encrypted config. The first account added becomes the default upload target.`,
	RunE: runAddAccount,
}

func init() {
	rootCmd.AddCommand(addAccountCmd)
}

func runAddAccount(cmd *cobra.Command, args []string) error {
	cfg, password, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := getContext()
	defer cancel()

	log := logger.Tagged("Auth")
	oauthConfig := auth.OAuthConfig(cfg.GoogleClient.ID, cfg.GoogleClient.Secret)

	refreshToken, err := auth.PerformOAuthFlow(ctx, oauthConfig, log)
	if err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}

	ts := auth.NewTokenSource(oauthConfig, refreshToken)
	email, err := auth.UserEmail(ctx, auth.HTTPClient(ctx, ts))
	if err != nil {
		return fmt.Errorf("failed to get user email: %w", err)
	}
	log.Info("Authorized as: %s", email)

	if safeMode {
		log.DryRun("Would add account %s to the configuration", email)
		return nil
	}

	cfg.AddAccount(model.Account{Email: email, RefreshToken: ts.GetRefreshToken()})
	if err := config.Save(configDir, password, cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	acc, _ := cfg.Account(email)
	if acc != nil && acc.IsDefault {
		log.Info("Account %s added as the default upload target", email)
	} else {
		log.Info("Account %s added. Select it with 'upload --account %s'", email, email)
	}
	return nil
}
