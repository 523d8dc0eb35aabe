package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FranLegon/drive-upload/internal/auth"
	"github.com/FranLegon/drive-upload/internal/logger"
)

var checkTokensCmd = &cobra.Command{
	Use:   "check-tokens",
	Short: "Validate all authentication tokens",
	Long:  `Tests each refresh token to ensure it can still authenticate successfully.`,
	RunE:  runCheckTokens,
}

func init() {
	rootCmd.AddCommand(checkTokensCmd)
}

func runCheckTokens(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	oauthConfig := auth.OAuthConfig(cfg.GoogleClient.ID, cfg.GoogleClient.Secret)
	var invalid int
	for _, acc := range cfg.Accounts {
		log := logger.Tagged("Google", acc.Email)
		if err := auth.ValidateToken(oauthConfig, acc.RefreshToken); err != nil {
			log.Error("Token invalid: %v", err)
			invalid++
			continue
		}
		log.Info("Token OK")
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d token(s) invalid, re-run 'add-account' for them", invalid, len(cfg.Accounts))
	}
	logger.Info("All tokens valid")
	return nil
}
