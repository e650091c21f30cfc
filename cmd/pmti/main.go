// Command pmti is a terminal client for PMTI surveys and a helper for minting
// development tokens.
package main

import (
	"fmt"
	"os"

	"github.com/Perfect-Match-Org/PMTI/internal/config"
	"github.com/Perfect-Match-Org/PMTI/internal/logger"
	"github.com/Perfect-Match-Org/PMTI/internal/services"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:          "pmti",
		Short:        "PMTI survey client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			return logger.Init(logLevel, "console")
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	root.AddCommand(newTokenCmd(), newPlayCmd())
	return root
}

func newTokenCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token with the server's JWT settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			auth := services.NewAuthService(services.AuthConfig{
				Secret:         cfg.JWTSecret,
				Issuer:         cfg.JWTIssuer,
				Audience:       cfg.JWTAudience,
				TTL:            cfg.TokenTTL,
				AllowedDomains: cfg.AllowedEmailDomains,
				AllowedEmails:  cfg.AllowedEmails,
			})
			token, err := auth.GenerateToken(email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "participant email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
