package commands

import (
	"fmt"
	"time"
	"github.com/spf13/cobra"
	"github.com/bl4ck0w1/easmscan/pkg/utils"
)

func NewTokenCommand(rt *Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API bearer tokens",
	}
	cmd.AddCommand(newTokenIssueCommand(rt))
	cmd.AddCommand(newTokenSecretCommand())
	cmd.AddCommand(newTokenAPIKeyCommand())
	return cmd
}

func newTokenIssueCommand(rt *Runtime) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token with api.jwt_secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := rt.config().API.JWTSecret
			if secret == "" {
				return fmt.Errorf("api.jwt_secret is not configured")
			}
			token, err := utils.IssueJWT(secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime (0 for no expiry)")
	return cmd
}

func newTokenSecretCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "secret",
		Short: "Generate a random signing secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := utils.GenerateJWTSecret()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}
}

func newTokenAPIKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "apikey",
		Short: "Generate an API key and its bcrypt hash",
		Long: `Generate a static API key for the X-API-Key header. Add the printed hash to
api.api_key_hashes; the key itself is shown once and never stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, hash, err := utils.GenerateAPIKey()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key:  %s\nhash: %s\n", key, hash)
			return nil
		},
	}
}
