package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/giantswarm/oauth2-engine/security"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "oauth2d",
		Short:         "oauth2d is an OAuth 2.0 authorization server",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # In-memory storage seeded from fixtures (development)
  oauth2d serve --fixtures clients.yaml

  # Redis with encryption at rest
  OAUTH2D_ENCRYPTION_KEY=$(openssl rand -base64 32) oauth2d serve --storage redis --redis-address redis:6379

  # PostgreSQL with JWT access tokens and Prometheus metrics
  oauth2d serve --storage postgres --postgres-dsn postgres://oauth:oauth@db/oauth --jwt-signing-key "$KEY" --metrics-listen :9090
`,
	}
	cmd.PersistentFlags().StringP("config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringSlice("env-file", []string{".env"}, ".env files loaded before reading OAUTH2D_* variables")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newHashSecretCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the oauth2d version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "oauth2d %s\n", version)
			return err
		},
	}
}

func newHashSecretCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret [secret]",
		Short: "Print the bcrypt hash of a client secret or password",
		Long: `Print the bcrypt hash of a client secret or password, for use as
secret_hash or password_hash in a fixtures file. Without an argument the secret
is read from standard input.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var secret string
			if len(args) == 1 {
				secret = args[0]
			} else {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read secret: %w", err)
				}
				secret = strings.TrimRight(string(b), "\r\n")
			}
			if secret == "" {
				return fmt.Errorf("secret must not be empty")
			}

			hash, err := security.HashSecret(secret)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}
