package cmd

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teemow/sheetsproxy/internal/credentials"
	"github.com/teemow/sheetsproxy/internal/identity"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate MCP tokens and encryption keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Print a new MCP token and its hash",
		Long: `Print a new random MCP token and the SHA-256 hash stored for it.

Use the token as MCP_TOKEN for single-tenant deployments. Multi-tenant
deployments issue tokens through the OAuth flow instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := identity.GenerateToken()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token: %s\nhash:  %s\n", token, identity.HashToken(token))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "generate-key",
		Short: "Print a new base64 AES-256 key for --encryption-key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := credentials.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(key))
			return nil
		},
	})

	return cmd
}
