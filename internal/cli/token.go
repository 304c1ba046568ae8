package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
	"github.com/xela07ax/spaceai-policy-runtime/internal/infra/auth"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		keyPath string
		subject string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an RS256 bearer token for the policy API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var pem []byte
			if keyPath != "" {
				data, err := os.ReadFile(keyPath)
				if err != nil {
					return fmt.Errorf("read key: %w", err)
				}
				pem = data
			} else {
				cfg, err := opts.config()
				if err != nil {
					return err
				}
				pem = cfg.Auth.PrivateKey
				if ttl == 0 {
					ttl = cfg.Auth.TokenTTL
				}
			}
			key, err := auth.ParseRSAPrivateKey(pem)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = time.Hour
			}
			resp, err := auth.IssueToken(key, subject, scopes, ttl)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "PEM private key (default: auth.private_key_path from config)")
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{domain.ScopeEvaluate}, "Granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: auth.token_ttl or 1h)")
	return cmd
}

func newHashTokenCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print the bcrypt hash of a static token for auth.token_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := auth.HashToken(args[0], cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (default: bcrypt.DefaultCost)")
	return cmd
}
