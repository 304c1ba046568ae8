package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-policy-runtime/internal/denom"
	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
	"github.com/xela07ax/spaceai-policy-runtime/internal/policy"
)

// loadPolicy читает, валидирует и нормализует файл политики.
func loadPolicy(path, registryFlag string, logger *zap.Logger) (*domain.Policy, string, error) {
	raw, err := policy.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	doc, err := policy.Validate(raw)
	if err != nil {
		return nil, "", err
	}
	regPath := registryFlag
	if regPath == "" {
		regPath = doc.RegistryPath()
	}
	p, err := policy.Normalize(doc, denom.LoadRegistry(regPath, logger))
	if err != nil {
		return nil, "", err
	}
	fp, err := policy.Fingerprint(p)
	if err != nil {
		return nil, "", err
	}
	return p, fp, nil
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <policy>",
		Short: "Check a policy document against the schema and convert human caps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			_, fp, err := loadPolicy(args[0], opts.registry, opts.logger())
			var verr *policy.ValidationError
			if errors.As(err, &verr) {
				for _, v := range verr.Violations {
					path := v.Path
					if path == "" {
						path = "/"
					}
					fmt.Fprintf(out, "  %s: %s\n", path, v.Message)
				}
				return fmt.Errorf("%s: %d violation(s)", args[0], len(verr.Violations))
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "ok %s\n", fp)
			return nil
		},
	}
}

func newFingerprintCmd(opts *rootOptions) *cobra.Command {
	var canonical bool
	cmd := &cobra.Command{
		Use:   "fingerprint <policy>",
		Short: "Print the policy fingerprint (sha256 of the canonical normalized form)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, fp, err := loadPolicy(args[0], opts.registry, opts.logger())
			if err != nil {
				return err
			}
			if canonical {
				data, err := policy.Canonical(p)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), fp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&canonical, "canonical", false, "Print the canonical JSON instead of the digest")
	return cmd
}
