package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xela07ax/spaceai-policy-runtime/internal/denom"
	"github.com/xela07ax/spaceai-policy-runtime/internal/engine"
)

const envPolicyPath = "POLICY_PATH"

type statusReport struct {
	PolicyHash   string             `json:"policyHash"`
	Denomination string             `json:"denomination"`
	Paused       bool               `json:"paused"`
	Usage        []engine.UsageLine `json:"usage"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		countersPath string
		format       string
		now          int64
	)
	cmd := &cobra.Command{
		Use:   "status [policy]",
		Short: "Show per-dimension usage and remaining headroom from the counters file",
		Long:  "The policy path defaults to $" + envPolicyPath + ".",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			path := os.Getenv(envPolicyPath)
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("policy path required (argument or $%s)", envPolicyPath)
			}

			le, err := openLocalEngine(ctx, opts, path, countersPath, "")
			if err != nil {
				return err
			}
			defer le.Close()

			if now == 0 {
				now = time.Now().UnixMilli()
			}
			lines, err := le.engine.Usage(ctx, now)
			if err != nil {
				return err
			}
			st := le.engine.Status()
			report := statusReport{
				PolicyHash:   st.Fingerprint,
				Denomination: le.engine.Policy().DefaultDenom(denom.DefaultSymbol),
				Paused:       st.Paused,
				Usage:        lines,
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Fprintln(out, "Policy status")
			fmt.Fprintf(out, "- Policy hash: %s\n", report.PolicyHash)
			fmt.Fprintf(out, "- Denomination: %s\n", report.Denomination)
			fmt.Fprintf(out, "- Paused: %t\n", report.Paused)
			if len(lines) == 0 {
				fmt.Fprintln(out, "\nNo caps configured.")
				return nil
			}
			fmt.Fprintln(out)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DIMENSION\tSCOPE\tWINDOW\tLIMIT\tUSED\tREMAINING")
			for _, l := range lines {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", l.Dimension, l.Scope, l.Window, l.Limit, l.Used, l.Remaining)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&countersPath, "counters", defaultCountersPath, "Counters snapshot file")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text|json)")
	cmd.Flags().Int64Var(&now, "now", 0, "Evaluation time in epoch ms (default: current time)")
	return cmd
}
