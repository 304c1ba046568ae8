package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-policy-runtime/internal/audit"
	"github.com/xela07ax/spaceai-policy-runtime/internal/counter"
	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
	"github.com/xela07ax/spaceai-policy-runtime/internal/engine"
	"github.com/xela07ax/spaceai-policy-runtime/internal/policy"
)

const defaultCountersPath = "data/counters.json"

// localEngine — движок на файловых счётчиках для офлайн-команд.
type localEngine struct {
	engine *engine.Engine
	store  counter.Store
	trail  *audit.Trail
	sink   *audit.JSONLSink
}

func openLocalEngine(ctx context.Context, opts *rootOptions, policyPath, countersPath, auditPath string) (*localEngine, error) {
	logger := opts.logger()

	var store counter.Store = counter.NewMemoryStore()
	if countersPath != "" {
		store = counter.NewFileStore(countersPath, logger)
	}
	if err := store.Load(ctx); err != nil {
		return nil, err
	}

	le := &localEngine{store: store}
	var auditor audit.Auditor
	if auditPath != "" {
		sink, err := audit.NewJSONLSink(auditPath)
		if err != nil {
			return nil, err
		}
		le.sink = sink
		le.trail = audit.NewTrail(sink, audit.Options{FlushInterval: 50 * time.Millisecond}, logger)
		le.trail.Start()
		auditor = le.trail
	}

	le.engine = engine.New(store, auditor, nil, logger, engine.WithRegistryPath(opts.registry))
	if err := le.engine.LoadPolicyFile(policyPath); err != nil {
		le.Close()
		return nil, err
	}
	return le, nil
}

func (le *localEngine) Close() {
	if le.trail != nil {
		le.trail.Stop()
	}
	if le.sink != nil {
		_ = le.sink.Close()
	}
}

// readIntent принимает JSON или YAML.
func readIntent(path string) (domain.Intent, error) {
	var in domain.Intent
	data, err := os.ReadFile(path)
	if err != nil {
		return in, fmt.Errorf("read intent: %w", err)
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		if data, err = policy.YAMLToJSON(data); err != nil {
			return in, err
		}
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("decode intent: %w", err)
	}
	return in, nil
}

func newSimulateCmd(opts *rootOptions) *cobra.Command {
	var (
		countersPath string
		auditPath    string
		now          int64
		record       bool
		txHash       string
	)
	cmd := &cobra.Command{
		Use:   "simulate <policy> <intent>",
		Short: "Evaluate one intent against a policy and the local counters",
		Long: "Loads the policy, evaluates the intent against the counters file and prints the decision.\n" +
			"With --record an allowed intent is also written to the counters, as a real execution would.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			intent, err := readIntent(args[1])
			if err != nil {
				return err
			}
			le, err := openLocalEngine(ctx, opts, args[0], countersPath, auditPath)
			if err != nil {
				return err
			}
			defer le.Close()

			if now == 0 {
				now = time.Now().UnixMilli()
			}
			d, err := le.engine.Evaluate(ctx, intent, now)
			if err != nil {
				return err
			}
			if record && d.Allowed() {
				if err := le.engine.RecordExecution(ctx, domain.Execution{Intent: intent, TxHash: txHash}, now); err != nil {
					return err
				}
				opts.logger().Debug("execution recorded", zap.String("tx_hash", txHash))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}
	cmd.Flags().StringVar(&countersPath, "counters", defaultCountersPath, "Counters snapshot file (empty: in-memory)")
	cmd.Flags().StringVar(&auditPath, "audit", "", "Append the decision to this JSONL file")
	cmd.Flags().Int64Var(&now, "now", 0, "Evaluation time in epoch ms (default: current time)")
	cmd.Flags().BoolVar(&record, "record", false, "Record the execution when allowed")
	cmd.Flags().StringVar(&txHash, "tx-hash", "0xsimulated", "Transaction hash for --record")
	return cmd
}
