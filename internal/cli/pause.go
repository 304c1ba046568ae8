package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/xela07ax/spaceai-policy-runtime/internal/engine"
	"github.com/xela07ax/spaceai-policy-runtime/internal/infra"
)

// pauseSignal проверяет аргумент тем же разбором, что и слушатель демона.
func pauseSignal(target, state string) (bool, error) {
	if target == "" {
		return false, fmt.Errorf("empty --target")
	}
	_, paused, ok := engine.ParsePauseSignal(target + ":" + strings.ToLower(state))
	if !ok {
		return false, fmt.Errorf("bad pause state %q (want on|off)", state)
	}
	return paused, nil
}

func newPauseCmd(opts *rootOptions) *cobra.Command {
	var (
		target  string
		addr    string
		channel string
	)
	cmd := &cobra.Command{
		Use:   "pause on|off",
		Short: "Broadcast a pause signal to running policy daemons over Redis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paused, err := pauseSignal(target, args[0])
			if err != nil {
				return err
			}
			if addr == "" || channel == "" {
				cfg, err := opts.config()
				if err != nil {
					return err
				}
				if addr == "" {
					addr = cfg.Redis.Addr
				}
				if channel == "" {
					channel = cfg.Redis.PauseChannel
				}
			}
			if addr == "" {
				return fmt.Errorf("redis address required (--redis or redis.addr)")
			}
			if channel == "" {
				channel = infra.RedisChanPause
			}

			rdb := redis.NewClient(&redis.Options{Addr: addr})
			defer rdb.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			n, err := engine.PublishPause(ctx, rdb, infra.RedisKeyPauseState, channel, target, paused)
			if err != nil {
				return fmt.Errorf("publish %s: %w", channel, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pause=%t for %s sent to %s (%d subscriber(s))\n", paused, target, channel, n)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "*", "Policy fingerprint to address, or * for all")
	cmd.Flags().StringVar(&addr, "redis", "", "Redis address (default: redis.addr from config)")
	cmd.Flags().StringVar(&channel, "channel", "", "Pause channel (default: redis.pause_channel or "+infra.RedisChanPause+")")
	return cmd
}
