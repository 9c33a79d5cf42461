/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/friendsincode/voxqueue/internal/assistant"
	"github.com/friendsincode/voxqueue/internal/transport/natsengine"
)

var pingTimeout time.Duration

var assistantsCmd = &cobra.Command{
	Use:   "assistants",
	Short: "Inspect the configured assistant accounts",
}

var assistantsPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Start every assistant and report the mean round-trip time",
	Long: `Connect every configured assistant slot to the call engine, measure
the round-trip time of a ping across all of them, and disconnect again.

Examples:
  voxqueue assistants ping
  voxqueue assistants ping --timeout 30s
`,
	RunE: runAssistantsPing,
}

func init() {
	assistantsPingCmd.Flags().DurationVar(&pingTimeout, "timeout", 20*time.Second, "Overall timeout for start and ping")
	assistantsCmd.AddCommand(assistantsPingCmd)
	rootCmd.AddCommand(assistantsCmd)
}

func runAssistantsPing(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("voxqueue-cli"), nats.Timeout(5*time.Second))
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", cfg.NATSURL, err)
	}
	defer nc.Close()

	pool, err := assistant.NewPool(cfg.Assistants,
		natsengine.Dialer(nc, cfg.EngineSubjectPrefix, cfg.EngineTimeout, logger), logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), pingTimeout)
	defer cancel()

	defer func() {
		if err := pool.StopAll(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("stop assistants")
		}
	}()
	if err := pool.Start(ctx); err != nil {
		return err
	}

	rtt, err := pool.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "assistants %v: %.3f ms\n", pool.Slots(), float64(rtt.Microseconds())/1000)
	return nil
}
