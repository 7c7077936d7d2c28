package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/privlog/internal/node"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent until interrupted",
		Long: `Run the agent: receive signals as they arrive, poll the durable
mailbox and run scheduled tasks (awaiting queue, acknowledgements, resends,
summary publication) on every tick.

Example:
  privlog run --config ./alice.yaml
  privlog run --redis localhost:6379 --db ./alice.db --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(rootOpts, cmd)
		},
	}
	return cmd
}

func runNode(opts *RootOptions, cmd *cobra.Command) error {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	env, err := openEnv(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := env.Close(); closeErr != nil {
			slog.Error("error closing", "error", closeErr)
		}
	}()
	if err := env.requireNetwork(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	n := node.New(env.engine,
		node.WithSubscriber(env.transport),
		node.WithMailbox(env.transport),
		node.WithTickInterval(env.cfg.TickInterval),
		node.WithLogger(env.logger),
	)

	fmt.Fprintf(cmd.OutOrStdout(), "Agent %s running. Press Ctrl-C to stop.\n", env.id.ID().Short())
	if err := n.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "node error", err)
	}

	slog.Info("node stopped gracefully")
	return nil
}
