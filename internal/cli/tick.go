package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/privlog/internal/store"
)

// TickResult reports the store after one tick.
type TickResult struct {
	Received int          `json:"received"`
	Counts   store.Counts `json:"counts"`
}

// NewTickCommand creates the tick command.
func NewTickCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Poll the mailbox and run scheduled tasks once",
		Long: `Drain the durable mailbox, then run one round of scheduled tasks:
retry parked entries, acknowledge received events, resend unacknowledged
events and publish the history summary.

Useful from cron when no long-running 'privlog run' is available.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTick(rootOpts, cmd)
		},
	}
	return cmd
}

func runTick(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	env, err := openEnv(ctx, opts)
	if err != nil {
		return err
	}
	defer env.Close()

	received := 0
	var failed error
	if env.transport != nil {
		inbound, err := env.transport.Poll(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "mailbox poll failed", err)
		}
		for _, in := range inbound {
			if err := env.engine.Receive(ctx, in.From, in.Message); err != nil {
				env.logger.Warn("receive failed", "from", in.From.Short(), "error", err)
				failed = err
			}
			received++
		}
	}

	if err := env.engine.ScheduledTasks(ctx); err != nil {
		return WrapExitError(ExitFailure, "scheduled tasks failed", err)
	}

	counts, err := env.store.Count(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "count failed", err)
	}
	res := TickResult{Received: received, Counts: counts}
	if err := newOutput(opts, cmd).Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "received %d message(s)\n", res.Received)
		fmt.Fprintf(w, "events %d, acknowledgements %d, sent records %d, awaiting %d\n",
			res.Counts.PrivateEvents, res.Counts.Acknowledgements,
			res.Counts.EventsSentToRecipients, res.Counts.AwaitingPending)
	}); err != nil {
		return err
	}
	if failed != nil {
		return WrapExitError(ExitFailure, "some messages were rejected", failed)
	}
	return nil
}
