package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/privlog/internal/ir"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Linked bool
	Device bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync [agent-id]",
		Short: "Resynchronize events with a peer or linked devices",
		Long: `Re-deliver events to a peer that lost them.

With an agent id, every event the peer is a recipient of is sent again
together with the proofs of delivery. With --device the agent is treated
as one of our linked devices and receives the full log. With --linked,
every linked device receives what its published summary lacks.

Examples:
  privlog sync <agent-id>
  privlog sync --device <device-id>
  privlog sync --linked`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Linked, "linked", false, "catch up all linked devices")
	cmd.Flags().BoolVar(&opts.Device, "device", false, "send the full log to one linked device")
	return cmd
}

func runSync(opts *SyncOptions, args []string, cmd *cobra.Command) error {
	if opts.Linked == (len(args) == 1) {
		return NewExitError(ExitCommandError, "give either an agent id or --linked")
	}
	if opts.Device && opts.Linked {
		return NewExitError(ExitCommandError, "--device and --linked are exclusive")
	}

	ctx := cmd.Context()
	env, err := openEnv(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()
	if err := env.requireNetwork(); err != nil {
		return err
	}

	var target string
	switch {
	case opts.Linked:
		target = "linked devices"
		err = env.engine.SynchronizeWithLinkedDevices(ctx)
	default:
		agent, perr := ir.ParseAgentID(args[0])
		if perr != nil {
			return WrapExitError(ExitCommandError, "invalid agent id", perr)
		}
		target = agent.Short()
		if opts.Device {
			err = env.engine.SynchronizeWithLinkedDevice(ctx, agent)
		} else {
			err = env.engine.SynchronizeWith(ctx, agent)
		}
	}
	if err != nil {
		return WrapExitError(ExitFailure, "sync failed", err)
	}

	return newOutput(opts.RootOptions, cmd).Success(map[string]string{"synced": target}, func(w io.Writer) {
		fmt.Fprintf(w, "synchronized with %s\n", target)
	})
}
