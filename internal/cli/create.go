package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	Content string
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <event-type>",
		Short: "Create, sign and deliver a private event",
		Long: `Create a private event authored by the local agent. The event is
validated, stored and, when Redis is configured, delivered to its
recipients right away. Otherwise it is delivered by the next run or tick.

Examples:
  privlog create AddFriend --content '{"friend":"<agent-id>"}'
  privlog create SharedEntry --content '{"content":"hello"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return createEvent(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Content, "content", "{}", "event fields as JSON")
	return cmd
}

func createEvent(opts *CreateOptions, eventType string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	env, err := openEnv(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	ev, err := env.engine.Registry().New(eventType)
	if err != nil {
		return WrapExitError(ExitCommandError,
			fmt.Sprintf("known types: %s", strings.Join(env.engine.Registry().Types(), ", ")), err)
	}
	dec := json.NewDecoder(strings.NewReader(opts.Content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(ev); err != nil {
		return WrapExitError(ExitCommandError, "invalid --content JSON", err)
	}

	id, err := env.engine.CreatePrivateEvent(ctx, ev)
	if err != nil {
		if werr := newOutput(opts.RootOptions, cmd).Error(err); werr != nil {
			return WrapExitError(ExitFailure, "create failed", errors.Join(err, werr))
		}
		return WrapExitError(ExitFailure, "create failed", err)
	}

	return newOutput(opts.RootOptions, cmd).Success(map[string]string{"id": string(id), "type": eventType}, func(w io.Writer) {
		fmt.Fprintln(w, id)
	})
}
