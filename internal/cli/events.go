package cli

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/privlog/internal/ir"
	"github.com/roach88/privlog/internal/store"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Type   string
	Author string
	Since  time.Duration
	Limit  int
	Verify bool
}

// EventRow is one listed event.
type EventRow struct {
	ID        ir.EventID   `json:"id"`
	Type      string       `json:"type"`
	Author    ir.AgentID   `json:"author"`
	Timestamp ir.Timestamp `json:"timestamp"`
	Verdict   string       `json:"verdict,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List stored private events",
		Long: `List private events in the local log, oldest first.

With --verify every entry is re-checked: signature, content hash against
its stored id, decoding and the application validator.

Examples:
  privlog events --type SharedEntry
  privlog events --since 24h --verify --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listEvents(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "only events of this type")
	cmd.Flags().StringVar(&opts.Author, "author", "", "only events by this agent id")
	cmd.Flags().DurationVar(&opts.Since, "since", 0, "only events signed within this duration")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events (0 = all)")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "re-validate every listed event")
	return cmd
}

func listEvents(opts *EventsOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	env, err := openEnv(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	filter := store.EventFilter{EventType: opts.Type, Limit: opts.Limit, ByTimestamp: true}
	if opts.Author != "" {
		author, err := ir.ParseAgentID(opts.Author)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --author", err)
		}
		filter.Author = author
	}
	if opts.Since > 0 {
		filter.Since = ir.TimestampOf(time.Now().Add(-opts.Since))
	}

	events, err := env.engine.QueryEvents(ctx, filter)
	if err != nil {
		return WrapExitError(ExitFailure, "query failed", err)
	}

	rows := make([]EventRow, 0, len(events))
	invalid := 0
	for id, entry := range events {
		row := EventRow{ID: id, Type: entry.Event.EventType, Author: entry.Author, Timestamp: entry.Timestamp()}
		if opts.Verify {
			verdict, err := env.engine.ValidateEntry(ctx, entry, id)
			if err != nil {
				return WrapExitError(ExitFailure, "verify failed", err)
			}
			row.Verdict = verdict.Kind.String()
			row.Reason = verdict.Reason
			if row.Verdict != "valid" {
				invalid++
			}
		}
		rows = append(rows, row)
	}
	slices.SortFunc(rows, func(a, b EventRow) int {
		return cmp.Or(cmp.Compare(a.Timestamp, b.Timestamp), cmp.Compare(a.ID, b.ID))
	})

	err = newOutput(opts.RootOptions, cmd).Success(rows, func(w io.Writer) {
		if len(rows) == 0 {
			fmt.Fprintln(w, "No events.")
			return
		}
		for _, r := range rows {
			line := fmt.Sprintf("%s  %-12s  %s  %s", shortEventID(r.ID), r.Type, r.Author.Short(),
				r.Timestamp.Time().UTC().Format(time.RFC3339))
			if r.Verdict != "" {
				line += "  " + r.Verdict
				if r.Reason != "" {
					line += " (" + r.Reason + ")"
				}
			}
			fmt.Fprintln(w, line)
		}
	})
	if err != nil {
		return err
	}
	if invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d event(s) failed verification", invalid))
	}
	return nil
}

func shortEventID(id ir.EventID) string {
	if len(id) <= 16 {
		return string(id)
	}
	return string(id[:16])
}
