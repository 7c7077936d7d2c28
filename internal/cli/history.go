package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/privlog/internal/engine"
	"github.com/roach88/privlog/internal/sealed"
)

// HistoryResult summarizes an exported or imported history.
type HistoryResult struct {
	Path             string `json:"path"`
	PrivateEvents    int    `json:"private_events"`
	SentRecords      int    `json:"sent_records"`
	Acknowledgements int    `json:"acknowledgements"`
	Awaiting         int    `json:"awaiting"`
}

func (r HistoryResult) text(verb string) func(io.Writer) {
	return func(w io.Writer) {
		fmt.Fprintf(w, "%s %s: %d events, %d sent records, %d acknowledgements, %d awaiting\n",
			verb, r.Path, r.PrivateEvents, r.SentRecords, r.Acknowledgements, r.Awaiting)
	}
}

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output     string
	Recipients []string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the local log as a sealed history bundle",
		Long: `Write every event, sent record, acknowledgement and parked entry to
an age-encrypted bundle. The bundle is always sealed to the identity's own
export key, plus any --recipient or export.recipients from the config.

Example:
  privlog export -o alice.history --recipient age1...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "bundle path (required)")
	cmd.Flags().StringSliceVar(&opts.Recipients, "recipient", nil, "extra age recipient (repeatable)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	env, err := openEnv(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.Close()

	recipients := append(append([]string(nil), env.cfg.Export.Recipients...), opts.Recipients...)
	if key := env.id.AgeKey(); key != "" {
		self, err := sealed.PublicKeyOf(key)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid export key in identity", err)
		}
		recipients = append(recipients, self)
	}
	if len(recipients) == 0 {
		return NewExitError(ExitCommandError, "identity has no export key; pass --recipient")
	}

	h, err := env.engine.ExportEventHistory(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "export failed", err)
	}
	data, err := engine.SealEventHistory(h, recipients)
	if err != nil {
		return WrapExitError(ExitFailure, "seal failed", err)
	}
	if err := os.WriteFile(opts.Output, data, 0o600); err != nil {
		return WrapExitError(ExitCommandError, "failed to write bundle", err)
	}

	res := HistoryResult{
		Path:             opts.Output,
		PrivateEvents:    len(h.PrivateEvents),
		SentRecords:      len(h.EventsSentToRecipients),
		Acknowledgements: len(h.Acknowledgements),
		Awaiting:         len(h.AwaitingDependencies),
	}
	return newOutput(opts.RootOptions, cmd).Success(res, res.text("exported"))
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <bundle>",
		Short: "Import a sealed history bundle",
		Long: `Open a bundle written by 'privlog export' with the identity's export
key and merge it into the local log. Signatures are checked; application
rules are not re-run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runImport(opts *RootOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	env, err := openEnv(ctx, opts)
	if err != nil {
		return err
	}
	defer env.Close()

	if env.id.AgeKey() == "" {
		return NewExitError(ExitCommandError, "identity has no export key to open the bundle")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read bundle", err)
	}
	h, err := engine.OpenEventHistory(data, env.id.AgeKey())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open bundle", err)
	}
	if err := env.engine.ImportEventHistory(ctx, h); err != nil {
		return WrapExitError(ExitFailure, "import failed", err)
	}

	res := HistoryResult{
		Path:             path,
		PrivateEvents:    len(h.PrivateEvents),
		SentRecords:      len(h.EventsSentToRecipients),
		Acknowledgements: len(h.Acknowledgements),
		Awaiting:         len(h.AwaitingDependencies),
	}
	return newOutput(opts, cmd).Success(res, res.text("imported"))
}
