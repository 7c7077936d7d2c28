package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/privlog/internal/identity"
	"github.com/roach88/privlog/internal/sealed"
)

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	Force bool
}

// KeygenResult is the JSON output of keygen.
type KeygenResult struct {
	AgentID      string `json:"agent_id"`
	AgePublicKey string `json:"age_public_key"`
	Path         string `json:"path"`
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a new agent identity",
		Long: `Generate signing, encryption and export keys for a new agent and
write them to the identity file.

Example:
  privlog keygen --identity ~/.privlog/identity.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing identity file")
	return cmd
}

func runKeygen(opts *KeygenOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.IdentityPath); err == nil && !opts.Force {
		return NewExitError(ExitCommandError, fmt.Sprintf("identity %s exists (use --force to replace it)", cfg.IdentityPath))
	}

	id, err := identity.Generate(nil)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to generate keys", err)
	}
	kp, err := sealed.GenerateKeypair()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to generate export key", err)
	}
	id = id.WithAgeKey(kp.PrivateKey)
	if err := id.Save(cfg.IdentityPath); err != nil {
		return WrapExitError(ExitCommandError, "failed to write identity", err)
	}

	res := KeygenResult{AgentID: string(id.ID()), AgePublicKey: kp.PublicKey, Path: cfg.IdentityPath}
	return newOutput(opts.RootOptions, cmd).Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "agent:  %s\n", res.AgentID)
		fmt.Fprintf(w, "export: %s\n", res.AgePublicKey)
		fmt.Fprintf(w, "saved:  %s\n", res.Path)
	})
}
