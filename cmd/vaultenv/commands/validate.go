package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/vaultenv/internal/config"
	dserrors "github.com/systmms/vaultenv/internal/errors"
)

func NewValidateCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file",
		Long: `Check the configuration file and list every connection that would be
ignored, with the reason.

A connection is ignored when its name is blank, its endpoint is not an http
or https URL with a host, its auth method is neither token nor username, a
field required by the method is blank, a ${VAR} reference is unset, or a
later connection has the same name.

Exits non-zero when any connection is ignored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return err
			}

			valid := cfg.Definition.ValidConnections()
			problems := cfg.Definition.Problems()
			out := cmd.OutOrStdout()

			for _, p := range problems {
				fmt.Fprintf(out, "✗ %s\n", p)
			}
			if len(problems) > 0 {
				return dserrors.UserError{
					Message:    fmt.Sprintf("%d of %d connection(s) ignored", len(problems), len(cfg.Definition.Connections)),
					Suggestion: "Fix the entries listed above in " + cfg.Path,
				}
			}

			fmt.Fprintf(out, "✓ %s is valid: %d connection(s)\n", cfg.Path, len(valid))
			return nil
		},
	}

	return cmd
}
