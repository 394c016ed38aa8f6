package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/vaultenv/internal/catalog"
	"github.com/systmms/vaultenv/internal/config"
	dserrors "github.com/systmms/vaultenv/internal/errors"
)

func NewTreeCommand(cfg *config.Config) *cobra.Command {
	var depth int

	cmd := &cobra.Command{
		Use:   "tree <server>[/mount[/folder...]]",
		Short: "Print the tree below a path",
		Long: `Connect to a server and print every mount, folder and secret below the
given path. Large namespaces can be cut with --depth.

Examples:
  vaultenv tree dev
  vaultenv tree dev/secret --depth 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if depth < 0 {
				return dserrors.UserError{
					Message:    "Depth cannot be negative",
					Suggestion: "Use --depth 0 for the whole tree",
				}
			}

			rt, err := oneShot(cmd, cfg)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			id, err := rt.ctl.Resolve(cmd.Context(), asContainer(args[0]))
			if err != nil {
				return err
			}
			info, ok := rt.tree.Node(id)
			if !ok {
				return catalog.ErrUnknownNode
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, rt.tree.ID(info.ID))
			if depth > 0 {
				depth++
			}
			return writeTree(cmd.Context(), out, rt.ctl, id, "", depth)
		},
	}

	cmd.Flags().IntVar(&depth, "depth", 0, "Maximum depth to print (0 for unlimited)")

	return cmd
}
