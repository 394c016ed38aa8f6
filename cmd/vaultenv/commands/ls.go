package commands

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"github.com/systmms/vaultenv/internal/catalog"
	"github.com/systmms/vaultenv/internal/config"
)

func NewLsCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [server[/mount[/folder...]]]",
		Short: "List the entries below a path",
		Long: `List the children of a server, mount or folder.

The server is connected when needed. Without a path the configured servers
are listed.

Examples:
  vaultenv ls
  vaultenv ls dev
  vaultenv ls dev/secret/app`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}

			rt, err := oneShot(cmd, cfg)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			id, err := rt.ctl.Resolve(cmd.Context(), asContainer(path))
			if err != nil {
				return err
			}
			children, err := loadedChildren(cmd.Context(), rt.ctl, id)
			if err != nil {
				return err
			}

			table := uitable.New()
			table.MaxColWidth = 80
			if id == catalog.Root {
				table.AddRow("NAME", "STATE")
				for _, c := range children {
					table.AddRow(c.Label, c.State)
				}
			} else {
				table.AddRow("NAME", "KIND")
				for _, c := range children {
					table.AddRow(displayLabel(c), c.Kind)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	return cmd
}
