package commands

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"github.com/systmms/vaultenv/internal/config"
)

func NewServersCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List configured Vault servers",
		Long: `List the Vault servers of the configuration file.

Entries that fail validation are not listed; run 'vaultenv validate' to see
why. Secrets such as tokens and passwords are never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return err
			}

			connections := cfg.Definition.ValidConnections()
			if len(connections) == 0 {
				cfg.Logger.Warn("No vault server configured")
				return nil
			}

			table := uitable.New()
			table.MaxColWidth = 60
			table.AddRow("NAME", "ENDPOINT", "NAMESPACE", "AUTH")
			for _, conn := range connections {
				namespace := conn.Namespace
				if namespace == "" {
					namespace = "-"
				}
				table.AddRow(conn.Name, conn.Endpoint, namespace, authSummary(conn.Auth))
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	return cmd
}

func authSummary(auth config.Auth) string {
	if auth.Method == config.MethodUsername {
		return fmt.Sprintf("username (%s@%s)", auth.Username, auth.MountPoint)
	}
	return auth.Method
}
