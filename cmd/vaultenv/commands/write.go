package commands

import (
	"github.com/spf13/cobra"
	"github.com/systmms/vaultenv/internal/config"
	"github.com/systmms/vaultenv/internal/envfile"
)

func NewWriteCommand(cfg *config.Config) *cobra.Command {
	var (
		out    string
		origin string
	)

	cmd := &cobra.Command{
		Use:   "write <server>/<mount>/<secret>",
		Short: "Append a secret to a .env file",
		Long: `Read a secret and append it to a .env file as a block of KEY=VALUE lines.

Each block starts with a header naming the server, mount and secret it came
from. The file is created with mode 0600 when missing and is never
truncated. Use --out - to print the block instead.

Examples:
  vaultenv write dev/secret/app/db
  vaultenv write dev/secret/app/db --out config/.env.local
  vaultenv write dev/secret/app/db --out -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := oneShot(cmd, cfg)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			id, err := resolveSecret(cmd.Context(), rt.ctl, args[0])
			if err != nil {
				return err
			}

			n, err := rt.ctl.Write(cmd.Context(), id, &envfile.Writer{
				Path:   out,
				Origin: rt.origin(origin),
				Stdout: cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			if out != envfile.Stdout {
				cfg.Logger.Info("Wrote %d variable(s) from %s to %s", n, rt.tree.ID(id), out)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", ".env", "File to append to, or - for stdout")
	cmd.Flags().StringVar(&origin, "origin", "", "Origin shown in the block header (defaults to the configuration's)")

	return cmd
}
