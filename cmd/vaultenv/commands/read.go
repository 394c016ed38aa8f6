package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/vaultenv/internal/config"
	"github.com/systmms/vaultenv/internal/flatten"
)

func NewReadCommand(cfg *config.Config) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "read <server>/<mount>/<secret>",
		Short: "Print the flattened variables of a secret",
		Long: `Read a secret and print it the way it would be written to a .env file.

Nested values are flattened into KEY_SUBKEY names. With --json the pairs are
printed as a JSON object instead.

Examples:
  vaultenv read dev/secret/app/db
  vaultenv read dev/secret/app/db --json`,
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
			pairs, err := rt.ctl.Read(cmd.Context(), id)
			if err != nil {
				return err
			}

			return printPairs(cmd, pairs, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the variables as a JSON object")

	return cmd
}

func printPairs(cmd *cobra.Command, pairs []flatten.Pair, asJSON bool) error {
	out := cmd.OutOrStdout()
	if !asJSON {
		for _, p := range pairs {
			fmt.Fprintln(out, p.String())
		}
		return nil
	}

	obj := make(map[string]string, len(pairs))
	for _, p := range pairs {
		obj[p.Key] = p.Value
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(obj)
}
