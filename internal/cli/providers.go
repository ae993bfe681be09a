package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		pool, err := buildPool(cfg, zerolog.Nop())
		if err != nil {
			return err
		}
		kinds := make(map[string]string, len(cfg.Providers))
		models := make(map[string]string, len(cfg.Providers))
		for _, p := range cfg.Providers {
			kinds[p.ID], models[p.ID] = p.Kind, p.Model
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCAPABILITY\tKIND\tMODEL\tWEIGHT\tHEALTH")
		for _, d := range pool.Snapshot() {
			model := models[d.ID]
			if model == "" {
				model = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%g\t%s\n", d.ID, d.Capability, kinds[d.ID], model, d.Weight, d.Health)
		}
		return tw.Flush()
	},
}
