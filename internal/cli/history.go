package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/writefactory/internal/render"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse completed generations",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List completed generations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := openHistory(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		items, err := store.List(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			cmd.Println("No generations yet.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tKEYWORD\tTITLE\tSECTIONS\tCOMPLETED")
		for _, it := range items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
				it.ID, it.ContentType, it.Keyword, it.Title, it.Sections, it.CompletedAt.Local().Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a stored generation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := openHistory(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		snap, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get %s: %w", args[0], err)
		}
		switch format {
		case "markdown", "md":
			fmt.Fprint(cmd.OutOrStdout(), render.Markdown(*snap))
		case "html":
			page, err := render.HTML(*snap)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), page)
		case "json":
			data, err := sonic.ConfigStd.MarshalIndent(snap, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal snapshot: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
		default:
			return fmt.Errorf("unknown format %q (want markdown, html or json)", format)
		}
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "maximum number of generations to list")
	historyShowCmd.Flags().String("format", "markdown", "output format: markdown, html or json")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
}
