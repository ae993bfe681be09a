package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/writefactory/internal/config"
	"github.com/lucasnoah/writefactory/internal/prompt"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage prompt templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in prompt templates",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range prompt.BuiltinNames() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}

var templatesInstallCmd = &cobra.Command{
	Use:   "install [dir]",
	Short: "Copy the built-in templates into a directory for editing",
	Long: `Copy the built-in prompt templates into dir (default ~/.writefactory/templates).
Existing files are left untouched. Point the config's templates key at dir
to use the edited copies.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		} else {
			home, err := config.HomeDir()
			if err != nil {
				return err
			}
			dir = filepath.Join(home, "templates")
		}
		written, err := prompt.InstallBuiltinTemplates(dir)
		if err != nil {
			return err
		}
		for _, p := range written {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d template(s) installed in %s\n", len(written), dir)
		return nil
	},
}

func init() {
	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesInstallCmd)
}
