package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "writefactory",
	Short: "writefactory: keyword-driven content generation pipelines",
	Long: `writefactory turns a keyword into an article, a narration script or a
two-presenter dialogue script by running a fixed sequence of generation
steps against a pool of text and image providers.

Configuration is read from --config, ./writefactory.yaml or
~/.writefactory/config.yaml. Without any file an offline provider is used.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(statsCmd)
}
