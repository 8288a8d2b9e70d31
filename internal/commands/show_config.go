package commands

import (
	"github.com/spf13/cobra"

	"github.com/mwiater/relay/internal/appconfig"
)

// showCmd represents the 'show' command group for displaying resources.
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Group commands for displaying resources",
}

// showConfigCmd implements the 'show config' command, which displays the current configuration settings.
var showConfigCmd = &cobra.Command{
	Use:         "config",
	Short:       "Show config settings",
	Long:        `Show config settings ensuring that the JSON config, .env file, environment and flags are merged as expected. Secrets are masked.`,
	Annotations: map[string]string{annotationQuietLog: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		appconfig.ShowConfig(cmd.OutOrStdout(), *GetConfig())
	},
}

func init() {
	showCmd.AddCommand(showConfigCmd)
	rootCmd.AddCommand(showCmd)
}
