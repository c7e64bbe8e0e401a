package main

import (
	"github.com/spf13/cobra"

	"github.com/jmylchreest/xsnotify/internal/tui"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Edit the configuration interactively",
	Long: `Open a terminal UI for editing the configuration file.

Every change is validated and saved immediately. A running relay picks up
the new file on its next start (or exits for a restart when
exit_on_config_change is set).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return tui.Run(tui.RunOptions{ConfigPath: configPath()})
	},
}

func init() {
	rootCmd.AddCommand(settingsCmd)
}
