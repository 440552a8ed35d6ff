// Package commands implements the siegebot CLI using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "siegebot",
	Short: "Automation bot for recurring in-game duties",
	Long: `siegebot drives one or more game accounts on Android emulators,
running their recurring duties (harvest, training, arena, rallies, mail)
on per-duty schedules through adb and a computer-vision sidecar.

Each profile gets its own task queue and worker, so accounts never share
an emulator session.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Stderr.WriteString("error: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./siegebot.yaml", "path to config file (yaml or json)")
	rootCmd.AddCommand(runCmd, profilesCmd, doctorCmd)
}
