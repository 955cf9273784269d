// Package cmd implements the livepatch command line.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/livepatch/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "livepatch",
	Short: "Live code reload for Starlark units",
	Long: `livepatch loads a directory of Starlark units, runs them, and keeps
watching their files. When a unit's file changes it is executed again, and
every live object whose class the unit declares switches to the new method
definitions while keeping its identity and fields.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/livepatch/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/livepatch")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("LIVEPATCH")
	// Replace dots with underscores for nested keys in env vars
	// e.g., LIVEPATCH_RELOAD_INTERVAL_MS for reload.interval_ms
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
