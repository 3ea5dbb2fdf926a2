// Package cmd wires the engine into a CLI: one-shot reasoning turns,
// session status, and configuration inspection.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mfalcier/conclave/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "conclave",
	Short: "Consensus-driven reasoning turn engine",
	Long: `Conclave runs bounded reasoning turns for an AI coding assistant:
a recursive turn state machine whose strategy is steered by a voting
council of advisory agents, with isolated review streams merged back
deterministically and every tool side effect mediated by per-target locks.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/conclave/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Defaults first so every key resolves even without a config file.
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CONCLAVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Missing config files are fine; defaults carry the run.
	_ = viper.ReadInConfig()
}
