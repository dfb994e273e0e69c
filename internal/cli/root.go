// Package cli implements the whatif command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "whatif",
	Short: "Scenario-isolated what-if analysis on tabular data",
	Long: `whatif answers natural-language questions about tabular data and applies
parameter changes behind a human approval gate. Every scenario is an
isolated copy of the data, so branches can diverge freely.

Quick start:
  whatif init                          Initialize a workspace
  whatif create base                   Create the base scenario
  whatif ask "set max_demand to 20000" Propose a change
  whatif approve <approval-id>         Apply it`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .whatif/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newCreateCmd())
	rootCmd.AddCommand(newBranchCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newUseCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newPendingCmd())
	rootCmd.AddCommand(newApproveCmd())
	rootCmd.AddCommand(newRejectCmd())
	rootCmd.AddCommand(newAmendCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newWhitelistCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".whatif")
		viper.AddConfigPath("$HOME/.whatif")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("WHATIF")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
