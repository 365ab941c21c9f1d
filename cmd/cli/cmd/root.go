package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "studioctl",
	Short: "studioctl is a command line tool for operating the studio",
	Long: `studioctl is the operator interface for the studio controller.

It calls the controller's internal endpoints, the same ones the scheduler
triggers, so an operator can drive the pipeline by hand.

Common workflows:

  Close the voting period once it has ended and greenlight the winner:
    studioctl tick voting

  Run one production batch:
    studioctl tick production

  Open a voting period now:
    studioctl period open --duration 168h

  Requeue a failed episode:
    studioctl reset episode <episode-id>

  Inspect failed jobs:
    studioctl jobs --status failed

Configuration:
  Set the API endpoint and secret via flags, environment variables or $HOME/.studioctl.yaml:
    STUDIO_URL       Controller URL (default: http://localhost:6161)
    STUDIO_SECRET    Internal secret for /internal endpoints`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func newClient() *StudioClient {
	return NewStudioClient(viper.GetString("url"), viper.GetString("secret"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".studioctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".studioctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "STUDIO_VARNAME"
	viper.SetEnvPrefix("STUDIO")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.studioctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "Studio controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("secret", "s", "", "Internal secret for authentication")
	viper.BindPFlag("secret", rootCmd.PersistentFlags().Lookup("secret"))
}
