package main

import (
	"fmt"
	"os"

	"github.com/dvloznov/splitledger/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "splitledger",
	Short: "SplitLedger bulk CSV command line",
	Long: `Upload CSV command files to the SplitLedger API and follow their processing.

Each CSV row is one command (CREATE_USER, CREATE_GROUP, ADD_USER_TO_GROUP,
REMOVE_USER_FROM_GROUP, CREATE_EXPENSE or CREATE_SETTLEMENT). The API records the
outcome of every row; use 'status' to read them back.`,
	SilenceUsage: true,
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (default from config http.base_url)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("http.base_url", rootCmd.PersistentFlags().Lookup("api-url"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(uploadCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(configCmd())
}

// loadConfig resolves the configuration with command-line flags taking precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file, _ := cmd.Flags().GetString("config")
	return config.Load(viper.GetViper(), file)
}
