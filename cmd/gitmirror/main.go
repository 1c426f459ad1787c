package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gitmirror/gitmirror/internal/config"
)

var (
	configFile string
	dbPath     string
	jsonOutput bool
)

func init() {
	// Initialize viper configuration
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: ./gitmirror.yaml, then standard locations)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Mapping database path (default: gitmirror.db)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}

var rootCmd = &cobra.Command{
	Use:   "gitmirror",
	Short: "gitmirror - Bidirectional Gitee/GitHub issue mirror",
	Long:  `A webhook-driven service that mirrors issues and comments between paired Gitee and GitHub repositories.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("gitmirror version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if configFile != "" {
			if err := config.UseConfigFile(configFile); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		}

		// Apply viper configuration if flags weren't explicitly set.
		// Priority: flags > viper (config file + env vars) > defaults.
		if !cmd.Flags().Changed("json") {
			jsonOutput = config.GetBool("json")
		}
		if !cmd.Flags().Changed("db") && dbPath == "" {
			dbPath = config.GetString("db")
		}
	},
}

func outputJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
