// Command server runs the investigation service.
//
//	server serve     start the HTTP API, WebSocket stream and gRPC health service
//	server migrate   apply State Store migrations and print the schema version
//	server purge     delete expired investigations
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	envFile    string
}

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Structured root-cause investigation service",
	Long:  "Runs guided incident investigations through intake, triage, timeline,\nhypothesis, diagnosis, solution and documentation phases.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", "/etc/kubilitics/investigator.yaml", "path to the YAML config file")
	pf.StringVar(&rootFlags.envFile, "env-file", ".env", "dotenv file loaded before the environment")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
