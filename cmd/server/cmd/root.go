package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	rootShort = "Space places server - multilingual catalogue of space exploration sites"
	rootLong  = `The space places server publishes a moderated, multilingual catalogue of
places tied to space exploration: launch sites, observatories, museums and
mission control centres.

The server provides:
- Public site with map exploration in every configured locale
- Public JSON API and geocoding proxy
- Visitor proposals and change reports with a moderation workflow
- Admin API for places, tags, categories and administrators
- Background jobs for notifications, translations and geocoding`
)

var (
	// Global flags
	configPath string
	logLevel   string
	logFormat  string

	rootCmd = &cobra.Command{
		Use:   "server",
		Short: rootShort,
		Long:  rootLong,
		// No subcommand means serve.
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd.RunE(cmd, args)
		},
	}
)

// Execute runs the root command. It is called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	addPersistentFlags(rootCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(healthcheckCmd)
}

func addPersistentFlags(c *cobra.Command) {
	c.PersistentFlags().StringVar(&configPath, "config", "", "dotenv file loaded before reading the environment (optional)")
	c.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error) (default: info)")
	c.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, console) (default: json)")
}
