package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/harvest/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking HARVEST_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("HARVEST_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the harvest CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest — plugin-driven data collection",
		Long:  "Harvest inspects and drives a harvestd collector daemon.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.New(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Harvest server URL (or HARVEST_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newStatusCmd(),
		newCollectorsCmd(),
		newRemoveCmd(),
		newRunCmd(),
		newPluginsCmd(),
		newRecordsCmd(),
	)

	return root
}
