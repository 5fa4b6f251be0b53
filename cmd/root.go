package cmd

import (
	"github.com/spf13/cobra"

	"github.com/veldt/ledge/internal/app"
	"github.com/veldt/ledge/internal/config"
	"github.com/veldt/ledge/internal/logger"
)

var (
	// Version is set during build
	Version = "0.1.0-dev"

	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "ledge",
		Short: "Ledge - Wayland status panel",
		Long: `Ledge is a status panel for mobile Wayland sessions. It renders a
persistent bar (clock, battery, connectivity, brightness) as a
layer-shell surface and negotiates its placement with the compositor.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				config.SetConfigPath(configPath)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.LogLevel = logLevel
			}
			return app.Run(cfg)
		},
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		logger.Infof("ledge %s", Version)
	},
}
