package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	server     string
	timeout    time.Duration
	configPath string
}

func (o *rootOptions) client() *apiClient {
	return newAPIClient(o.server, o.timeout)
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "hue",
		Short:         "Client du serveur hue-downloader",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("HUE_SERVER_URL", "http://127.0.0.1:8080"), "URL du serveur")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Timeout HTTP")
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Fichier de configuration (fetch, config)")

	rootCmd.AddCommand(newHealthCommand(opts))
	rootCmd.AddCommand(newVersionCommand(opts))
	rootCmd.AddCommand(newDownloadCommand(opts))
	rootCmd.AddCommand(newFollowCommands(opts)...)
	rootCmd.AddCommand(newJobsCommand(opts))
	rootCmd.AddCommand(newSeriesCommand(opts))
	rootCmd.AddCommand(newFetchCommand(opts))
	rootCmd.AddCommand(newConfigCommand(opts))

	return rootCmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
