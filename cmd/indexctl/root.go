package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/docqa/internal/config"
)

var (
	cfg          *config.Config
	manifestPath string
)

var rootCmd = &cobra.Command{
	Use:          "indexctl",
	Short:        "Inspect and rebuild the document index",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		if manifestPath == "" {
			manifestPath = cfg.Index.ManifestPath
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&manifestPath, "manifest", "", "index manifest path (default INDEX_MANIFEST_PATH)")
}
