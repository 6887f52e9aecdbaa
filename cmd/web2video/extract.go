package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ivlev/web2video/internal/cache"
	"github.com/ivlev/web2video/internal/config"
	"github.com/ivlev/web2video/internal/content"
)

// newExtractCmd adds `extract`: pull a page's content units and write them
// out as an editable manifest instead of rendering.
func newExtractCmd(cfg *config.Config, verbose *bool) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "extract <url>",
		Short: "Extract a page's content into a YAML manifest",
		Long: "Extract fetches the page, lists its content units and writes them as a\n" +
			"manifest you can edit and feed back to the render command.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(*verbose)

			store, err := cache.New(cfg.CacheDir, cache.NewHTTPFetcher(cfg.FetchTimeout), log)
			if err != nil {
				return err
			}
			src := content.NewPageSource(args[0], store, cfg.UnitDuration)
			defer src.Close()

			units, err := src.Units(cmd.Context())
			if err != nil {
				return err
			}
			if err := content.WriteManifest(outPath, src.Title(), units); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%d units written to %s\n", len(units), outPath)
			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "manifest.yaml", "manifest path")
	return cmd
}
