// web2video renders web pages, PDF documents and content manifests into
// video compilations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ivlev/web2video/internal/cache"
	"github.com/ivlev/web2video/internal/compose"
	"github.com/ivlev/web2video/internal/config"
	"github.com/ivlev/web2video/internal/content"
	"github.com/ivlev/web2video/internal/encode"
	"github.com/ivlev/web2video/internal/engine"
	"github.com/ivlev/web2video/internal/system"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()
	cfg.BuildVersion = version
	var configPath string
	var verbose bool

	cmd := &cobra.Command{
		Use:     "web2video <url | manifest.yaml | document.pdf>",
		Short:   "Render web content into a video compilation",
		Args:    cobra.ExactArgs(1),
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(verbose)
			if configPath != "" {
				if err := config.Load(configPath, cfg); err != nil {
					return err
				}
			}
			cfg.Input = args[0]
			return run(cmd.Context(), cfg, log)
		},
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	fl := cmd.Flags()
	fl.StringVarP(&cfg.OutputVideo, "output", "o", "", "output video path (default output/<name>_<timestamp>.mp4)")
	fl.StringVarP(&configPath, "config", "c", "", "YAML config file")
	fl.StringVar(&cfg.Preset, "preset", "", "canvas preset: 16:9, 9:16 or 4:5")
	fl.IntVar(&cfg.Width, "width", cfg.Width, "canvas width")
	fl.IntVar(&cfg.Height, "height", cfg.Height, "canvas height")
	fl.IntVar(&cfg.FPS, "fps", cfg.FPS, "frames per second")
	fl.Float64VarP(&cfg.UnitDuration, "duration", "d", cfg.UnitDuration, "default seconds per unit")
	fl.Float64Var(&cfg.CoverSec, "cover", cfg.CoverSec, "cover frame seconds, 0 disables")
	fl.Float64Var(&cfg.EndingSec, "ending", cfg.EndingSec, "ending frame seconds, 0 disables")
	fl.IntVarP(&cfg.Workers, "workers", "w", 0, "asset resolution workers (0 = auto)")
	fl.BoolVar(&cfg.Strict, "strict", false, "fail the run on the first bad unit instead of skipping it")
	fl.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "asset cache directory")
	fl.DurationVar(&cfg.FetchTimeout, "fetch-timeout", cfg.FetchTimeout, "per-asset fetch timeout")
	fl.StringVar(&cfg.FontPath, "font", "", "TTF/OTF font file or URL (default embedded Go Regular)")
	fl.Float64Var(&cfg.FontSize, "font-size", cfg.FontSize, "font size in points")
	fl.StringVar(&cfg.BackColor, "back-color", cfg.BackColor, "canvas background, #RRGGBB")
	fl.StringVar(&cfg.TextColor, "text-color", cfg.TextColor, "text color, #RRGGBB")
	fl.BoolVar(&cfg.QRBadge, "qr", false, "stamp a QR code of each unit's source URL")
	fl.StringVar(&cfg.VideoEncoder, "encoder", "", "ffmpeg H.264 encoder (default autodetected)")
	fl.IntVarP(&cfg.Quality, "quality", "q", 0, "encoder quality (crf/cq, encoder default when 0)")
	fl.BoolVar(&cfg.ShowStats, "stats", false, "print run statistics")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newExtractCmd(cfg, &verbose))
	return cmd
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg.ApplyPreset()
	if cfg.OutputVideo == "" {
		cfg.OutputVideo = defaultOutput(cfg.Input)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := system.CheckFFmpeg(); err != nil {
		return err
	}
	system.InitResourceLimits(log)

	if cfg.Workers <= 0 {
		cfg.Workers = system.DefaultWorkers(cfg.Width, cfg.Height)
	}
	if cfg.VideoEncoder == "" {
		cfg.VideoEncoder = system.DetectEncoder()
	}
	log.Info().
		Str("input", cfg.Input).
		Str("encoder", cfg.VideoEncoder).
		Int("workers", cfg.Workers).
		Msgf("web2video %s", cfg.BuildVersion)

	store, err := cache.New(cfg.CacheDir, cache.NewHTTPFetcher(cfg.FetchTimeout), log)
	if err != nil {
		return err
	}

	src, err := newSource(cfg, store)
	if err != nil {
		return err
	}
	defer src.Close()

	comp, err := newCompositor(ctx, cfg, store)
	if err != nil {
		return err
	}

	enc := encode.NewFFmpeg(encode.Options{
		Width:   cfg.Width,
		Height:  cfg.Height,
		FPS:     cfg.FPS,
		Encoder: cfg.VideoEncoder,
		Quality: cfg.Quality,
	}, log)

	if err := os.MkdirAll(filepath.Dir(cfg.OutputVideo), 0o755); err != nil {
		return err
	}

	res, err := engine.New(cfg, src, store, comp, engine.WrapFFmpeg(enc), log).Run(ctx)
	if err != nil {
		return err
	}

	fmt.Println(res.Artifact)
	if cfg.ShowStats {
		fmt.Fprintf(os.Stderr, "units: %d  frames: %d  skipped: %d  elapsed: %s\n",
			res.Units, res.Frames, len(res.Skipped), res.Elapsed.Round(time.Millisecond))
	}
	return nil
}

// newSource picks the content source from the input's shape: URLs load a
// page, .yaml a manifest, .pdf a document.
func newSource(cfg *config.Config, store *cache.Cache) (content.Source, error) {
	in := cfg.Input
	switch {
	case strings.HasPrefix(in, "http://"), strings.HasPrefix(in, "https://"):
		return content.NewPageSource(in, store, cfg.UnitDuration), nil
	case strings.HasSuffix(in, ".yaml"), strings.HasSuffix(in, ".yml"):
		return content.NewManifestSource(in, cfg.UnitDuration)
	case strings.HasSuffix(strings.ToLower(in), ".pdf"):
		return content.NewPDFSource(in, cfg.UnitDuration)
	default:
		return nil, fmt.Errorf("cannot tell what %q is: expected a URL, a .yaml manifest or a .pdf", in)
	}
}

func newCompositor(ctx context.Context, cfg *config.Config, store *cache.Cache) (*compose.Compositor, error) {
	back, err := config.ParseColor(cfg.BackColor)
	if err != nil {
		return nil, err
	}
	text, err := config.ParseColor(cfg.TextColor)
	if err != nil {
		return nil, err
	}

	var fontBytes []byte
	if cfg.FontPath != "" {
		ref := cache.Ref{Path: cfg.FontPath}
		if strings.HasPrefix(cfg.FontPath, "http://") || strings.HasPrefix(cfg.FontPath, "https://") {
			ref = cache.Ref{URL: cfg.FontPath}
		}
		asset, err := store.GetOrFetch(ctx, ref, cache.KindFont)
		if err != nil {
			return nil, fmt.Errorf("load font: %w", err)
		}
		fontBytes = asset.Bytes
	}

	return compose.New(compose.Options{
		Width:       cfg.Width,
		Height:      cfg.Height,
		Background:  back,
		TextColor:   text,
		FontBytes:   fontBytes,
		FontSize:    cfg.FontSize,
		LineSpacing: cfg.LineSpacing,
		QRBadge:     cfg.QRBadge,
	})
}

// defaultOutput builds output/<name>_<timestamp>.mp4 from the input.
func defaultOutput(input string) string {
	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		name = strings.Trim(strings.NewReplacer("http://", "", "https://", "", "/", "_").Replace(input), "_")
	}
	if name == "" || name == "." {
		name = "video"
	}
	return filepath.Join("output", fmt.Sprintf("%s_%s.mp4", name, time.Now().Format("20060102_150405")))
}
