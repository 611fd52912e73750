package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ferry/adapter"
	"github.com/pithecene-io/ferry/adapter/redis"
	"github.com/pithecene-io/ferry/adapter/webhook"
	"github.com/pithecene-io/ferry/bytefmt"
	"github.com/pithecene-io/ferry/cli/config"
	"github.com/pithecene-io/ferry/fetch"
	"github.com/pithecene-io/ferry/lode"
	"github.com/pithecene-io/ferry/log"
	"github.com/pithecene-io/ferry/media"
	"github.com/pithecene-io/ferry/metrics"
	"github.com/pithecene-io/ferry/normalize"
	"github.com/pithecene-io/ferry/pack"
	"github.com/pithecene-io/ferry/pipeline"
	"github.com/pithecene-io/ferry/proxy"
)

// defaultConfigPath is loaded when --config is not given and the file exists.
const defaultConfigPath = "ferry.yaml"

// loadConfig reads ferry.yaml (or the built-in defaults) and applies the
// command-line overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	path := c.String("config")
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}

	cfg := config.Defaults()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = *loaded
	}
	if err := applyFlags(c, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyFlags overrides config values with flags set on the command line.
func applyFlags(c *cli.Context, cfg *config.Config) error {
	if c.IsSet("work-dir") {
		cfg.WorkDir = c.String("work-dir")
	}
	if c.IsSet("parts") {
		cfg.Fetch.Parts = c.Int("parts")
	}
	if c.IsSet("parallel") {
		cfg.Fetch.Parallel = c.Int("parallel")
	}
	if c.IsSet("proxy") {
		cfg.Fetch.Proxies = c.StringSlice("proxy")
	}
	if c.IsSet("ceiling") {
		n, err := bytefmt.Parse(c.String("ceiling"))
		if err != nil {
			return fmt.Errorf("--ceiling: %w", err)
		}
		cfg.Package.Ceiling = config.ByteSize(n)
	}
	if c.Bool("no-reencode") {
		cfg.Package.Reencode = false
	}
	if c.Bool("no-normalize") {
		cfg.Normalize.Enabled = false
	}
	if c.IsSet("ffmpeg") {
		cfg.Tools.FFmpeg = c.String("ffmpeg")
	}
	if c.IsSet("ffprobe") {
		cfg.Tools.FFprobe = c.String("ffprobe")
	}
	if c.IsSet("archive-backend") {
		cfg.Archive.Backend = c.String("archive-backend")
	}
	if c.IsSet("archive-path") {
		cfg.Archive.Path = c.String("archive-path")
	}
	if c.IsSet("adapter") {
		cfg.Adapter.Type = c.String("adapter")
	}
	if c.IsSet("adapter-url") {
		cfg.Adapter.URL = c.String("adapter-url")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	return nil
}

func newLogger(cfg config.Config) *log.Logger {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		// Validate already rejected bad levels.
		level, _ = log.ParseLevel("info")
	}
	return log.NewLogger("ferry", level)
}

// stack is a wired pipeline plus the resources it owns.
type stack struct {
	pipeline  *pipeline.Pipeline
	archive   *lode.Archive
	adapter   adapter.Adapter
	collector *metrics.Collector
}

// Close releases the archive and adapter. Errors are joined.
func (s *stack) Close() error {
	var errs []error
	if s.adapter != nil {
		errs = append(errs, s.adapter.Close())
	}
	if s.archive != nil {
		errs = append(errs, s.archive.Close())
	}
	return errors.Join(errs...)
}

// checkTools fails when a stage that shells out to ffmpeg is enabled but the
// executables cannot be found.
func checkTools(cfg config.Config) error {
	if !cfg.Normalize.Enabled && !cfg.Package.Reencode {
		return nil
	}
	if err := media.NewToolchain(cfg.Tools.FFmpeg, cfg.Tools.FFprobe).Check(); err != nil {
		return fmt.Errorf("media tools missing (disable normalize and package re-encode to run without them): %w", err)
	}
	return nil
}

// buildStack wires the pipeline stages, archive and adapter from cfg.
func buildStack(ctx context.Context, cfg config.Config, transport string, deliverer pipeline.Deliverer, logger *log.Logger) (*stack, error) {
	archive, err := buildArchive(ctx, cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	adp, err := buildAdapter(cfg.Adapter)
	if err != nil {
		if archive != nil {
			_ = archive.Close()
		}
		return nil, fmt.Errorf("failed to create adapter: %w", err)
	}

	collector := metrics.NewCollector(transport, cfg.Archive.Backend, cfg.Adapter.Type)
	tools := media.NewToolchain(cfg.Tools.FFmpeg, cfg.Tools.FFprobe)

	fcfg := fetch.Config{
		Timeout:        cfg.Fetch.Timeout.Duration,
		ConnectTimeout: cfg.Fetch.ConnectTimeout.Duration,
		UserAgent:      cfg.Fetch.UserAgent,
	}
	if len(cfg.Fetch.Proxies) > 0 {
		pool := cfg.ProxyPool()
		for _, w := range pool.Warnings() {
			logger.Warn("proxy pool", map[string]any{"warning": w})
		}
		sel, err := proxy.NewSelector(pool)
		if err != nil {
			s := &stack{archive: archive, adapter: adp}
			_ = s.Close()
			return nil, fmt.Errorf("failed to create proxy selector: %w", err)
		}
		fcfg.Proxy = sel.ProxyFunc()
	}

	pcfg := pipeline.Config{
		WorkDir:  cfg.WorkDir,
		Parts:    cfg.Fetch.Parts,
		Parallel: cfg.Fetch.Parallel,
		Fetcher:  fetch.New(fcfg),
		Normalizer: normalize.New(normalize.Config{
			Enabled:         cfg.Normalize.Enabled,
			CompatibleCodec: cfg.Normalize.CompatibleCodec,
			VideoCodec:      cfg.Normalize.VideoCodec,
			AudioCodec:      cfg.Normalize.AudioCodec,
			AudioBitrate:    cfg.Normalize.AudioBitrate,
			Preset:          cfg.Normalize.Preset,
			CRF:             cfg.Normalize.CRF,
		}, tools, logger.Named("normalize")),
		Packager: pack.New(pack.Config{
			Ceiling:      cfg.Package.Ceiling.Int64(),
			Reencode:     cfg.Package.Reencode,
			CRF:          cfg.Package.CRF,
			Preset:       cfg.Package.Preset,
			MaxHeight:    cfg.Package.MaxHeight,
			AudioBitrate: cfg.Package.AudioBitrate,
		}, tools, logger.Named("pack")),
		Deliverer: deliverer,
		Collector: collector,
		Logger:    logger.Named("pipeline"),
	}
	// Typed nils must not reach the interface fields.
	if archive != nil {
		pcfg.Archive = archive
	}
	if adp != nil {
		pcfg.Adapter = adp
	}

	p, err := pipeline.New(pcfg)
	if err != nil {
		s := &stack{archive: archive, adapter: adp}
		_ = s.Close()
		return nil, err
	}
	return &stack{pipeline: p, archive: archive, adapter: adp, collector: collector}, nil
}

// buildArchive returns nil when archiving is disabled.
func buildArchive(ctx context.Context, cfg config.ArchiveConfig) (*lode.Archive, error) {
	lcfg := lode.Config{Dataset: cfg.Dataset}
	switch cfg.Backend {
	case "":
		return nil, nil
	case "fs":
		if cfg.Path == "" {
			return nil, errors.New("archive.path is required for the fs backend")
		}
		return lode.NewArchive(lcfg, cfg.Path)
	case "s3":
		bucket, prefix := lode.ParseS3Path(cfg.Path)
		return lode.NewS3Archive(ctx, lcfg, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Region,
			Profile:      cfg.Profile,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.S3PathStyle,
			MaxAttempts:  cfg.S3MaxAttempts,
		})
	default:
		return nil, fmt.Errorf("unknown archive backend: %s (must be fs or s3)", cfg.Backend)
	}
}

// buildAdapter returns nil when no adapter is configured.
func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	if cfg.Type == "" {
		return nil, nil
	}
	enc, err := adapter.ParseEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "webhook":
		wcfg := webhook.Config{
			URL:      cfg.URL,
			Headers:  cfg.Headers,
			Timeout:  cfg.Timeout.Duration,
			Retries:  webhook.DefaultRetries,
			Encoding: enc,
		}
		if cfg.Retries != nil {
			wcfg.Retries = *cfg.Retries
		}
		return webhook.New(wcfg)
	case "redis":
		rcfg := redis.Config{
			URL:      cfg.URL,
			Channel:  cfg.Channel,
			Mode:     redis.Mode(cfg.Mode),
			MaxLen:   cfg.MaxLen,
			Timeout:  cfg.Timeout.Duration,
			Retries:  redis.DefaultRetries,
			Encoding: enc,
		}
		if cfg.Retries != nil {
			rcfg.Retries = *cfg.Retries
		}
		return redis.New(rcfg)
	default:
		return nil, fmt.Errorf("unknown adapter type: %s (must be webhook or redis)", cfg.Type)
	}
}
