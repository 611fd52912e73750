package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/ferry/adapter"
	"github.com/pithecene-io/ferry/adapter/redis"
	"github.com/pithecene-io/ferry/bytefmt"
	"github.com/pithecene-io/ferry/log"
	"github.com/pithecene-io/ferry/proxy"
)

// Config represents a ferry.yaml configuration file.
// Load starts from Defaults, so omitted keys keep their default values.
// CLI flags always override config values.
type Config struct {
	WorkDir   string          `yaml:"work_dir"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Normalize NormalizeConfig `yaml:"normalize"`
	Package   PackageConfig   `yaml:"package"`
	Tools     ToolsConfig     `yaml:"tools"`
	Adapter   AdapterConfig   `yaml:"adapter"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Log       LogConfig       `yaml:"log"`
}

// TelegramConfig holds the bot transport settings.
type TelegramConfig struct {
	Token            string   `yaml:"token"`
	APIURL           string   `yaml:"api_url"`
	PollInterval     Duration `yaml:"poll_interval"`
	PollTimeout      Duration `yaml:"poll_timeout"`
	RequestTimeout   Duration `yaml:"request_timeout"`
	UploadTimeout    Duration `yaml:"upload_timeout"`
	SkipBacklog      bool     `yaml:"skip_backlog"`
	ProgressInterval Duration `yaml:"progress_interval"`
	BusyPolicy       string   `yaml:"busy_policy"`
}

// FetchConfig holds range fetch settings.
type FetchConfig struct {
	Parts          int      `yaml:"parts"`
	Parallel       int      `yaml:"parallel"`
	Timeout        Duration `yaml:"timeout"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	UserAgent      string   `yaml:"user_agent"`
	// Proxies rotates source requests across these proxy URLs.
	Proxies        []string `yaml:"proxies"`
	ProxyStrategy  string   `yaml:"proxy_strategy"`
	ProxyStickyTTL Duration `yaml:"proxy_sticky_ttl"`
}

// NormalizeConfig holds streaming normalization settings.
type NormalizeConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CompatibleCodec string `yaml:"compatible_codec"`
	VideoCodec      string `yaml:"video_codec"`
	AudioCodec      string `yaml:"audio_codec"`
	AudioBitrate    string `yaml:"audio_bitrate"`
	Preset          string `yaml:"preset"`
	CRF             int    `yaml:"crf"`
}

// PackageConfig holds the size ceiling and the size-reducing re-encode.
type PackageConfig struct {
	Ceiling      ByteSize `yaml:"ceiling"`
	Reencode     bool     `yaml:"reencode"`
	CRF          int      `yaml:"crf"`
	Preset       string   `yaml:"preset"`
	MaxHeight    int      `yaml:"max_height"`
	AudioBitrate string   `yaml:"audio_bitrate"`
}

// ToolsConfig holds media tool paths.
type ToolsConfig struct {
	FFmpeg  string `yaml:"ffmpeg"`
	FFprobe string `yaml:"ffprobe"`
}

// AdapterConfig holds transfer-completed event adapter settings.
type AdapterConfig struct {
	Type     string            `yaml:"type"`
	URL      string            `yaml:"url"`
	Channel  string            `yaml:"channel,omitempty"`
	Mode     string            `yaml:"mode,omitempty"`
	MaxLen   int64             `yaml:"max_len,omitempty"`
	Encoding string            `yaml:"encoding,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Timeout  Duration          `yaml:"timeout,omitempty"`
	Retries  *int              `yaml:"retries,omitempty"`
}

// ArchiveConfig holds the optional archive of delivered files.
type ArchiveConfig struct {
	Backend       string `yaml:"backend"`
	Dataset       string `yaml:"dataset"`
	Path          string `yaml:"path"`
	Region        string `yaml:"region"`
	Profile       string `yaml:"profile"`
	Endpoint      string `yaml:"endpoint"`
	S3PathStyle   bool   `yaml:"s3_path_style"`
	S3MaxAttempts int    `yaml:"s3_max_attempts"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		WorkDir: filepath.Join(os.TempDir(), "ferry"),
		Telegram: TelegramConfig{
			APIURL:           "https://api.telegram.org",
			PollInterval:     Duration{time.Second},
			PollTimeout:      Duration{25 * time.Second},
			RequestTimeout:   Duration{30 * time.Second},
			UploadTimeout:    Duration{10 * time.Minute},
			SkipBacklog:      true,
			ProgressInterval: Duration{3 * time.Second},
			BusyPolicy:       "queue",
		},
		Fetch: FetchConfig{
			Parts:          4,
			Timeout:        Duration{30 * time.Minute},
			ConnectTimeout: Duration{30 * time.Second},
		},
		Normalize: NormalizeConfig{
			Enabled:         true,
			CompatibleCodec: "h264",
			VideoCodec:      "libx264",
			AudioCodec:      "aac",
			AudioBitrate:    "128k",
			Preset:          "veryfast",
			CRF:             23,
		},
		Package: PackageConfig{
			Ceiling:      ByteSize(48 << 20),
			Reencode:     true,
			CRF:          28,
			Preset:       "veryfast",
			MaxHeight:    720,
			AudioBitrate: "96k",
		},
		Tools: ToolsConfig{FFmpeg: "ffmpeg", FFprobe: "ffprobe"},
		Log:   LogConfig{Level: "info"},
	}
}

// Validate checks settings shared by every command.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.WorkDir) == "" {
		errs = append(errs, errors.New("work_dir must be set"))
	}
	if c.Fetch.Parts < 1 {
		errs = append(errs, fmt.Errorf("fetch.parts must be >= 1, got %d", c.Fetch.Parts))
	}
	if c.Fetch.Parallel < 0 {
		errs = append(errs, fmt.Errorf("fetch.parallel must be >= 0, got %d", c.Fetch.Parallel))
	}
	if len(c.Fetch.Proxies) > 0 {
		pool := c.ProxyPool()
		if err := pool.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("fetch.proxies: %w", err))
		}
	}
	if c.Package.Ceiling <= 0 {
		errs = append(errs, errors.New("package.ceiling must be positive"))
	}
	for name, crf := range map[string]int{"normalize.crf": c.Normalize.CRF, "package.crf": c.Package.CRF} {
		// 0 would be lossless in x264, but the stages read it as unset.
		if crf < 1 || crf > 51 {
			errs = append(errs, fmt.Errorf("%s must be within 1..51, got %d", name, crf))
		}
	}
	switch strings.ToLower(c.Telegram.BusyPolicy) {
	case "", "queue", "reject":
	default:
		errs = append(errs, fmt.Errorf("telegram.busy_policy must be queue or reject, got %q", c.Telegram.BusyPolicy))
	}
	switch c.Archive.Backend {
	case "", "fs":
	case "s3":
		if c.Archive.Path == "" {
			errs = append(errs, errors.New("archive.path (bucket/prefix) is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend must be fs or s3, got %q", c.Archive.Backend))
	}
	if c.Archive.Backend == "fs" && c.Archive.Path == "" {
		errs = append(errs, errors.New("archive.path is required for the fs backend"))
	}
	switch c.Adapter.Type {
	case "":
	case "webhook", "redis":
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for the %s adapter", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type))
	}
	if c.Adapter.Type == "redis" {
		if _, err := redis.ParseMode(c.Adapter.Mode); err != nil {
			errs = append(errs, fmt.Errorf("adapter.mode: %w", err))
		}
	}
	if _, err := adapter.ParseEncoding(c.Adapter.Encoding); err != nil {
		errs = append(errs, fmt.Errorf("adapter.encoding: %w", err))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// ProxyPool returns the configured fetch proxy pool.
func (c *Config) ProxyPool() proxy.Pool {
	return proxy.Pool{
		Endpoints: c.Fetch.Proxies,
		Strategy:  proxy.Strategy(c.Fetch.ProxyStrategy),
		StickyTTL: c.Fetch.ProxyStickyTTL.Duration,
	}
}

// ValidateServe checks the settings the bot needs on top of Validate.
func (c *Config) ValidateServe() error {
	err := c.Validate()
	if strings.TrimSpace(c.Telegram.Token) == "" {
		err = errors.Join(err, errors.New("telegram.token is required (set it in ferry.yaml or FERRY_TELEGRAM_TOKEN)"))
	}
	return err
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// ByteSize is a byte count that accepts plain integers or unit strings
// such as "48MiB" or "50MB".
type ByteSize int64

// UnmarshalYAML parses a byte size scalar.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: byte size must be a scalar", value.Line)
	}
	if value.Value == "" {
		return nil
	}
	n, err := bytefmt.Parse(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*b = ByteSize(n)
	return nil
}

// MarshalYAML renders the size in binary units.
func (b ByteSize) MarshalYAML() (any, error) {
	return bytefmt.Format(int64(b)), nil
}

// Int64 returns the size in bytes.
func (b ByteSize) Int64() int64 { return int64(b) }
