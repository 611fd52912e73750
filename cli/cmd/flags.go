// Package cmd provides CLI commands for the ferry binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared output flags for commands that render a report.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for fetch (live progress) and history.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (fetch, history only)",
	}
)

// ConfigFlag points at a ferry.yaml file. Without it, ./ferry.yaml is used
// when present.
var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to ferry.yaml (default ./ferry.yaml when present)",
	EnvVars: []string{"FERRY_CONFIG"},
}

// ReadOnlyFlags returns the shared output flags.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// PipelineFlags returns the flags that override pipeline settings from
// ferry.yaml. Only flags set on the command line override config values.
func PipelineFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{Name: "work-dir", Usage: "Parent directory of per-transfer working directories"},
		&cli.IntFlag{Name: "parts", Usage: "Number of byte ranges for a known-size source"},
		&cli.IntFlag{Name: "parallel", Usage: "Concurrent part fetches (0 = one per part)"},
		&cli.StringSliceFlag{Name: "proxy", Usage: "Proxy URL for source requests (repeatable)"},
		&cli.StringFlag{Name: "ceiling", Usage: "Largest deliverable file, e.g. 48MiB or 50MB"},
		&cli.BoolFlag{Name: "no-reencode", Usage: "Split oversized files without trying a size-reducing re-encode"},
		&cli.BoolFlag{Name: "no-normalize", Usage: "Deliver the assembled file without remux or transcode"},
		&cli.StringFlag{Name: "ffmpeg", Usage: "Path to the ffmpeg executable"},
		&cli.StringFlag{Name: "ffprobe", Usage: "Path to the ffprobe executable"},
		&cli.StringFlag{Name: "archive-backend", Usage: "Archive backend: fs or s3 (empty disables archiving)"},
		&cli.StringFlag{Name: "archive-path", Usage: "Archive path (fs: directory, s3: bucket/prefix)"},
		&cli.StringFlag{Name: "adapter", Usage: "Transfer-completed adapter: webhook or redis"},
		&cli.StringFlag{Name: "adapter-url", Usage: "Adapter endpoint (webhook URL or redis://host:port/db)"},
		&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error"},
	}
}
