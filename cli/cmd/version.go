package cmd

import (
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ferry/cli/render"
	"github.com/pithecene-io/ferry/types"
)

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version              string `json:"version"`
	Commit               string `json:"commit"`
	EventContractVersion string `json:"event_contract_version"`
	GoVersion            string `json:"go_version"`
	Platform             string `json:"platform"`
}

func newVersionInfo(commit string) VersionInfo {
	return VersionInfo{
		Version:              types.Version,
		Commit:               commit,
		EventContractVersion: types.EventContractVersion,
		GoVersion:            runtime.Version(),
		Platform:             runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// VersionCommand prints build information. It never reads the config, so it
// works without a bot token or archive.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: ReadOnlyFlags(),
		Action: func(c *cli.Context) error {
			if c.Bool("tui") {
				return cli.Exit("--tui is not supported for version", 1)
			}
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}
			return r.Render(newVersionInfo(commit))
		},
	}
}
