package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ferry/cli/reader"
	"github.com/pithecene-io/ferry/cli/render"
	"github.com/pithecene-io/ferry/cli/tui"
	"github.com/pithecene-io/ferry/lode"
)

// HistoryCommand returns the history command, which reads the transfer
// journal from the configured archive.
func HistoryCommand() *cli.Command {
	flags := append([]cli.Flag{ConfigFlag}, ReadOnlyFlags()...)
	flags = append(flags,
		&cli.StringFlag{Name: "archive-backend", Usage: "Archive backend: fs or s3"},
		&cli.StringFlag{Name: "archive-path", Usage: "Archive path (fs: directory, s3: bucket/prefix)"},
		&cli.StringFlag{Name: "day", Usage: "Only transfers started on this UTC day (YYYY-MM-DD)"},
		&cli.StringFlag{Name: "outcome", Usage: "Only transfers with this outcome: success or failed"},
		&cli.StringFlag{Name: "transfer-id", Usage: "Only the transfer with this ID"},
		&cli.IntFlag{Name: "limit", Usage: "Maximum number of transfers (0 = no limit)", Value: 50},
	)
	return &cli.Command{
		Name:   "history",
		Usage:  "List finished transfers from the archive journal",
		Flags:  flags,
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if cfg.Archive.Backend == "" {
		return cli.Exit("history needs an archive: set archive.backend in ferry.yaml or pass --archive-backend", 1)
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid config:\n%v", err), 1)
	}

	archive, err := buildArchive(c.Context, cfg.Archive)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open archive: %v", err), 1)
	}
	defer func() { _ = archive.Close() }()

	entries, err := reader.NewLodeReader(archive.Dataset()).History(c.Context, lode.HistoryFilter{
		Day:        c.String("day"),
		Outcome:    c.String("outcome"),
		TransferID: c.String("transfer-id"),
		Limit:      c.Int("limit"),
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to read history: %v", err), 1)
	}
	view := reader.NewHistoryView(entries)

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewHistory, view)
	}
	// Table output lists the entries; structured formats carry the stats too.
	if r.Format() == render.FormatTable {
		return r.Render(view.Entries)
	}
	return r.Render(view)
}
