package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/pithecene-io/ferry/cli/render"
	"github.com/pithecene-io/ferry/cli/tui"
	"github.com/pithecene-io/ferry/iox"
	"github.com/pithecene-io/ferry/pipeline"
	"github.com/pithecene-io/ferry/types"
)

// Exit codes for fetch.
const (
	exitFailed   = 1
	exitCanceled = 130
)

// FetchReport is the rendered result of a local fetch.
type FetchReport struct {
	TransferID    string         `json:"transfer_id"`
	SourceURL     string         `json:"source_url"`
	Outcome       string         `json:"outcome"`
	FailedStage   string         `json:"failed_stage,omitempty"`
	Message       string         `json:"message"`
	Parts         int            `json:"parts"`
	SourceBytes   int64          `json:"source_bytes" render:"bytes"`
	Normalization string         `json:"normalization,omitempty"`
	DeliveryKind  string         `json:"delivery_kind,omitempty"`
	Reencoded     bool           `json:"reencoded"`
	SizeBytes     int64          `json:"size_bytes" render:"bytes"`
	Files         []string       `json:"files"`
	StoragePath   string         `json:"storage_path,omitempty"`
	DurationMs    int64          `json:"duration_ms"`
	Metrics       map[string]any `json:"metrics"`
}

// FetchCommand returns the fetch command: one transfer through the same
// pipeline as the bot, delivering into a local directory.
func FetchCommand() *cli.Command {
	flags := append(PipelineFlags(), ReadOnlyFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Usage:   "Directory that receives the delivered file or parts",
			Value:   ".",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Suppress the progress bar",
		},
	)
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch one URL locally through the relay pipeline",
		ArgsUsage: "<url>",
		Flags:     flags,
		Action:    fetchAction,
	}
}

func fetchAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("fetch requires exactly one <url> argument", exitFailed)
	}
	rawURL := c.Args().First()
	if _, err := types.ParseSourceURL(rawURL); err != nil {
		return cli.Exit(fmt.Sprintf("invalid url: %v", err), exitFailed)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid config:\n%v", err), exitFailed)
	}
	if err := checkTools(cfg); err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}

	outDir := c.String("out")
	for _, dir := range []string{cfg.WorkDir, outDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return cli.Exit(err.Error(), exitFailed)
		}
	}

	useTUI := c.Bool("tui")
	logger := newLogger(cfg)
	if useTUI {
		// JSON log lines would tear the live view.
		logger = logger.WithOutput(io.Discard)
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deliverer := &dirDeliverer{dir: outDir}
	st, err := buildStack(ctx, cfg, "local", deliverer, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	defer func() { _ = st.Close() }()

	id, err := uuid.NewV7()
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to generate transfer id: %v", err), exitFailed)
	}
	req := &types.TransferRequest{
		ID:         id.String(),
		SourceURL:  rawURL,
		ReceivedAt: time.Now(),
	}

	var res *pipeline.Result
	switch {
	case useTUI:
		res, err = tui.RunTransfer(rawURL, cancel, func(sink pipeline.ProgressSink) *pipeline.Result {
			return st.pipeline.Run(ctx, req, sink)
		})
		if err != nil {
			logger.Warn("tui failed", map[string]any{"error": err.Error()})
		}
	case c.Bool("quiet") || !isStderrTTY():
		res = st.pipeline.Run(ctx, req, nil)
	default:
		console := &consoleProgress{out: os.Stderr}
		res = st.pipeline.Run(ctx, req, console.update)
		console.close()
	}

	report := newFetchReport(res, deliverer.Files())
	report.Metrics = st.collector.Snapshot().Fields()
	if err := r.Render(report); err != nil {
		return err
	}

	switch {
	case res.Outcome.Status == types.OutcomeSuccess:
		return nil
	case ctx.Err() != nil:
		return cli.Exit("", exitCanceled)
	default:
		return cli.Exit("", exitFailed)
	}
}

func newFetchReport(res *pipeline.Result, files []string) *FetchReport {
	if files == nil {
		files = []string{}
	}
	sourceBytes := res.Plan.TotalSize
	if sourceBytes < 0 {
		sourceBytes = 0
	}
	return &FetchReport{
		TransferID:    res.Request.ID,
		SourceURL:     res.Request.SourceURL,
		Outcome:       string(res.Outcome.Status),
		FailedStage:   string(res.Outcome.FailedStage),
		Message:       res.Outcome.Message,
		Parts:         len(res.Plan.Ranges),
		SourceBytes:   sourceBytes,
		Normalization: string(res.Normalization),
		DeliveryKind:  string(res.Unit.Kind),
		Reencoded:     res.Unit.Reencoded,
		SizeBytes:     res.Unit.TotalBytes(),
		Files:         files,
		StoragePath:   res.StoragePath,
		DurationMs:    res.Duration().Milliseconds(),
	}
}

// dirDeliverer "uploads" by copying each item into a local directory.
type dirDeliverer struct {
	dir string

	mu    sync.Mutex
	files []string
}

// DeliverFile implements pipeline.Deliverer.
func (d *dirDeliverer) DeliverFile(_ context.Context, _ *types.TransferRequest, item pipeline.Item) error {
	dst := filepath.Join(d.dir, item.Name)
	if _, err := iox.CopyFile(item.Path, dst); err != nil {
		return err
	}
	d.mu.Lock()
	d.files = append(d.files, dst)
	d.mu.Unlock()
	return nil
}

// Files returns the written paths in delivery order.
func (d *dirDeliverer) Files() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.files...)
}

// consoleProgress draws a byte progress bar while fetching and prints one
// line per later state.
type consoleProgress struct {
	out io.Writer

	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	state types.TransferState
}

func (p *consoleProgress) update(pr pipeline.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pr.State == types.StateFetching {
		if p.bar == nil {
			p.bar = newByteBar(p.out, pr.TotalSize, pr.PartsTotal)
		}
		_ = p.bar.Set64(pr.BytesDone)
		p.state = pr.State
		return
	}
	if pr.State == p.state {
		return
	}
	p.finishBar()
	p.state = pr.State
	fmt.Fprintln(p.out, pr.Text())
}

func (p *consoleProgress) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishBar()
}

func (p *consoleProgress) finishBar() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	fmt.Fprintln(p.out)
	p.bar = nil
}

// newByteBar shows a spinner instead of a bar when the size is unknown.
func newByteBar(out io.Writer, total int64, parts int) *progressbar.ProgressBar {
	if total <= 0 {
		total = -1
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(fmt.Sprintf("downloading (%d %s)", parts, plural(parts, "part", "parts"))),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func isStderrTTY() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
