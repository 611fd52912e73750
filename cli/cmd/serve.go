package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ferry/cli/config"
	"github.com/pithecene-io/ferry/dispatch"
	"github.com/pithecene-io/ferry/telegram"
)

// ServeCommand returns the serve command, which runs the bot until SIGINT or
// SIGTERM.
func ServeCommand() *cli.Command {
	flags := append(PipelineFlags(),
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Telegram bot token",
			EnvVars: []string{"FERRY_TELEGRAM_TOKEN"},
		},
		&cli.StringFlag{Name: "api-url", Usage: "Bot API base URL"},
		&cli.StringFlag{Name: "busy-policy", Usage: "Links arriving during a transfer: queue or reject"},
		&cli.BoolFlag{Name: "process-backlog", Usage: "Handle messages sent while the bot was offline"},
	)
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the relay bot",
		Flags:  flags,
		Action: serveAction,
	}
}

func applyServeFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("token") {
		cfg.Telegram.Token = c.String("token")
	}
	if c.IsSet("api-url") {
		cfg.Telegram.APIURL = c.String("api-url")
	}
	if c.IsSet("busy-policy") {
		cfg.Telegram.BusyPolicy = c.String("busy-policy")
	}
	if c.Bool("process-backlog") {
		cfg.Telegram.SkipBacklog = false
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	applyServeFlags(c, &cfg)
	if err := cfg.ValidateServe(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid config:\n%v", err), 1)
	}
	if err := checkTools(cfg); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return cli.Exit(fmt.Sprintf("work_dir: %v", err), 1)
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		APIURL:         cfg.Telegram.APIURL,
		RequestTimeout: cfg.Telegram.RequestTimeout.Duration,
		UploadTimeout:  cfg.Telegram.UploadTimeout.Duration,
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	me, err := client.GetMe(ctx)
	if err != nil {
		return cli.Exit(fmt.Sprintf("telegram getMe failed: %v", err), 1)
	}
	logger.Info("connected to telegram", map[string]any{"bot": me.Username, "bot_id": me.ID})

	st, err := buildStack(ctx, cfg, "telegram", dispatch.TransportDeliverer{Transport: client}, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed to close resources", map[string]any{"error": err.Error()})
		}
	}()

	policy, err := dispatch.ParseBusyPolicy(cfg.Telegram.BusyPolicy)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	d, err := dispatch.New(dispatch.Config{
		PollInterval:     cfg.Telegram.PollInterval.Duration,
		PollTimeout:      cfg.Telegram.PollTimeout.Duration,
		ProgressInterval: cfg.Telegram.ProgressInterval.Duration,
		SkipBacklog:      cfg.Telegram.SkipBacklog,
		BusyPolicy:       policy,
	}, client, st.pipeline, dispatch.Options{
		Logger:    logger.Named("dispatch"),
		Collector: st.collector,
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	runErr := d.Run(ctx)
	logger.Info("metrics", st.collector.Snapshot().Fields())
	if runErr != nil {
		return cli.Exit(fmt.Sprintf("dispatcher stopped: %v", runErr), 1)
	}
	return nil
}
