// Package redis publishes transfer completion events to Redis.
//
// Two delivery modes exist. ModePublish fans events out on a pub/sub channel
// and loses them when nobody is subscribed. ModeStream appends them to a
// stream that consumers read at their own pace.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/ferry/adapter"
)

// DefaultChannel is the default pub/sub channel and stream key.
const DefaultChannel = "ferry:transfer_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Mode selects the Redis primitive events are written with.
type Mode string

const (
	// ModePublish sends events with PUBLISH (default).
	ModePublish Mode = "publish"
	// ModeStream appends events with XADD.
	ModeStream Mode = "stream"
)

// ParseMode validates a mode name. Empty means ModePublish.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModePublish:
		return ModePublish, nil
	case ModeStream:
		return ModeStream, nil
	default:
		return "", fmt.Errorf("unknown redis mode %q (must be publish or stream)", s)
	}
}

// Stream entry fields.
const (
	FieldEvent      = "event"
	FieldTransferID = "transfer_id"
	FieldOutcome    = "outcome"
	FieldEncoding   = "encoding"
)

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel or stream key (default: ferry:transfer_completed).
	Channel string
	// Mode selects pub/sub or stream delivery (default publish).
	Mode Mode
	// MaxLen caps the stream near this many entries. Zero keeps all.
	MaxLen int64
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
	// Backoff is the first retry delay (default adapter.DefaultBackoff).
	Backoff time.Duration
	// Encoding is the payload format (default json).
	Encoding adapter.Encoding
}

// Adapter writes transfer completion events to Redis.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.MaxLen < 0 {
		return nil, fmt.Errorf("max length must be >= 0, got %d", cfg.MaxLen)
	}
	if cfg.Mode, err = ParseMode(string(cfg.Mode)); err != nil {
		return nil, fmt.Errorf("redis adapter: %w", err)
	}
	if cfg.Encoding, err = adapter.ParseEncoding(string(cfg.Encoding)); err != nil {
		return nil, fmt.Errorf("redis adapter: %w", err)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish writes the encoded event, retrying connection failures.
func (a *Adapter) Publish(ctx context.Context, event *adapter.TransferCompletedEvent) error {
	body, err := a.config.Encoding.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	return adapter.Retry(ctx, "redis", a.config.Retries, a.config.Backoff, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		if a.config.Mode == ModeStream {
			return a.append(ctx, event, body)
		}
		return a.client.Publish(ctx, a.config.Channel, body).Err()
	})
}

// append adds one stream entry. The outcome fields sit beside the payload so
// consumers can filter without decoding it.
func (a *Adapter) append(ctx context.Context, event *adapter.TransferCompletedEvent, body []byte) error {
	args := &goredis.XAddArgs{
		Stream: a.config.Channel,
		Values: []any{
			FieldTransferID, event.TransferID,
			FieldOutcome, event.Outcome,
			FieldEncoding, string(a.config.Encoding),
			FieldEvent, body,
		},
	}
	if a.config.MaxLen > 0 {
		// "~" lets Redis trim whole macro nodes, so the stream may briefly
		// hold a few entries over MaxLen.
		args.MaxLen = a.config.MaxLen
		args.Approx = true
	}
	return a.client.XAdd(ctx, args).Err()
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
