// Package telegram is a minimal Telegram Bot API client covering what the
// relay needs: long polling, one editable status message and file uploads.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/ferry/iox"
	"github.com/pithecene-io/ferry/types"
)

// Defaults for Config.
const (
	DefaultAPIURL         = "https://api.telegram.org"
	DefaultRequestTimeout = 30 * time.Second
	DefaultUploadTimeout  = 10 * time.Minute
	// pollGrace is added to the long-poll wait for the HTTP deadline.
	pollGrace = 10 * time.Second
	// maxUpdates is the getUpdates page size.
	maxUpdates = 100
)

// Config configures a Client.
type Config struct {
	// Token is the bot token (required).
	Token string
	// APIURL is the Bot API base URL (default https://api.telegram.org).
	APIURL string
	// RequestTimeout bounds every non-upload call.
	RequestTimeout time.Duration
	// UploadTimeout bounds sendVideo and sendDocument.
	UploadTimeout time.Duration
	// HTTPClient overrides the HTTP client (tests).
	HTTPClient *http.Client
}

// Client talks to the Bot API.
type Client struct {
	http           *http.Client
	baseURL        string
	token          string
	requestTimeout time.Duration
	uploadTimeout  time.Duration
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		// Deadlines come from per-call contexts.
		client = &http.Client{}
	}
	return &Client{
		http:           client,
		baseURL:        strings.TrimRight(cfg.APIURL, "/"),
		token:          cfg.Token,
		requestTimeout: cfg.RequestTimeout,
		uploadTimeout:  cfg.UploadTimeout,
	}, nil
}

// RequestError is a failed Bot API call.
type RequestError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
	// RetryAfter is the flood-control wait the server asked for, if any.
	RetryAfter time.Duration
}

func (e *RequestError) Error() string {
	desc := strings.TrimSpace(e.Description)
	if desc == "" {
		desc = "request failed"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("telegram %s: http %d: %s", e.Method, e.StatusCode, desc)
	}
	return fmt.Sprintf("telegram %s: %s", e.Method, desc)
}

// IsNotModified reports whether err is the "message is not modified" answer
// to an edit that would not change the text.
func IsNotModified(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && strings.Contains(strings.ToLower(reqErr.Description), "message is not modified")
}

// User is a Telegram user or bot.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// Chat is the conversation a message belongs to.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// Message is the subset of a Telegram message the relay reads.
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      *Chat  `json:"chat,omitempty"`
	From      *User  `json:"from,omitempty"`
	Text      string `json:"text,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

// Update is one getUpdates entry.
type Update struct {
	UpdateID      int64    `json:"update_id"`
	Message       *Message `json:"message,omitempty"`
	EditedMessage *Message `json:"edited_message,omitempty"`
	ChannelPost   *Message `json:"channel_post,omitempty"`
}

// Event converts the update into a transport-neutral inbound event. Updates
// that carry no new message get a zero SenderID.
func (u Update) Event() types.InboundEvent {
	ev := types.InboundEvent{Offset: u.UpdateID}
	msg := u.Message
	if msg == nil {
		msg = u.ChannelPost
	}
	if msg == nil || msg.Chat == nil {
		return ev
	}
	ev.SenderID = msg.Chat.ID
	ev.Text = msg.Text
	if ev.Text == "" {
		ev.Text = msg.Caption
	}
	return ev
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// GetMe returns the bot's own user. Used to check the token at startup.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	var me User
	err := c.call(ctx, "getMe", nil, c.requestTimeout, &me)
	return me, err
}

// GetUpdates long-polls for updates starting at offset. An offset of -1
// returns only the newest pending update.
func (c *Client) GetUpdates(ctx context.Context, offset int64, limit int, wait time.Duration) ([]Update, error) {
	secs := int(wait / time.Second)
	if secs < 0 {
		secs = 0
	}
	params := map[string]any{"timeout": secs, "limit": limit}
	if offset != 0 {
		params["offset"] = offset
	}
	var updates []Update
	err := c.call(ctx, "getUpdates", params, wait+pollGrace, &updates)
	return updates, err
}

// PollEvents returns pending events after the given offset. A negative
// offset asks for only the newest pending event without waiting.
func (c *Client) PollEvents(ctx context.Context, after int64, wait time.Duration) ([]types.InboundEvent, error) {
	offset, limit := after, maxUpdates
	if after < 0 {
		offset, limit, wait = -1, 1, 0
	}
	updates, err := c.GetUpdates(ctx, offset, limit, wait)
	if err != nil {
		return nil, err
	}
	events := make([]types.InboundEvent, 0, len(updates))
	for _, u := range updates {
		events = append(events, u.Event())
	}
	return events, nil
}

// SendMessage sends plain text and returns the new message's handle.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (types.MessageHandle, error) {
	var msg Message
	err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}, c.requestTimeout, &msg)
	if err != nil {
		return 0, err
	}
	return types.MessageHandle(msg.MessageID), nil
}

// EditMessage replaces the text of a previously sent message. Editing to the
// same text is not an error.
func (c *Client) EditMessage(ctx context.Context, chatID int64, handle types.MessageHandle, text string) error {
	err := c.call(ctx, "editMessageText", map[string]any{
		"chat_id":                  chatID,
		"message_id":               int64(handle),
		"text":                     text,
		"disable_web_page_preview": true,
	}, c.requestTimeout, nil)
	if IsNotModified(err) {
		return nil
	}
	return err
}

// SendVideo uploads a streamable video.
func (c *Client) SendVideo(ctx context.Context, chatID int64, path, caption string) error {
	return c.upload(ctx, "sendVideo", "video", chatID, path, caption, map[string]string{
		"supports_streaming": "true",
	})
}

// SendDocument uploads a file as a generic document.
func (c *Client) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	return c.upload(ctx, "sendDocument", "document", chatID, path, caption, nil)
}

func (c *Client) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// call posts a JSON request and decodes the result into out (if non-nil).
func (c *Client) call(ctx context.Context, method string, params map[string]any, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("telegram %s: encode request: %w", method, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(method), body)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method, out)
}

// upload streams a file as multipart/form-data without buffering it.
func (c *Client) upload(ctx context.Context, method, field string, chatID int64, path, caption string, extra map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer iox.DiscardClose(f)

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeForm(mw, f, field, chatID, path, caption, extra)
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(method), pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	err = c.do(req, method, nil)
	// Unblocks the writer if the server answered before reading the body.
	_ = pr.CloseWithError(io.ErrClosedPipe)
	return err
}

func writeForm(mw *multipart.Writer, src io.Reader, field string, chatID int64, path, caption string, extra map[string]string) error {
	if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return err
		}
	}
	for k, v := range extra {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, src)
	return err
}

func (c *Client) do(req *http.Request, method string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer iox.DiscardClose(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram %s: read response: %w", method, err)
	}

	var parsed apiResponse
	decodeErr := json.Unmarshal(raw, &parsed)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || decodeErr != nil || !parsed.OK {
		reqErr := &RequestError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			ErrorCode:   parsed.ErrorCode,
			Description: parsed.Description,
		}
		if reqErr.Description == "" {
			reqErr.Description = strings.TrimSpace(string(raw))
		}
		if parsed.Parameters != nil && parsed.Parameters.RetryAfter > 0 {
			reqErr.RetryAfter = time.Duration(parsed.Parameters.RetryAfter) * time.Second
		}
		return reqErr
	}

	if out == nil || len(parsed.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(parsed.Result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}
