package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
)

const (
	ModeSubscribe   = "subscribe"
	ModeUnsubscribe = "unsubscribe"
	ModeDenied      = "denied"
)

// Client sends subscription requests to a WebSub hub.
type Client struct {
	httpClient   *http.Client
	hubURL       string
	callbackURL  string
	secret       string
	leaseSeconds int
	logger       *slog.Logger
}

type ClientConfig struct {
	HubURL       string
	CallbackURL  string
	Secret       string
	LeaseSeconds int
	Timeout      time.Duration
}

func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		hubURL:       cfg.HubURL,
		callbackURL:  cfg.CallbackURL,
		secret:       cfg.Secret,
		leaseSeconds: cfg.LeaseSeconds,
		logger:       logger,
	}
}

// Subscribe asks the hub to (re)subscribe the callback to sub's topic. The
// hub confirms asynchronously through the verification handshake.
func (c *Client) Subscribe(ctx context.Context, sub domain.ChannelSubscription) error {
	form := c.form(ModeSubscribe, sub)
	form.Set("hub.verify", "async")
	if secret := c.secretFor(sub); secret != "" {
		form.Set("hub.secret", secret)
	}
	if c.leaseSeconds > 0 {
		form.Set("hub.lease_seconds", strconv.Itoa(c.leaseSeconds))
	}
	return c.send(ctx, sub, form)
}

// Unsubscribe asks the hub to stop delivering sub's topic.
func (c *Client) Unsubscribe(ctx context.Context, sub domain.ChannelSubscription) error {
	form := c.form(ModeUnsubscribe, sub)
	form.Set("hub.verify", "async")
	return c.send(ctx, sub, form)
}

func (c *Client) form(mode string, sub domain.ChannelSubscription) url.Values {
	form := url.Values{}
	form.Set("hub.mode", mode)
	form.Set("hub.topic", sub.TopicURL)
	form.Set("hub.callback", c.callbackURL)
	return form
}

func (c *Client) secretFor(sub domain.ChannelSubscription) string {
	if sub.Secret != "" {
		return sub.Secret
	}
	return c.secret
}

func (c *Client) send(ctx context.Context, sub domain.ChannelSubscription, form url.Values) error {
	hubURL := sub.HubURL
	if hubURL == "" {
		hubURL = c.hubURL
	}
	mode := form.Get("hub.mode")
	op := "hub " + mode

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hubURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating hub request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ctx.Err()
		}
		return domain.Transient(op, 0, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	c.logger.Info("hub request sent",
		"mode", mode,
		"channel_id", sub.ChannelID,
		"status_code", resp.StatusCode,
		"response_time_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode == http.StatusAccepted, resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return &domain.TransientError{
			Op:         op,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	default:
		return fmt.Errorf("%w: %s: HTTP %d: %s", domain.ErrRenewalFailed, op, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
