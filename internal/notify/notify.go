package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Notifier is the interface for sending administrator alerts.
type Notifier interface {
	SendBreakerTripped(ctx context.Context, assets []string) error
	SendEmergencyPrice(ctx context.Context, asset string, price decimal.Decimal, actor string) error
	SendEmergencyCleared(ctx context.Context, asset, actor string) error
	SendHalt(ctx context.Context, asset, reason string) error
	SendHaltCleared(ctx context.Context, asset, actor string) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// SendBreakerTripped sends an urgent alert listing the deviating assets.
func (c *Client) SendBreakerTripped(ctx context.Context, assets []string) error {
	if !c.config.Enabled {
		return nil
	}
	return c.send(ctx, "Circuit breaker tripped", FormatBreakerMessage(assets), c.config.tags("rotating_light"), pick(c.config.BreakerPriority, "urgent"))
}

// SendEmergencyPrice sends a high priority alert for a price override.
func (c *Client) SendEmergencyPrice(ctx context.Context, asset string, price decimal.Decimal, actor string) error {
	if !c.config.Enabled {
		return nil
	}
	title := fmt.Sprintf("Emergency price set: %s", asset)
	return c.send(ctx, title, FormatOverrideMessage(asset, price.String(), actor), c.config.tags("warning"), pick(c.config.AlertPriority, "high"))
}

// SendEmergencyCleared announces that aggregation resumed for an asset.
func (c *Client) SendEmergencyCleared(ctx context.Context, asset, actor string) error {
	if !c.config.Enabled {
		return nil
	}
	title := fmt.Sprintf("Emergency price cleared: %s", asset)
	return c.send(ctx, title, FormatOverrideMessage(asset, "aggregated", actor), c.config.tags("white_check_mark"), pick(c.config.Priority, "default"))
}

// SendHalt announces that fills and exercises stopped for an asset.
func (c *Client) SendHalt(ctx context.Context, asset, reason string) error {
	if !c.config.Enabled {
		return nil
	}
	title := fmt.Sprintf("Asset halted: %s", asset)
	return c.send(ctx, title, FormatHaltMessage(asset, reason), c.config.tags("x"), pick(c.config.AlertPriority, "high"))
}

// SendHaltCleared announces that trading resumed for an asset.
func (c *Client) SendHaltCleared(ctx context.Context, asset, actor string) error {
	if !c.config.Enabled {
		return nil
	}
	title := fmt.Sprintf("Halt cleared: %s", asset)
	return c.send(ctx, title, FormatHaltMessage(asset, "cleared by "+actor), c.config.tags("white_check_mark"), pick(c.config.Priority, "default"))
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

func (n *NoopNotifier) SendBreakerTripped(context.Context, []string) error { return nil }

func (n *NoopNotifier) SendEmergencyPrice(context.Context, string, decimal.Decimal, string) error {
	return nil
}

func (n *NoopNotifier) SendEmergencyCleared(context.Context, string, string) error { return nil }

func (n *NoopNotifier) SendHalt(context.Context, string, string) error { return nil }

func (n *NoopNotifier) SendHaltCleared(context.Context, string, string) error { return nil }

// New creates the appropriate notifier based on config.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
