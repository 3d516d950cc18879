// Package client is the HTTP client for the optionvault API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/optionvault/internal/apperr"
)

var ErrRateLimited = errors.New("rate limited by API")

// APIError is a non-2xx response. It unwraps to the matching apperr sentinel
// so callers can use errors.Is across the wire.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Retryable bool
}

// Error formats the status and code.
func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the code back to its sentinel.
func (e *APIError) Unwrap() error {
	if s := apperr.FromCode(e.Code); s != nil {
		return s
	}
	return nil
}

// HTTPClient talks to the service REST API.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	caller     string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewClient sends every request as caller (the X-Caller header).
func NewClient(baseURL, caller string, ratePerSec int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		caller:     caller,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Do sends one request and decodes a JSON response into out (which may be nil).
// Rate limiting and retryable rejections are retried for every method; network
// failures and 5xx responses only for GET.
func (c *HTTPClient) Do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}
	u := c.baseURL + path
	c.logger.Debug("requesting", zap.String("method", method), zap.String("url", u))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.caller != "" {
			req.Header.Set("X-Caller", c.caller)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if method == http.MethodGet {
				continue
			}
			return fmt.Errorf("executing request: %w", err)
		}

		// Read body before closing for error messages
		data, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = ErrRateLimited
			continue
		}

		if resp.StatusCode >= 300 {
			apiErr := decodeError(resp.StatusCode, data)
			if apiErr.Retryable || (resp.StatusCode >= 500 && method == http.MethodGet) {
				lastErr = apiErr
				continue
			}
			return apiErr
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func decodeError(status int, data []byte) *APIError {
	var resp struct {
		Error struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			Retryable bool   `json:"retryable"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || resp.Error.Code == "" {
		return &APIError{Status: status, Code: "HTTP_" + fmt.Sprint(status), Message: strings.TrimSpace(string(data))}
	}
	return &APIError{Status: status, Code: resp.Error.Code, Message: resp.Error.Message, Retryable: resp.Error.Retryable}
}

// Object is an untyped JSON object, used for responses the CLI only prints.
type Object = map[string]any

func (c *HTTPClient) get(ctx context.Context, path string) (Object, error) {
	var out Object
	err := c.Do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *HTTPClient) send(ctx context.Context, method, path string, body any) (Object, error) {
	var out Object
	err := c.Do(ctx, method, path, body, &out)
	return out, err
}

// Health fetches the service health.
func (c *HTTPClient) Health(ctx context.Context) (Object, error) {
	return c.get(ctx, "/v1/health")
}

// Price fetches one asset's price data.
func (c *HTTPClient) Price(ctx context.Context, symbol string) (Object, error) {
	return c.get(ctx, "/v1/prices/"+url.PathEscape(symbol))
}

// Prices fetches a batch of prices.
func (c *HTTPClient) Prices(ctx context.Context, symbols []string) (Object, error) {
	return c.get(ctx, "/v1/prices?symbols="+url.QueryEscape(strings.Join(symbols, ",")))
}

// RiskReport fetches the risk report.
func (c *HTTPClient) RiskReport(ctx context.Context) (Object, error) {
	return c.get(ctx, "/v1/risk/report")
}

// AssetInput registers an asset.
type AssetInput struct {
	Symbol          string `json:"symbol"`
	Class           string `json:"class"`
	MinSources      int    `json:"min_sources,omitempty"`
	MaxDeviationBps int64  `json:"max_deviation_bps,omitempty"`
	Continuous      bool   `json:"continuous,omitempty"`
}

// AddAsset registers an asset.
func (c *HTTPClient) AddAsset(ctx context.Context, in AssetInput) (Object, error) {
	return c.send(ctx, http.MethodPost, "/v1/admin/assets", in)
}

// SourceInput registers a price source.
type SourceInput struct {
	Provider     string `json:"provider"`
	Ref          string `json:"ref"`
	WeightBps    int64  `json:"weight_bps"`
	StalenessSec int64  `json:"staleness_sec"`
	Decimals     int32  `json:"decimals"`
	Description  string `json:"description,omitempty"`
}

// AddSource attaches a price source.
func (c *HTTPClient) AddSource(ctx context.Context, symbol string, in SourceInput) (Object, error) {
	return c.send(ctx, http.MethodPost, "/v1/admin/assets/"+url.PathEscape(symbol)+"/sources", in)
}

// SetEmergencyPrice sets an override price.
func (c *HTTPClient) SetEmergencyPrice(ctx context.Context, symbol string, price decimal.Decimal) (Object, error) {
	return c.send(ctx, http.MethodPut, "/v1/admin/emergency/"+url.PathEscape(symbol), map[string]any{"price": price})
}

// ClearEmergencyPrice removes an override price.
func (c *HTTPClient) ClearEmergencyPrice(ctx context.Context, symbol string) (Object, error) {
	return c.send(ctx, http.MethodDelete, "/v1/admin/emergency/"+url.PathEscape(symbol), nil)
}

// Halt halts trading in an asset.
func (c *HTTPClient) Halt(ctx context.Context, symbol, reason string) (Object, error) {
	return c.send(ctx, http.MethodPost, "/v1/admin/halts/"+url.PathEscape(symbol), map[string]any{"reason": reason})
}

// ClearHalt resumes trading in an asset.
func (c *HTTPClient) ClearHalt(ctx context.Context, symbol string) (Object, error) {
	return c.send(ctx, http.MethodDelete, "/v1/admin/halts/"+url.PathEscape(symbol), nil)
}

// TokenInput is a collateral token policy.
type TokenInput struct {
	Accepted                bool            `json:"accepted"`
	CollateralFactorBps     int64           `json:"collateral_factor_bps"`
	LiquidationThresholdBps int64           `json:"liquidation_threshold_bps"`
	MaxExposure             decimal.Decimal `json:"max_exposure"`
	Stable                  bool            `json:"stable"`
}

// SetToken configures a collateral token.
func (c *HTTPClient) SetToken(ctx context.Context, symbol string, in TokenInput) (Object, error) {
	return c.send(ctx, http.MethodPut, "/v1/admin/tokens/"+url.PathEscape(symbol), in)
}

// Credit deposits funds into an account.
func (c *HTTPClient) Credit(ctx context.Context, account, asset string, amount decimal.Decimal) (Object, error) {
	return c.send(ctx, http.MethodPost, "/v1/admin/funds/credit", map[string]any{
		"account": account, "asset": asset, "amount": amount,
	})
}

// Reload re-reads the registry file on the server.
func (c *HTTPClient) Reload(ctx context.Context) (Object, error) {
	return c.send(ctx, http.MethodPost, "/v1/admin/reload", nil)
}

// Option fetches one option.
func (c *HTTPClient) Option(ctx context.Context, id uint64) (Object, error) {
	return c.get(ctx, fmt.Sprintf("/v1/options/%d", id))
}

// AccountOptions lists the option ids held or written by account.
func (c *HTTPClient) AccountOptions(ctx context.Context, account string) ([]uint64, error) {
	var out struct {
		IDs []uint64 `json:"ids"`
	}
	err := c.Do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(account)+"/options", nil, &out)
	return out.IDs, err
}

// Exercise exercises an option as the configured caller.
func (c *HTTPClient) Exercise(ctx context.Context, id uint64) (Object, error) {
	return c.send(ctx, http.MethodPost, fmt.Sprintf("/v1/options/%d/exercise", id), nil)
}

// Expire settles options past expiry.
func (c *HTTPClient) Expire(ctx context.Context, ids []uint64) (Object, error) {
	return c.send(ctx, http.MethodPost, "/v1/options/expire", map[string]any{"ids": ids})
}

// Quote prices an option spec.
func (c *HTTPClient) Quote(ctx context.Context, spec any) (Object, error) {
	return c.send(ctx, http.MethodPost, "/v1/options/quote", map[string]any{"spec": spec})
}

// Fill submits a signed order; sigHex is the hex-encoded maker signature.
func (c *HTTPClient) Fill(ctx context.Context, ord any, sigHex string) (Object, error) {
	return c.send(ctx, http.MethodPost, "/v1/orders/fill", map[string]any{"order": ord, "signature": sigHex})
}
