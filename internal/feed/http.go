package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("rate limited by feed")

// feedResponse is the body of GET {base}/feeds/{ref}.
type feedResponse struct {
	Price     json.Number `json:"price"`
	Decimals  *int32      `json:"decimals"`
	UpdatedAt int64       `json:"updated_at"`
}

// HTTPProvider polls a remote feed service. Every call is bounded by the client timeout.
type HTTPProvider struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a new HTTPProvider.
func NewHTTPProvider(baseURL string, ratePerSec int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPProvider {
	transport := &http.Transport{
		MaxIdleConns:    100,
		MaxConnsPerHost: 10,
		IdleConnTimeout: 90 * time.Second,
	}

	return &HTTPProvider{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// LatestValue fetches the current reading for ref.
func (p *HTTPProvider) LatestValue(ctx context.Context, ref string) (Reading, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Reading{}, fmt.Errorf("rate limiter: %w", err)
	}

	u := fmt.Sprintf("%s/feeds/%s", p.baseURL, url.PathEscape(ref))

	var lastErr error
	for attempt := 0; attempt <= p.retryCount; attempt++ {
		if attempt > 0 {
			delay := p.retryDelay * time.Duration(1<<(attempt-1))
			p.logger.Debug("retrying feed request", zap.String("ref", ref), zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return Reading{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return Reading{}, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return Reading{}, fmt.Errorf("%s: %w", ref, ErrFeedNotFound)
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		case resp.StatusCode != http.StatusOK:
			return Reading{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}

		var fr feedResponse
		if err := json.Unmarshal(body, &fr); err != nil {
			return Reading{}, fmt.Errorf("decoding response: %w", err)
		}
		price, ok := new(big.Int).SetString(fr.Price.String(), 10)
		if !ok {
			return Reading{}, fmt.Errorf("price %q is not an integer", fr.Price)
		}

		r := Reading{Price: price, Decimals: -1, UpdatedAt: time.Unix(fr.UpdatedAt, 0)}
		if fr.Decimals != nil {
			r.Decimals = *fr.Decimals
		}
		return r, nil
	}

	return Reading{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}
