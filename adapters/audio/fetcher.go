package audio

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lingtin/lingtin/server/domain/repositories"
)

const (
	defaultFetchTimeout   = 60 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	maxRetryJitter        = 200 * time.Millisecond
)

// FetcherConfig holds configuration for HTTPFetcher.
// MaxRetries of 0 disables retrying; the other fields fall back to defaults when zero.
type FetcherConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Timeout    time.Duration
}

// HTTPFetcher downloads audio over plain HTTP(S) GET
type HTTPFetcher struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *zap.Logger
}

var _ repositories.AudioFetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a new audio fetcher
func NewHTTPFetcher(config FetcherConfig, logger *zap.Logger) *HTTPFetcher {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	baseDelay := config.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultRetryBaseDelay
	}
	maxDelay := config.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	maxRetries := config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &HTTPFetcher{
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		logger:     logger,
	}
}

// Fetch implements repositories.AudioFetcher.
// Network errors and 5xx responses are retried with exponential backoff; 4xx fails at once.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		data, retryable, err := f.fetchOnce(ctx, url)
		if err == nil {
			if attempt > 0 {
				f.logger.Info("Audio download succeeded after retry",
					zap.Int("attempts", attempt+1),
					zap.String("url", shortURL(url)))
			}
			return data, nil
		}
		lastErr = err
		if !retryable || attempt == f.maxRetries {
			break
		}

		delay := f.backoff(attempt)
		f.logger.Warn("Audio download failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("maxAttempts", f.maxRetries+1),
			zap.Duration("delay", delay),
			zap.String("url", shortURL(url)),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("download cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode >= 500, fmt.Errorf("download failed: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read audio body: %w", err)
	}
	return data, false, nil
}

func (f *HTTPFetcher) backoff(attempt int) time.Duration {
	delay := f.baseDelay << attempt
	if delay > f.maxDelay || delay <= 0 {
		delay = f.maxDelay
	}
	return delay + time.Duration(rand.Int63n(int64(maxRetryJitter)))
}

func shortURL(url string) string {
	if len(url) > 80 {
		return url[:80] + "..."
	}
	return url
}
