package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"time"

	"tablesnap/internal/logging"
	"tablesnap/internal/snapshot"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds a single attempt.
	DefaultTimeout = 30 * time.Second

	// MaxBodySize limits page size to 10MB to prevent memory exhaustion
	MaxBodySize = 10 * 1024 * 1024

	// DefaultUserAgent is a desktop browser identity; some providers reject
	// obvious non-browser clients.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Fetcher retrieves the raw markup of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Options configures an HTTPFetcher.
type Options struct {
	Timeout      time.Duration // per attempt
	RetryMax     int           // retries after the first attempt
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Headers      map[string]string
	ProxyURL     string // http(s) or socks5 proxy; empty uses the environment
}

// DefaultOptions returns the settings used by scheduled runs.
func DefaultOptions() Options {
	return Options{
		Timeout:      DefaultTimeout,
		RetryMax:     2,
		RetryWaitMin: 1 * time.Second,
		RetryWaitMax: 10 * time.Second,
	}
}

// Budget returns the overall deadline that lets every attempt run to its
// own Timeout, including the longest backoff between attempts. Callers
// bounding Fetch with a context should use at least this much.
func (o Options) Budget() time.Duration {
	retries := time.Duration(max(o.RetryMax, 0))
	return o.Timeout*(retries+1) + o.RetryWaitMax*retries
}

// HTTPFetcher performs a plain GET with bounded retry and exponential backoff.
type HTTPFetcher struct {
	client  *retryablehttp.Client
	headers map[string]string
	logger  *logging.Logger
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(opts Options, logger *logging.Logger) *HTTPFetcher {
	if logger == nil {
		logger = logging.NewNop()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	client.RetryWaitMin = opts.RetryWaitMin
	client.RetryWaitMax = opts.RetryWaitMax
	client.HTTPClient.Timeout = opts.Timeout
	if opts.ProxyURL != "" {
		if proxy, err := neturl.Parse(opts.ProxyURL); err == nil {
			if t, ok := client.HTTPClient.Transport.(*http.Transport); ok {
				t.Proxy = http.ProxyURL(proxy)
			}
		} else {
			logger.Warn("ignoring invalid proxy URL", zap.Error(err))
		}
	}
	client.Logger = leveledLogger{logger.Sugar()}
	// Hand the final response back so non-2xx statuses keep their code.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	headers := map[string]string{
		"User-Agent":      DefaultUserAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &HTTPFetcher{client: client, headers: headers, logger: logger}
}

// Fetch retrieves the page body. Non-2xx responses and transport failures
// are returned as *snapshot.NetworkError.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &snapshot.NetworkError{URL: url, Err: fmt.Errorf("create request: %w", err)}
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, &snapshot.NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &snapshot.NetworkError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return nil, &snapshot.NetworkError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(body) > MaxBodySize {
		return nil, &snapshot.NetworkError{URL: url, Err: fmt.Errorf("body exceeds maximum size of %d bytes", MaxBodySize)}
	}

	f.logger.Debug("page fetched",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return body, nil
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
