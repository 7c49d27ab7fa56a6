package fetcher

import (
	"context"
	"fmt"
	"time"

	"tablesnap/internal/browser"
	"tablesnap/internal/logging"
	"tablesnap/internal/snapshot"

	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// RenderFetcher loads the page in a headless browser and returns the DOM
// after scripts have run. Used for sources that build their table client-side.
type RenderFetcher struct {
	opts   RenderOptions
	logger *logging.Logger
}

// RenderOptions configures a RenderFetcher.
type RenderOptions struct {
	Browser browser.Config
	Timeout time.Duration
	// WaitFor is a CSS selector that must match before the DOM is read.
	WaitFor string
}

// NewRenderFetcher creates a RenderFetcher.
func NewRenderFetcher(opts RenderOptions, logger *logging.Logger) *RenderFetcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	return &RenderFetcher{opts: opts, logger: logger}
}

// Fetch launches a browser, navigates to url and returns the rendered HTML.
func (f *RenderFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()

	b, err := browser.New(f.opts.Browser)
	if err != nil {
		return nil, &snapshot.NetworkError{URL: url, Err: err}
	}
	defer b.Close()

	page, err := b.NewPage()
	if err != nil {
		return nil, &snapshot.NetworkError{URL: url, Err: fmt.Errorf("failed to create page: %w", err)}
	}
	defer page.Close()

	p := page.Context(ctx).Timeout(f.opts.Timeout)

	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: DefaultUserAgent}); err != nil {
		f.logger.Warn("keeping browser user agent", zap.String("url", url), zap.Error(err))
	}

	if err := p.Navigate(url); err != nil {
		return nil, &snapshot.NetworkError{URL: url, Err: fmt.Errorf("failed to navigate: %w", err)}
	}
	if err := p.WaitLoad(); err != nil {
		return nil, &snapshot.NetworkError{URL: url, Err: fmt.Errorf("failed to wait for page load: %w", err)}
	}

	// Tables filled by XHR appear only after the network settles.
	wait := p.WaitRequestIdle(
		500*time.Millisecond, nil, nil,
		[]proto.NetworkResourceType{proto.NetworkResourceTypeImage, proto.NetworkResourceTypeMedia},
	)
	wait()

	if f.opts.WaitFor != "" {
		if _, err := p.Element(f.opts.WaitFor); err != nil {
			return nil, &snapshot.NetworkError{URL: url, Err: fmt.Errorf("wait for %q: %w", f.opts.WaitFor, err)}
		}
	}

	html, err := p.HTML()
	if err != nil {
		return nil, &snapshot.NetworkError{URL: url, Err: fmt.Errorf("failed to read page HTML: %w", err)}
	}

	f.logger.Debug("page rendered",
		zap.String("url", url),
		zap.String("proxy", b.ProxyURL()),
		zap.Int("bytes", len(html)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return []byte(html), nil
}
