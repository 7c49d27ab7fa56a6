package fetcher

import (
	"context"
	"errors"

	"tablesnap/internal/logging"
	"tablesnap/internal/snapshot"

	"go.uber.org/zap"
)

// FallbackFetcher tries Primary and, when the request never reached the
// server, repeats it once through Fallback (typically the same fetcher
// configured with a proxy). HTTP error statuses are returned as-is.
type FallbackFetcher struct {
	Primary  Fetcher
	Fallback Fetcher
	logger   *logging.Logger
}

// NewFallbackFetcher creates a FallbackFetcher.
func NewFallbackFetcher(primary, fallback Fetcher, logger *logging.Logger) *FallbackFetcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FallbackFetcher{Primary: primary, Fallback: fallback, logger: logger}
}

func (f *FallbackFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	body, err := f.Primary.Fetch(ctx, url)
	if err == nil || f.Fallback == nil || !isTransportFailure(err) || ctx.Err() != nil {
		return body, err
	}

	f.logger.Warn("first attempt failed, retrying through proxy", zap.String("url", url), zap.Error(err))
	return f.Fallback.Fetch(ctx, url)
}

func isTransportFailure(err error) bool {
	var ne *snapshot.NetworkError
	return errors.As(err, &ne) && ne.StatusCode == 0
}
