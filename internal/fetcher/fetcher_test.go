package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"tablesnap/internal/snapshot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		Timeout:      2 * time.Second,
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}
}

func TestFetchReturnsBodyAndSendsHeaders(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("<table></table>"))
	}))
	defer srv.Close()

	body, err := NewHTTPFetcher(testOptions(), nil).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<table></table>", string(body))
	assert.Equal(t, DefaultUserAgent, gotUA)
}

func TestFetchNotFoundCarriesStatus(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(testOptions(), nil).Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var ne *snapshot.NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, http.StatusNotFound, ne.StatusCode)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "4xx must not be retried")
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := NewHTTPFetcher(testOptions(), nil).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestFetchGivesUpAfterRetryMax(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(testOptions(), nil).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, snapshot.IsNetwork(err))
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestBudgetCoversEveryAttempt(t *testing.T) {
	opts := Options{Timeout: 10 * time.Second, RetryMax: 2, RetryWaitMax: 3 * time.Second}
	assert.Equal(t, 36*time.Second, opts.Budget())

	opts.RetryMax = 0
	assert.Equal(t, 10*time.Second, opts.Budget())
}

func TestFetchRetriesTimedOutAttemptWithinBudget(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	opts := testOptions()
	opts.Timeout = 200 * time.Millisecond
	opts.RetryMax = 1

	ctx, cancel := context.WithTimeout(context.Background(), opts.Budget())
	defer cancel()

	body, err := NewHTTPFetcher(opts, nil).Fetch(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestFetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	opts := testOptions()
	opts.RetryMax = 0
	_, err := NewHTTPFetcher(opts, nil).Fetch(context.Background(), url)
	require.Error(t, err)

	var ne *snapshot.NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Zero(t, ne.StatusCode)
	assert.NotNil(t, ne.Err)
}

func TestFetchThroughProxy(t *testing.T) {
	var gotHost string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()

	opts := testOptions()
	opts.ProxyURL = proxy.URL

	body, err := NewHTTPFetcher(opts, nil).Fetch(context.Background(), "http://tables.example/cs2")
	require.NoError(t, err)
	assert.Equal(t, "via proxy", string(body))
	assert.Equal(t, "tables.example", gotHost)
}

type stubFetcher struct {
	body  []byte
	err   error
	calls int
}

func (s *stubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	s.calls++
	return s.body, s.err
}

func TestFallbackOnTransportFailure(t *testing.T) {
	primary := &stubFetcher{err: &snapshot.NetworkError{URL: "u", Err: errors.New("connection reset")}}
	fallback := &stubFetcher{body: []byte("ok")}

	body, err := NewFallbackFetcher(primary, fallback, nil).Fetch(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, 1, fallback.calls)
}

func TestFallbackSkipsHTTPStatusErrors(t *testing.T) {
	primary := &stubFetcher{err: &snapshot.NetworkError{URL: "u", StatusCode: 404}}
	fallback := &stubFetcher{body: []byte("ok")}

	_, err := NewFallbackFetcher(primary, fallback, nil).Fetch(context.Background(), "u")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Zero(t, fallback.calls)
}

func TestFallbackWithoutSecondFetcher(t *testing.T) {
	primary := &stubFetcher{err: &snapshot.NetworkError{URL: "u", Err: errors.New("dial tcp")}}

	_, err := NewFallbackFetcher(primary, nil, nil).Fetch(context.Background(), "u")
	assert.True(t, snapshot.IsNetwork(err))
}
