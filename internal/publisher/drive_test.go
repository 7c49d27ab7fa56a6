package publisher

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"tablesnap/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestDriveUploadsMultipart(t *testing.T) {
	var uploads int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploads++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/upload/drive/v3/files", r.URL.Path)
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
		assert.Equal(t, "Bearer drive-token", r.Header.Get("Authorization"))

		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		assert.Equal(t, "multipart/related", mediaType)

		mr := multipart.NewReader(r.Body, params["boundary"])

		meta, err := mr.NextPart()
		require.NoError(t, err)
		var m struct {
			Name    string   `json:"name"`
			Parents []string `json:"parents"`
		}
		require.NoError(t, json.NewDecoder(meta).Decode(&m))
		assert.Equal(t, "cs2_2024-03-07.csv", m.Name)
		assert.Equal(t, []string{"folder-1"}, m.Parents)

		media, err := mr.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "text/csv", media.Header.Get("Content-Type"))
		data, err := io.ReadAll(media)
		require.NoError(t, err)
		assert.Equal(t, "Player\ns1mple\n", string(data))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"file-9","name":"cs2_2024-03-07.csv","webViewLink":"https://drive.google.com/file/d/file-9/view"}`))
	}))
	defer srv.Close()

	local := filepath.Join(t.TempDir(), "cs2_2024-03-07.csv")
	require.NoError(t, os.WriteFile(local, []byte("Player\ns1mple\n"), 0o644))

	sink := NewDriveSink(DriveOptions{
		BaseURL:     srv.URL,
		FolderID:    "folder-1",
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "drive-token"}),
	}, logging.NewNop())

	receipt, err := sink.Publish(context.Background(), local, Target{})
	require.NoError(t, err)
	assert.Equal(t, "file-9", receipt.Revision)
	assert.Equal(t, "https://drive.google.com/file/d/file-9/view", receipt.Location)

	// Uploads are not deduplicated.
	_, err = sink.Publish(context.Background(), local, Target{})
	require.NoError(t, err)
	assert.Equal(t, 2, uploads)
}

func TestDriveQuotaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"User rate limit exceeded"}}`))
	}))
	defer srv.Close()

	local := filepath.Join(t.TempDir(), "snap.csv")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))

	sink := NewDriveSink(DriveOptions{
		BaseURL:     srv.URL,
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t"}),
	}, logging.NewNop())

	_, err := sink.Publish(context.Background(), local, Target{})
	require.Error(t, err)

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindQuotaOrRate, pe.Kind)
	assert.Equal(t, 7, int(pe.RetryAfter.Seconds()))
}

func TestDriveWithoutCredentials(t *testing.T) {
	local := filepath.Join(t.TempDir(), "snap.csv")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))

	sink := NewDriveSink(DriveOptions{}, logging.NewNop())
	_, err := sink.Publish(context.Background(), local, Target{})

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindConfig, kind)
}

func TestServiceAccountTokenSourceRejectsBadFile(t *testing.T) {
	_, err := ServiceAccountTokenSource(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	_, err = ServiceAccountTokenSource(context.Background(), bad)
	assert.Error(t, err)
}
