package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tablesnap/internal/logging"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	// DefaultDriveAPIURL is the Google APIs endpoint.
	DefaultDriveAPIURL = "https://www.googleapis.com"
	// DriveFileScope limits the service account to files it created.
	DriveFileScope = "https://www.googleapis.com/auth/drive.file"
)

// DriveOptions configures a DriveSink.
type DriveOptions struct {
	BaseURL     string
	FolderID    string
	TokenSource oauth2.TokenSource
	Timeout     time.Duration
}

// DriveSink uploads the snapshot file into a Drive folder. Every publish
// creates a new file; existing files with the same name are left alone.
type DriveSink struct {
	client   *resty.Client
	folderID string
	tokens   oauth2.TokenSource
	logger   *logging.Logger
}

type driveFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	WebViewLink string `json:"webViewLink"`
}

// ServiceAccountTokenSource reads a service-account key file and returns a
// token source scoped to DriveFileScope.
func ServiceAccountTokenSource(ctx context.Context, credentialsFile string) (oauth2.TokenSource, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, &Error{Sink: "drive", Kind: KindConfig, Err: fmt.Errorf("read credentials: %w", err)}
	}
	cfg, err := google.JWTConfigFromJSON(data, DriveFileScope)
	if err != nil {
		return nil, &Error{Sink: "drive", Kind: KindConfig, Err: fmt.Errorf("parse credentials: %w", err)}
	}
	return cfg.TokenSource(ctx), nil
}

// NewDriveSink creates an upload sink.
func NewDriveSink(opts DriveOptions, logger *logging.Logger) *DriveSink {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultDriveAPIURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	client.SetTimeout(opts.Timeout)

	return &DriveSink{
		client:   client,
		folderID: opts.FolderID,
		tokens:   opts.TokenSource,
		logger:   logger.Named("drive"),
	}
}

func (s *DriveSink) Name() string { return "drive" }

// Publish uploads localPath with a multipart request holding the file
// metadata and its content.
func (s *DriveSink) Publish(ctx context.Context, localPath string, t Target) (Receipt, error) {
	content, err := readLocal(s.Name(), localPath)
	if err != nil {
		return Receipt{}, err
	}
	if s.tokens == nil {
		return Receipt{}, &Error{Sink: s.Name(), Kind: KindConfig, Err: fmt.Errorf("no credentials configured")}
	}

	token, err := s.tokens.Token()
	if err != nil {
		return Receipt{}, &Error{Sink: s.Name(), Kind: KindAuth, Err: fmt.Errorf("obtain token: %w", err)}
	}

	name := filepath.Base(localPath)
	body, contentType, err := multipartRelated(name, s.folderID, content)
	if err != nil {
		return Receipt{}, &Error{Sink: s.Name(), Kind: KindConfig, Err: err}
	}

	var file driveFile
	res, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(token.AccessToken).
		SetQueryParams(map[string]string{
			"uploadType":        "multipart",
			"fields":            "id,name,webViewLink",
			"supportsAllDrives": "true",
		}).
		SetHeader("Content-Type", contentType).
		SetBody(body).
		SetResult(&file).
		Post("/upload/drive/v3/files")
	if err != nil {
		return Receipt{}, &Error{Sink: s.Name(), Kind: KindTransport, Err: err}
	}
	if res.IsError() {
		return Receipt{}, classifyStatus(s.Name(), res.StatusCode(), res.Header(), res.String())
	}

	location := file.WebViewLink
	if location == "" {
		location = file.ID
	}
	s.logger.Info("uploaded snapshot", zap.String("name", name), zap.String("file_id", file.ID))
	return Receipt{Sink: s.Name(), Location: location, Revision: file.ID}, nil
}

// multipartRelated builds a Drive multipart upload body.
func multipartRelated(name, folderID string, content []byte) ([]byte, string, error) {
	meta := map[string]any{"name": name}
	if folderID != "" {
		meta["parents"] = []string{folderID}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(metaJSON); err != nil {
		return nil, "", err
	}

	part, err = w.CreatePart(textproto.MIMEHeader{"Content-Type": {mediaType(name)}})
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "multipart/related; boundary=" + w.Boundary(), nil
}

func mediaType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
