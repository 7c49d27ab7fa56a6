package publisher

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"tablesnap/internal/logging"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DefaultGitHubAPIURL is the public GitHub REST endpoint.
const DefaultGitHubAPIURL = "https://api.github.com"

// GitHubOptions configures a GitHubSink.
type GitHubOptions struct {
	BaseURL string
	Token   string
	Repo    string // owner/name
	Branch  string
	Timeout time.Duration
}

// GitHubSink commits the snapshot file through the repository contents
// API. Writes are conditional on the blob sha read just before, so a
// concurrent writer causes a conflict instead of a lost update.
type GitHubSink struct {
	client *resty.Client
	repo   string
	branch string
	logger *logging.Logger
}

type contentsResponse struct {
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

type putContentsRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch,omitempty"`
	SHA     string `json:"sha,omitempty"`
}

type putContentsResponse struct {
	Content struct {
		SHA     string `json:"sha"`
		HTMLURL string `json:"html_url"`
	} `json:"content"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// NewGitHubSink creates a contents API sink.
func NewGitHubSink(opts GitHubOptions, logger *logging.Logger) *GitHubSink {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultGitHubAPIURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	client.SetTimeout(opts.Timeout)
	client.SetAuthToken(opts.Token)
	client.SetHeader("Accept", "application/vnd.github+json")
	client.SetHeader("X-GitHub-Api-Version", "2022-11-28")
	client.SetHeader("User-Agent", "tablesnap")

	return &GitHubSink{
		client: client,
		repo:   opts.Repo,
		branch: opts.Branch,
		logger: logger.Named("github"),
	}
}

func (s *GitHubSink) Name() string { return "github" }

// Publish uploads localPath to t.Path. If the remote blob already matches
// the local content nothing is written. A conflicting concurrent update is
// retried once after re-reading the remote sha.
func (s *GitHubSink) Publish(ctx context.Context, localPath string, t Target) (Receipt, error) {
	content, err := readLocal(s.Name(), localPath)
	if err != nil {
		return Receipt{}, err
	}

	path := strings.TrimPrefix(t.Path, "/")
	if path == "" {
		path = filepath.Base(localPath)
	}
	message := t.Message
	if message == "" {
		message = "Update " + path
	}
	local := BlobSHA(content)

	for attempt := 1; ; attempt++ {
		remote, err := s.remoteSHA(ctx, path)
		if err != nil {
			return Receipt{}, err
		}
		if remote == local {
			s.logger.Info("remote content unchanged", zap.String("path", path), zap.String("sha", local))
			return Receipt{Sink: s.Name(), Location: path, Revision: local, Unchanged: true}, nil
		}

		receipt, err := s.put(ctx, path, message, content, remote)
		if err == nil {
			s.logger.Info("committed snapshot",
				zap.String("path", path),
				zap.String("commit", receipt.Revision),
				zap.Int("attempt", attempt))
			return receipt, nil
		}
		if !IsConflict(err) || attempt > 1 {
			return Receipt{}, err
		}
		s.logger.Warn("remote changed during publish, retrying", zap.String("path", path), zap.Error(err))
	}
}

// remoteSHA returns the blob sha of path on the branch, or "" when the
// file does not exist yet.
func (s *GitHubSink) remoteSHA(ctx context.Context, path string) (string, error) {
	var body contentsResponse
	res, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("ref", s.branch).
		SetResult(&body).
		Get(s.contentsURL(path))
	if err != nil {
		return "", s.transportError(err)
	}

	switch {
	case res.StatusCode() == http.StatusNotFound:
		return "", nil
	case res.IsError():
		return "", classifyStatus(s.Name(), res.StatusCode(), res.Header(), res.String())
	case body.Type != "" && body.Type != "file":
		return "", &Error{Sink: s.Name(), Kind: KindConfig, Err: fmt.Errorf("%s is a %s, not a file", path, body.Type)}
	}
	return body.SHA, nil
}

func (s *GitHubSink) put(ctx context.Context, path, message string, content []byte, sha string) (Receipt, error) {
	var body putContentsResponse
	res, err := s.client.R().
		SetContext(ctx).
		SetBody(putContentsRequest{
			Message: message,
			Content: base64.StdEncoding.EncodeToString(content),
			Branch:  s.branch,
			SHA:     sha,
		}).
		SetResult(&body).
		Put(s.contentsURL(path))
	if err != nil {
		return Receipt{}, s.transportError(err)
	}
	if res.IsError() {
		return Receipt{}, classifyStatus(s.Name(), res.StatusCode(), res.Header(), res.String())
	}

	location := body.Content.HTMLURL
	if location == "" {
		location = path
	}
	return Receipt{Sink: s.Name(), Location: location, Revision: body.Commit.SHA}, nil
}

func (s *GitHubSink) contentsURL(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return "/repos/" + s.repo + "/contents/" + strings.Join(segments, "/")
}

func (s *GitHubSink) transportError(err error) *Error {
	return &Error{Sink: s.Name(), Kind: KindTransport, Err: err}
}
