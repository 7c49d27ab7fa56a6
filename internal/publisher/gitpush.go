package publisher

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"tablesnap/internal/logging"

	"go.uber.org/zap"
)

// Runner executes git subcommands in a working tree.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner runs the git binary found on PATH.
type ExecRunner struct {
	Binary string
}

// Run executes a git command in dir and returns its combined output.
func (r ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	bin := r.Binary
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// GitOptions configures a GitSink.
type GitOptions struct {
	RepoDir string
	// Remote is a remote name or URL. URLs may embed a token; it is
	// redacted from every error and log line.
	Remote  string
	Branch  string
	Timeout time.Duration // per subprocess
}

// GitSink commits the snapshot file in a local clone and pushes it.
type GitSink struct {
	runner Runner
	opts   GitOptions
	logger *logging.Logger
}

// NewGitSink creates a push-via-git sink. A nil runner uses ExecRunner.
func NewGitSink(opts GitOptions, runner Runner, logger *logging.Logger) *GitSink {
	if runner == nil {
		runner = ExecRunner{}
	}
	if opts.RepoDir == "" {
		opts.RepoDir = "."
	}
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	return &GitSink{runner: runner, opts: opts, logger: logger.Named("git")}
}

// TokenRemoteURL builds an authenticated HTTPS remote for a GitHub repo.
func TokenRemoteURL(repo, token string) string {
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", token, repo)
}

func (s *GitSink) Name() string { return "git" }

// Publish stages localPath, commits it when it differs from HEAD and
// pushes HEAD to the configured branch. An unchanged file is a success
// with Unchanged set and nothing is pushed.
func (s *GitSink) Publish(ctx context.Context, localPath string, t Target) (Receipt, error) {
	file, err := filepath.Abs(localPath)
	if err != nil {
		return Receipt{}, &Error{Sink: s.Name(), Kind: KindConfig, Err: err}
	}
	message := t.Message
	if message == "" {
		message = "Update " + filepath.Base(file)
	}

	if _, err := s.git(ctx, "add", "--", file); err != nil {
		return Receipt{}, s.fail(KindConfig, err)
	}

	if _, err := s.git(ctx, "diff", "--cached", "--quiet", "--", file); err == nil {
		s.logger.Info("no changes to commit", zap.String("file", file))
		return Receipt{Sink: s.Name(), Location: s.opts.Branch, Unchanged: true}, nil
	} else if exitCode(err) != 1 {
		return Receipt{}, s.fail(KindConfig, err)
	}

	if out, err := s.git(ctx, "commit", "-m", message, "--", file); err != nil {
		if strings.Contains(out, "nothing to commit") {
			return Receipt{Sink: s.Name(), Location: s.opts.Branch, Unchanged: true}, nil
		}
		return Receipt{}, s.fail(KindConfig, err)
	}

	rev, err := s.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return Receipt{}, s.fail(KindConfig, err)
	}
	rev = strings.TrimSpace(rev)

	if out, err := s.git(ctx, "push", s.opts.Remote, "HEAD:"+s.opts.Branch); err != nil {
		return Receipt{}, s.fail(classifyPush(out), err)
	}

	s.logger.Info("pushed snapshot",
		zap.String("remote", redact(s.opts.Remote)),
		zap.String("branch", s.opts.Branch),
		zap.String("commit", rev))
	return Receipt{Sink: s.Name(), Location: redact(s.opts.Remote) + " " + s.opts.Branch, Revision: rev}, nil
}

func (s *GitSink) git(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	return s.runner.Run(ctx, s.opts.RepoDir, args...)
}

func (s *GitSink) fail(kind Kind, err error) *Error {
	return &Error{Sink: s.Name(), Kind: kind, Err: errors.New(redact(err.Error()))}
}

func classifyPush(output string) Kind {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "rejected"), strings.Contains(lower, "non-fast-forward"), strings.Contains(lower, "fetch first"):
		return KindConflict
	case strings.Contains(lower, "authentication failed"), strings.Contains(lower, "permission"),
		strings.Contains(lower, "could not read username"), strings.Contains(lower, "403"):
		return KindAuth
	default:
		return KindTransport
	}
}

// exitCode returns the process exit status wrapped in err, or -1.
func exitCode(err error) int {
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return -1
}

var credentialsInURL = regexp.MustCompile(`(https?://)[^@/\s]+@`)

// redact removes userinfo from any URL in s.
func redact(s string) string {
	return credentialsInURL.ReplaceAllString(s, "${1}***@")
}
