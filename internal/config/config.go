package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Sink names accepted in TABLESNAP_SINKS and --sinks.
const (
	SinkGitHub   = "github"
	SinkGit      = "git"
	SinkDrive    = "drive"
	SinkTelegram = "telegram"
)

// KnownSinks lists every sink name in fan-out order.
var KnownSinks = []string{SinkGitHub, SinkGit, SinkDrive, SinkTelegram}

// Defaults applied by ApplyDefaults when neither the environment, a flag
// nor a site preset set a value.
const (
	DefaultMode      = "table"
	DefaultOutput    = "data/snapshot_{{.Date}}.csv"
	DefaultGitRemote = "origin"
)

// ErrInvalid is wrapped by every error returned from Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all run configuration.
type Config struct {
	Run      RunConfig
	GitHub   GitHubConfig
	Git      GitConfig
	Drive    DriveConfig
	Telegram TelegramConfig
	Metrics  MetricsConfig
	Logging  LogConfig
}

// RunConfig holds the source and pipeline settings.
type RunConfig struct {
	URL           string        `envconfig:"TABLESNAP_URL"`
	Site          string        `envconfig:"TABLESNAP_SITE"`
	Selector      string        `envconfig:"TABLESNAP_SELECTOR"`
	XPath         string        `envconfig:"TABLESNAP_XPATH"`
	Mode          string        `envconfig:"TABLESNAP_MODE"`
	Title         string        `envconfig:"TABLESNAP_TITLE"`
	Output        string        `envconfig:"TABLESNAP_OUTPUT"`
	Sinks         []string      `envconfig:"TABLESNAP_SINKS"`
	Filter        string        `envconfig:"TABLESNAP_FILTER"`
	Limit         int           `envconfig:"TABLESNAP_LIMIT" default:"20"`
	FetchTimeout  time.Duration `envconfig:"TABLESNAP_FETCH_TIMEOUT" default:"30s"`
	SinkTimeout   time.Duration `envconfig:"TABLESNAP_SINK_TIMEOUT" default:"60s"`
	Retries       int           `envconfig:"TABLESNAP_RETRIES" default:"2"`
	Render        bool          `envconfig:"TABLESNAP_RENDER" default:"false"`
	Proxy         string        `envconfig:"TABLESNAP_PROXY"`
	NotifyFailure bool          `envconfig:"TABLESNAP_NOTIFY_FAILURE" default:"false"`
}

// GitHubConfig holds the repository contents API sink settings.
type GitHubConfig struct {
	Token    string `envconfig:"GITHUB_TOKEN"`
	Repo     string `envconfig:"GITHUB_REPO"`
	FilePath string `envconfig:"GITHUB_FILE_PATH"`
	Branch   string `envconfig:"GITHUB_BRANCH" default:"main"`
	APIURL   string `envconfig:"GITHUB_API_URL" default:"https://api.github.com"`
}

// GitConfig holds the local git push sink settings.
type GitConfig struct {
	RepoDir string `envconfig:"GIT_REPO_DIR" default:"."`
	Remote  string `envconfig:"GIT_REMOTE" default:"origin"`
	Branch  string `envconfig:"GIT_BRANCH" default:"main"`
}

// DriveConfig holds the Google Drive upload sink settings.
type DriveConfig struct {
	FolderID        string `envconfig:"GDRIVE_FOLDER_ID"`
	CredentialsFile string `envconfig:"GDRIVE_CREDENTIALS_FILE"`
	APIURL          string `envconfig:"GDRIVE_API_URL" default:"https://www.googleapis.com"`
}

// TelegramConfig holds the chat sink settings.
type TelegramConfig struct {
	BotToken  string `envconfig:"TELEGRAM_BOT_TOKEN"`
	ChatID    string `envconfig:"TELEGRAM_CHAT_ID"`
	ParseMode string `envconfig:"TELEGRAM_PARSE_MODE"`
	APIURL    string `envconfig:"TELEGRAM_API_URL" default:"https://api.telegram.org"`
}

// MetricsConfig holds Pushgateway settings. An empty URL disables pushing.
type MetricsConfig struct {
	PushgatewayURL string `envconfig:"PUSHGATEWAY_URL"`
	Job            string `envconfig:"PUSHGATEWAY_JOB" default:"tablesnap"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables. Mode and Output are
// left empty when unset so a site preset can fill them; call ApplyDefaults
// afterwards.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Run.Sinks = NormalizeSinks(cfg.Run.Sinks)
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Run: RunConfig{
			Mode:         DefaultMode,
			Output:       DefaultOutput,
			Limit:        20,
			FetchTimeout: 30 * time.Second,
			SinkTimeout:  60 * time.Second,
			Retries:      2,
		},
		GitHub: GitHubConfig{
			Branch: "main",
			APIURL: "https://api.github.com",
		},
		Git: GitConfig{
			RepoDir: ".",
			Remote:  DefaultGitRemote,
			Branch:  "main",
		},
		Drive: DriveConfig{
			APIURL: "https://www.googleapis.com",
		},
		Telegram: TelegramConfig{
			APIURL: "https://api.telegram.org",
		},
		Metrics: MetricsConfig{
			Job: "tablesnap",
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// ApplyDefaults fills settings that are still empty from Default.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Run.Mode == "" {
		c.Run.Mode = d.Run.Mode
	}
	if c.Run.Output == "" {
		c.Run.Output = d.Run.Output
	}
	if c.Git.Remote == "" {
		c.Git.Remote = d.Git.Remote
	}
}

// NormalizeSinks lower-cases and trims sink names and drops empty entries.
// Both "github,telegram" and []string{"github", " Telegram"} normalize
// to the same list.
func NormalizeSinks(names []string) []string {
	var out []string
	for _, n := range names {
		for _, part := range strings.Split(n, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// HasSink reports whether name is among the selected sinks.
func (c *Config) HasSink(name string) bool {
	for _, s := range c.Run.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// Validate checks run settings and, for every selected sink, that its
// credentials and destination are present. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Run.Mode {
	case "table", "headlines":
	default:
		fail("unknown mode %q (expected table or headlines)", c.Run.Mode)
	}
	if c.Run.Limit < 0 {
		fail("limit must not be negative, got %d", c.Run.Limit)
	}
	if c.Run.Retries < 0 {
		fail("retries must not be negative, got %d", c.Run.Retries)
	}
	if c.Run.FetchTimeout <= 0 {
		fail("fetch timeout must be positive")
	}
	if c.Run.SinkTimeout <= 0 {
		fail("sink timeout must be positive")
	}
	if c.Run.Output == "" {
		fail("output path is required")
	}

	seen := make(map[string]bool, len(c.Run.Sinks))
	for _, name := range c.Run.Sinks {
		if seen[name] {
			fail("sink %q selected twice", name)
			continue
		}
		seen[name] = true

		switch name {
		case SinkGitHub:
			requireSet(fail, name, "GITHUB_TOKEN", c.GitHub.Token)
			requireSet(fail, name, "GITHUB_REPO", c.GitHub.Repo)
			if c.GitHub.Repo != "" && !validRepo(c.GitHub.Repo) {
				fail("sink %s: GITHUB_REPO must look like owner/name, got %q", name, c.GitHub.Repo)
			}
			requireSet(fail, name, "GITHUB_BRANCH", c.GitHub.Branch)
		case SinkGit:
			requireSet(fail, name, "GIT_REPO_DIR", c.Git.RepoDir)
			requireSet(fail, name, "GIT_BRANCH", c.Git.Branch)
			if c.Git.Remote == "" && (c.GitHub.Token == "" || c.GitHub.Repo == "") {
				fail("sink %s: GIT_REMOTE or GITHUB_TOKEN with GITHUB_REPO is required", name)
			}
		case SinkDrive:
			requireSet(fail, name, "GDRIVE_FOLDER_ID", c.Drive.FolderID)
			requireSet(fail, name, "GDRIVE_CREDENTIALS_FILE", c.Drive.CredentialsFile)
		case SinkTelegram:
			requireSet(fail, name, "TELEGRAM_BOT_TOKEN", c.Telegram.BotToken)
			requireSet(fail, name, "TELEGRAM_CHAT_ID", c.Telegram.ChatID)
		default:
			fail("unknown sink %q (expected one of %s)", name, strings.Join(KnownSinks, ", "))
		}
	}

	if c.Run.NotifyFailure && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		fail("failure notification requires TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID")
	}

	switch c.Telegram.ParseMode {
	case "", "HTML":
	default:
		fail("unsupported TELEGRAM_PARSE_MODE %q (expected empty or HTML)", c.Telegram.ParseMode)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// requireSet records a failure naming the variable, never its value.
func requireSet(fail func(string, ...any), sink, variable, value string) {
	if strings.TrimSpace(value) == "" {
		fail("sink %s: %s is required", sink, variable)
	}
}

func validRepo(repo string) bool {
	owner, name, ok := strings.Cut(repo, "/")
	return ok && owner != "" && name != "" && !strings.Contains(name, "/")
}
