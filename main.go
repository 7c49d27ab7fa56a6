package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"tablesnap/internal/browser"
	"tablesnap/internal/config"
	"tablesnap/internal/extractor"
	"tablesnap/internal/fetcher"
	"tablesnap/internal/formatter"
	"tablesnap/internal/logging"
	"tablesnap/internal/metrics"
	"tablesnap/internal/output"
	"tablesnap/internal/pipeline"
	"tablesnap/internal/publisher"
	"tablesnap/internal/scraper"
	_ "tablesnap/internal/sites/generic"
	_ "tablesnap/internal/sites/prosettings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

// exitPartialFailure is the process status when some sinks failed.
const exitPartialFailure = 2

var (
	targetURL     string
	site          string
	selector      string
	xpath         string
	mode          string
	title         string
	filter        string
	limit         int
	outputPath    string
	sinks         []string
	render        bool
	waitFor       string
	showUI        bool
	proxyURL      string
	headers       []string
	timeout       time.Duration
	printFormat   string
	reportFile    string
	printAll      bool
	fromFile      string
	notifyFailure bool
	logLevel      string
	listSites     bool
)

func newRootCmd() *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:     "tablesnap [URL]",
		Short:   "Snapshot an HTML table and publish it",
		Version: version,
		Long: `tablesnap fetches a web page, extracts a table (or a list of headlines)
into a snapshot, prints a filtered report, writes the snapshot to a local
CSV or XLSX file and publishes it to the selected sinks: a GitHub
repository, a local git clone, a Google Drive folder or a Telegram chat.

Credentials are read from the environment (GITHUB_TOKEN, TELEGRAM_BOT_TOKEN,
GDRIVE_CREDENTIALS_FILE, ...). Flags override environment settings.`,
		Example: `  # Print the CS2 pro settings of players using a Zowie mouse
  tablesnap --site cs2 -q zowie

  # Snapshot any table and commit it to a repository
  GITHUB_TOKEN=... GITHUB_REPO=me/data tablesnap --sinks github \
    -s "table.stats" -o "data/stats_{{.Date}}.csv" https://example.com/stats

  # Render a script-built page and post the report to a chat
  tablesnap --site valorant --render --sinks telegram

  # Print the whole table as markdown instead of the top 20 rows
  tablesnap --site cs2 --all -f markdown

  # Publish a previously written snapshot without fetching
  tablesnap --from-file data/cs2_pro_settings_2024-03-07.csv --sinks git`,
		Args:         cobra.MaximumNArgs(1),
		RunE:         run,
		SilenceUsage: true,
	}

	rootCmd.Flags().StringVarP(&targetURL, "url", "u", "", "Page URL (may also be given as the only argument)")
	rootCmd.Flags().StringVar(&site, "site", "", "Site preset (see --list-sites)")
	rootCmd.Flags().StringVarP(&selector, "selector", "s", "", "CSS selector locating the table or headline links")
	rootCmd.Flags().StringVar(&xpath, "xpath", "", "XPath expression locating the table")
	rootCmd.Flags().StringVarP(&mode, "mode", "m", "", "Extraction mode (table, headlines)")
	rootCmd.Flags().StringVar(&title, "title", "", "Report title")
	rootCmd.Flags().StringVarP(&filter, "filter", "q", "", "Only report rows containing this text (case-insensitive)")
	rootCmd.Flags().IntVarP(&limit, "limit", "n", formatter.DefaultLimit, "Maximum rows in the report (0 for no limit)")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Snapshot file path template, .csv or .xlsx (e.g. data/snap_{{.Date}}.csv)")
	rootCmd.Flags().StringSliceVar(&sinks, "sinks", nil, "Sinks to publish to (github, git, drive, telegram)")
	rootCmd.Flags().BoolVar(&render, "render", false, "Render the page in a headless browser before extracting")
	rootCmd.Flags().StringVarP(&waitFor, "wait-for", "w", "", "CSS selector to wait for when rendering")
	rootCmd.Flags().BoolVar(&showUI, "showui", false, "Show browser UI when rendering (disable headless mode)")
	rootCmd.Flags().StringVarP(&proxyURL, "proxy", "p", "", "Proxy URL used when a direct fetch fails (e.g. http://127.0.0.1:7890)")
	rootCmd.Flags().StringSliceVarP(&headers, "header", "H", []string{}, "Extra request headers (can be used multiple times)")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", 30*time.Second, "Timeout of each fetch attempt")
	rootCmd.Flags().StringVarP(&printFormat, "print", "f", "text", "Report format on stdout (text, markdown, json, csv, html, none)")
	rootCmd.Flags().StringVarP(&reportFile, "report", "r", "", "Also write the report to a file (format inferred from extension)")
	rootCmd.Flags().BoolVarP(&printAll, "all", "a", false, "Print every snapshot row instead of the filtered report")
	rootCmd.Flags().StringVar(&fromFile, "from-file", "", "Publish an existing snapshot file instead of fetching")
	rootCmd.Flags().BoolVar(&notifyFailure, "notify-failure", false, "Send a Telegram message when the fetch or extraction fails")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&listSites, "list-sites", false, "List site presets and exit")

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, pipeline.ErrPartialFailure) {
			os.Exit(exitPartialFailure)
		}
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if listSites {
		return printSites(cmd)
	}
	if len(args) == 1 {
		if targetURL != "" {
			return fmt.Errorf("URL given both as argument and --url")
		}
		targetURL = args[0]
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	preset, err := applyOverrides(cmd, cfg)
	if err != nil {
		return err
	}
	if err := validateFlags(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lc := logging.DefaultConfig()
	lc.Level = cfg.Logging.Level
	lc.Development = cfg.Logging.Development
	logger, err := logging.New(lc)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now()
	localPath, err := output.ExpandPath(cfg.Run.Output, now)
	if err != nil {
		return err
	}
	repoPath := cfg.GitHub.FilePath
	if repoPath == "" {
		repoPath = preset.RepoPath
	}
	if repoPath != "" {
		if repoPath, err = output.ExpandPath(repoPath, now); err != nil {
			return err
		}
	}

	sinkList, chat, err := buildSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}

	m := metrics.New()
	opts := []pipeline.Option{
		pipeline.WithSinks(sinkList...),
		pipeline.WithMetrics(m),
		pipeline.WithLogger(logger),
	}
	if chat != nil {
		opts = append(opts, pipeline.WithNotifier(chat))
	}

	pcfg := pipeline.Config{
		URL:        cfg.Run.URL,
		Extract:    extractOptions(preset, cfg),
		Title:      cfg.Run.Title,
		Query:      formatter.Query{Predicate: cfg.Run.Filter, Limit: cfg.Run.Limit},
		Schema:     preset.Schema,
		OutputPath: localPath,
		Target: publisher.Target{
			Path:    repoPath,
			Message: fmt.Sprintf("Update %s (%s)", filepath.Base(localPath), now.Format("2006-01-02")),
		},
		FetchTimeout:    cfg.Run.FetchTimeout,
		SinkTimeout:     cfg.Run.SinkTimeout,
		NotifyOnFailure: cfg.Run.NotifyFailure,
	}

	var outcome *pipeline.Outcome
	var runErr error
	if fromFile != "" {
		s, err := output.Read(fromFile)
		if err != nil {
			return err
		}
		outcome, runErr = pipeline.New(pcfg, nil, opts...).Publish(ctx, s)
	} else {
		f, budget := buildFetcher(cfg, logger)
		pcfg.FetchTimeout = budget
		outcome, runErr = pipeline.New(pcfg, f, opts...).Run(ctx)
	}

	if cfg.Metrics.PushgatewayURL != "" {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := m.Push(pctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, preset.Name); err != nil {
			logger.Warn("metrics push failed", zap.Error(err))
		}
		cancel()
	}

	if outcome != nil && outcome.Report != nil {
		var content formatter.Content = outcome.Report
		if printAll {
			content = formatter.NewSnapshotContent(outcome.Snapshot)
		}
		if err := emitReport(content); err != nil {
			return err
		}
		printSummary(outcome)
	}
	return runErr
}

// applyOverrides merges flag values and the selected site preset into cfg.
// Precedence is flag, then environment, then preset, then built-in default.
func applyOverrides(cmd *cobra.Command, cfg *config.Config) (scraper.Site, error) {
	flags := cmd.Flags()
	setString := func(name string, dst *string, val string) {
		if flags.Changed(name) || (name == "url" && val != "") {
			*dst = val
		}
	}

	setString("url", &cfg.Run.URL, targetURL)
	setString("site", &cfg.Run.Site, site)
	setString("selector", &cfg.Run.Selector, selector)
	setString("xpath", &cfg.Run.XPath, xpath)
	setString("mode", &cfg.Run.Mode, mode)
	setString("title", &cfg.Run.Title, title)
	setString("filter", &cfg.Run.Filter, filter)
	setString("output", &cfg.Run.Output, outputPath)
	setString("proxy", &cfg.Run.Proxy, proxyURL)
	setString("log-level", &cfg.Logging.Level, logLevel)
	if flags.Changed("limit") {
		cfg.Run.Limit = limit
	}
	if flags.Changed("sinks") {
		cfg.Run.Sinks = config.NormalizeSinks(sinks)
	}
	if flags.Changed("render") {
		cfg.Run.Render = render
	}
	if flags.Changed("timeout") {
		cfg.Run.FetchTimeout = timeout
	}
	if flags.Changed("notify-failure") {
		cfg.Run.NotifyFailure = notifyFailure
	}

	var preset scraper.Site
	if cfg.Run.Site != "" {
		s, ok := scraper.Get(cfg.Run.Site)
		if !ok {
			return preset, fmt.Errorf("unknown site: %s (see --list-sites)", cfg.Run.Site)
		}
		preset = s
		fill := func(dst *string, val string) {
			if *dst == "" {
				*dst = val
			}
		}
		fill(&cfg.Run.URL, s.URL)
		fill(&cfg.Run.Title, s.Title)
		fill(&cfg.Run.Mode, string(s.Mode))
		fill(&cfg.Run.Output, s.Output)
		if cfg.Run.Selector == "" && cfg.Run.XPath == "" {
			cfg.Run.Selector = s.Selector
			cfg.Run.XPath = s.XPath
		}
		if s.Render && !flags.Changed("render") {
			cfg.Run.Render = true
		}
	}

	cfg.Run.URL = normalizeURL(cfg.Run.URL)
	cfg.ApplyDefaults()
	return preset, nil
}

// extractOptions starts from the preset's extractor settings and applies the
// merged run configuration on top.
func extractOptions(preset scraper.Site, cfg *config.Config) extractor.Options {
	opts := preset.ExtractOptions()
	opts.Mode = extractor.Mode(cfg.Run.Mode)
	opts.Selector = cfg.Run.Selector
	opts.XPath = cfg.Run.XPath
	if cfg.Run.URL != preset.URL {
		opts.BaseURL = cfg.Run.URL
	}
	return opts
}

func validateFlags(cfg *config.Config) error {
	if fromFile == "" && cfg.Run.URL == "" {
		return fmt.Errorf("a URL is required (argument, --url, --site or TABLESNAP_URL)")
	}
	if fromFile != "" && cfg.Run.URL != "" && targetURL != "" {
		return fmt.Errorf("--from-file cannot be combined with a URL")
	}

	validFormats := map[string]bool{"none": true}
	for _, f := range formatter.Formats {
		validFormats[f] = true
	}
	if !validFormats[printFormat] {
		return fmt.Errorf("invalid print format: %s", printFormat)
	}

	if cfg.Run.Selector != "" && cfg.Run.XPath != "" && selector != "" && xpath != "" {
		return fmt.Errorf("--selector and --xpath are mutually exclusive")
	}
	if cfg.Run.Mode == string(extractor.ModeHeadlines) && cfg.Run.XPath != "" {
		return fmt.Errorf("--xpath is only valid with 'table' mode")
	}
	if waitFor != "" && !cfg.Run.Render {
		return fmt.Errorf("--wait-for is only valid with --render")
	}

	switch strings.ToLower(filepath.Ext(cfg.Run.Output)) {
	case ".csv", ".xlsx":
	default:
		return fmt.Errorf("output must end in .csv or .xlsx: %s", cfg.Run.Output)
	}

	if reportFile != "" && inferFormatFromExtension(reportFile) == "" {
		return fmt.Errorf("cannot infer report format from %s", reportFile)
	}
	return nil
}

// buildFetcher returns the page fetcher and the overall deadline for one
// fetch. TABLESNAP_FETCH_TIMEOUT bounds each attempt; the deadline leaves
// room for every retry and, with a proxy, for the fallback as well.
func buildFetcher(cfg *config.Config, logger *logging.Logger) (fetcher.Fetcher, time.Duration) {
	if cfg.Run.Render {
		newRender := func(proxy string) fetcher.Fetcher {
			return fetcher.NewRenderFetcher(fetcher.RenderOptions{
				Browser: browser.Config{ProxyURL: proxy, Headless: !showUI},
				Timeout: cfg.Run.FetchTimeout,
				WaitFor: waitFor,
			}, logger.Named("render"))
		}
		if cfg.Run.Proxy == "" {
			return newRender(""), cfg.Run.FetchTimeout
		}
		return fetcher.NewFallbackFetcher(newRender(""), newRender(cfg.Run.Proxy), logger), 2 * cfg.Run.FetchTimeout
	}

	opts := fetcher.DefaultOptions()
	opts.Timeout = cfg.Run.FetchTimeout
	opts.RetryMax = cfg.Run.Retries
	opts.Headers = parseHeaders(headers)
	newHTTP := func(proxy string) fetcher.Fetcher {
		o := opts
		o.ProxyURL = proxy
		return fetcher.NewHTTPFetcher(o, logger.Named("fetch"))
	}
	if cfg.Run.Proxy == "" {
		return newHTTP(""), opts.Budget()
	}
	return fetcher.NewFallbackFetcher(newHTTP(""), newHTTP(cfg.Run.Proxy), logger), 2 * opts.Budget()
}

// buildSinks creates the selected sinks in selection order. The chat sink
// is also returned for failure notifications when configured.
func buildSinks(ctx context.Context, cfg *config.Config, logger *logging.Logger) ([]publisher.Sink, *publisher.TelegramSink, error) {
	var chat *publisher.TelegramSink
	newChat := func() *publisher.TelegramSink {
		if chat == nil {
			chat = publisher.NewTelegramSink(publisher.TelegramOptions{
				BaseURL:   cfg.Telegram.APIURL,
				BotToken:  cfg.Telegram.BotToken,
				ChatID:    cfg.Telegram.ChatID,
				ParseMode: cfg.Telegram.ParseMode,
				Timeout:   cfg.Run.SinkTimeout,
			}, logger)
		}
		return chat
	}

	var out []publisher.Sink
	for _, name := range cfg.Run.Sinks {
		switch name {
		case config.SinkGitHub:
			out = append(out, publisher.NewGitHubSink(publisher.GitHubOptions{
				BaseURL: cfg.GitHub.APIURL,
				Token:   cfg.GitHub.Token,
				Repo:    cfg.GitHub.Repo,
				Branch:  cfg.GitHub.Branch,
				Timeout: cfg.Run.SinkTimeout,
			}, logger))
		case config.SinkGit:
			out = append(out, publisher.NewGitSink(publisher.GitOptions{
				RepoDir: cfg.Git.RepoDir,
				Remote:  gitRemote(cfg),
				Branch:  cfg.Git.Branch,
				Timeout: cfg.Run.SinkTimeout,
			}, nil, logger))
		case config.SinkDrive:
			tokens, err := publisher.ServiceAccountTokenSource(ctx, cfg.Drive.CredentialsFile)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, publisher.NewDriveSink(publisher.DriveOptions{
				BaseURL:     cfg.Drive.APIURL,
				FolderID:    cfg.Drive.FolderID,
				TokenSource: tokens,
				Timeout:     cfg.Run.SinkTimeout,
			}, logger))
		case config.SinkTelegram:
			out = append(out, newChat())
		}
	}

	if cfg.Run.NotifyFailure && !cfg.HasSink(config.SinkTelegram) {
		newChat()
	}
	return out, chat, nil
}

// gitRemote returns the push target of the git sink. An explicit
// GIT_REMOTE wins; the default remote is replaced by an authenticated
// GitHub URL when a token and repository are configured.
func gitRemote(cfg *config.Config) string {
	remote := cfg.Git.Remote
	if remote != "" && remote != config.DefaultGitRemote {
		return remote
	}
	if cfg.GitHub.Token != "" && cfg.GitHub.Repo != "" {
		return publisher.TokenRemoteURL(cfg.GitHub.Repo, cfg.GitHub.Token)
	}
	return config.DefaultGitRemote
}

func emitReport(report formatter.Content) error {
	if printFormat != "none" {
		content, err := formatter.Format(report, printFormat)
		if err != nil {
			return fmt.Errorf("failed to format report: %w", err)
		}
		fmt.Print(content)
		if !strings.HasSuffix(content, "\n") {
			fmt.Println()
		}
	}

	if reportFile != "" {
		content, err := formatter.Format(report, inferFormatFromExtension(reportFile))
		if err != nil {
			return fmt.Errorf("failed to format report: %w", err)
		}
		if err := os.WriteFile(reportFile, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Report written to: %s\n", reportFile)
	}
	return nil
}

// printSummary writes one line per sink to stderr.
func printSummary(o *pipeline.Outcome) {
	for _, r := range o.Results {
		switch {
		case r.Err != nil:
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", r.Sink, r.Err)
		case r.Receipt.Unchanged:
			fmt.Fprintf(os.Stderr, "= %s: unchanged\n", r.Sink)
		default:
			fmt.Fprintf(os.Stderr, "✓ %s: %s\n", r.Sink, r.Receipt.Location)
		}
	}
	if o.Snapshot != nil && o.Snapshot.Skipped > 0 {
		fmt.Fprintf(os.Stderr, "Skipped %d malformed rows\n", o.Snapshot.Skipped)
	}
}

func printSites(cmd *cobra.Command) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMODE\tURL\tDESCRIPTION")
	for _, s := range scraper.All() {
		url := s.URL
		if url == "" {
			url = "(--url)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Mode, url, s.Description)
	}
	return w.Flush()
}

// inferFormatFromExtension picks the --report format from the file name.
// An unknown extension yields "".
func inferFormatFromExtension(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return "markdown"
	case ".json":
		return "json"
	case ".html", ".htm":
		return "html"
	case ".txt":
		return "text"
	case ".csv":
		return "csv"
	default:
		return ""
	}
}

// parseHeaders turns repeated -H "Name: value" flags into the extra
// request headers sent with every fetch. Entries without a colon or with
// an empty name are ignored; a later entry for the same name wins.
func parseHeaders(raw []string) map[string]string {
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		out[name] = strings.TrimSpace(value)
	}
	return out
}

// normalizeURL adds https:// when no scheme is given
func normalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return rawURL
	}
	lower := strings.ToLower(rawURL)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return "https://" + rawURL
	}
	return rawURL
}
