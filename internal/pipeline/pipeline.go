// Package pipeline runs one fetch, extract, format, write and publish pass.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tablesnap/internal/extractor"
	"tablesnap/internal/fetcher"
	"tablesnap/internal/formatter"
	"tablesnap/internal/logging"
	"tablesnap/internal/metrics"
	"tablesnap/internal/output"
	"tablesnap/internal/publisher"
	"tablesnap/internal/snapshot"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LocalSink names the local file write in Outcome.Results.
const LocalSink = "local"

// ErrPartialFailure is returned when at least one sink failed while the
// others completed.
var ErrPartialFailure = errors.New("one or more sinks failed")

// Config is the validated per-run configuration.
type Config struct {
	URL        string
	Extract    extractor.Options
	Title      string
	Query      formatter.Query
	Schema     formatter.Schema // nil prints the snapshot's own columns
	OutputPath string
	// Target is passed to every sink; its Text is filled with the report.
	Target publisher.Target

	FetchTimeout time.Duration
	SinkTimeout  time.Duration

	NotifyOnFailure bool
}

// Notifier relays a failure message outside the normal fan-out.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// SinkResult is the outcome of one sink.
type SinkResult struct {
	Sink     string
	Receipt  publisher.Receipt
	Err      error
	Duration time.Duration
}

// Outcome describes a finished run.
type Outcome struct {
	RunID    string
	State    State
	Snapshot *snapshot.Snapshot
	Report   *formatter.Report
	Text     string // rendered report
	Results  []SinkResult
	Notified bool
	Err      error // stage error for failed runs
}

// Failed returns the names of sinks that did not succeed.
func (o *Outcome) Failed() []string {
	var names []string
	for _, r := range o.Results {
		if r.Err != nil {
			names = append(names, r.Sink)
		}
	}
	return names
}

// Runner sequences the pipeline stages.
type Runner struct {
	cfg      Config
	fetcher  fetcher.Fetcher
	sinks    []publisher.Sink
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *logging.Logger
	now      func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithSinks sets the publish destinations, in reporting order.
func WithSinks(sinks ...publisher.Sink) Option {
	return func(r *Runner) { r.sinks = append(r.sinks, sinks...) }
}

// WithNotifier sets where failure messages go.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithMetrics records run metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a Runner. f may be nil when only Publish is used.
func New(cfg Config, f fetcher.Fetcher, opts ...Option) *Runner {
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.SinkTimeout == 0 {
		cfg.SinkTimeout = 60 * time.Second
	}

	r := &Runner{cfg: cfg, fetcher: f, logger: logging.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run fetches the configured URL and carries the result through every
// stage. A fetch or extract failure ends the run before anything is
// written. Sink failures are collected; if any occurred the returned
// error wraps ErrPartialFailure and the outcome lists every result.
func (r *Runner) Run(ctx context.Context) (*Outcome, error) {
	out, log := r.begin()
	started := r.now()
	defer r.finish(out, started)

	log.Info("fetching page", zap.String("url", r.cfg.URL))
	stageStart := r.now()
	fctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	markup, err := r.fetcher.Fetch(fctx, r.cfg.URL)
	cancel()
	r.recordStage("fetch", stageStart)
	if err != nil {
		return r.fail(ctx, out, log, StateFetchFailed, err)
	}
	r.transition(out, StateFetched)
	log.Debug("fetched page", zap.Int("bytes", len(markup)))

	stageStart = r.now()
	opts := r.cfg.Extract
	if opts.BaseURL == "" {
		opts.BaseURL = r.cfg.URL
	}
	s, err := extractor.New(opts, log).Extract(markup)
	r.recordStage("extract", stageStart)
	if err != nil {
		return r.fail(ctx, out, log, StateExtractFailed, err)
	}
	s.Source = r.cfg.URL
	s.FetchedAt = r.now()
	r.transition(out, StateExtracted)

	return r.publish(ctx, out, log, s)
}

// Publish runs the format, write and publish stages for a snapshot
// obtained elsewhere, such as a previously written file.
func (r *Runner) Publish(ctx context.Context, s *snapshot.Snapshot) (*Outcome, error) {
	out, log := r.begin()
	started := r.now()
	defer r.finish(out, started)

	r.transition(out, StateExtracted)
	return r.publish(ctx, out, log, s)
}

func (r *Runner) begin() (*Outcome, *logging.Logger) {
	out := &Outcome{RunID: uuid.NewString(), State: StateStart}
	return out, r.logger.With(zap.String("run_id", out.RunID))
}

func (r *Runner) publish(ctx context.Context, out *Outcome, log *logging.Logger, s *snapshot.Snapshot) (*Outcome, error) {
	out.Snapshot = s
	if r.metrics != nil {
		r.metrics.RecordSnapshot(s.Len(), s.Skipped)
	}
	if s.Skipped > 0 {
		log.Warn("rows skipped during extraction", zap.Int("skipped", s.Skipped))
	}

	out.Report = formatter.Build(r.cfg.Title, s, r.cfg.Query, r.cfg.Schema)
	out.Text, _ = out.Report.ToText()
	log.Info("extracted snapshot",
		zap.Int("rows", s.Len()),
		zap.Int("columns", len(s.Columns)),
		zap.Int("matches", out.Report.Count))

	r.transition(out, StatePublishing)

	// File sinks need the local file, so the write happens first.
	stageStart := r.now()
	writeErr := output.Write(s, r.cfg.OutputPath)
	local := SinkResult{
		Sink:     LocalSink,
		Receipt:  publisher.Receipt{Sink: LocalSink, Location: r.cfg.OutputPath},
		Err:      writeErr,
		Duration: r.now().Sub(stageStart),
	}
	r.recordSink(log, local)

	target := r.cfg.Target
	target.Text = out.Text

	results := make([]SinkResult, len(r.sinks))
	var wg sync.WaitGroup
	for i, sink := range r.sinks {
		wg.Add(1)
		go func(i int, sink publisher.Sink) {
			defer wg.Done()
			results[i] = r.runSink(ctx, sink, target, writeErr)
		}(i, sink)
	}
	wg.Wait()

	out.Results = append([]SinkResult{local}, results...)
	for _, res := range results {
		r.recordSink(log, res)
	}
	r.transition(out, StateDone)

	var errs []error
	for _, res := range out.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	if len(errs) > 0 {
		return out, fmt.Errorf("%w: %w", ErrPartialFailure, errors.Join(errs...))
	}
	return out, nil
}

func (r *Runner) runSink(ctx context.Context, sink publisher.Sink, target publisher.Target, writeErr error) SinkResult {
	res := SinkResult{Sink: sink.Name()}
	if _, textOnly := sink.(publisher.MessageSink); !textOnly && writeErr != nil {
		res.Err = fmt.Errorf("%s: local file not written: %w", sink.Name(), writeErr)
		return res
	}

	start := r.now()
	sctx, cancel := context.WithTimeout(ctx, r.cfg.SinkTimeout)
	defer cancel()
	res.Receipt, res.Err = sink.Publish(sctx, r.cfg.OutputPath, target)
	res.Duration = r.now().Sub(start)
	return res
}

func (r *Runner) fail(ctx context.Context, out *Outcome, log *logging.Logger, state State, err error) (*Outcome, error) {
	r.transition(out, state)
	out.Err = err
	log.Error("run failed", zap.String("state", string(state)), zap.Error(err))

	if r.cfg.NotifyOnFailure && r.notifier != nil {
		nctx, cancel := context.WithTimeout(ctx, r.cfg.SinkTimeout)
		defer cancel()
		if nerr := r.notifier.Send(nctx, r.failureMessage(out, err)); nerr != nil {
			log.Warn("failure notification not sent", zap.Error(nerr))
		} else {
			out.Notified = true
		}
	}
	return out, err
}

func (r *Runner) failureMessage(out *Outcome, err error) string {
	title := r.cfg.Title
	if title == "" {
		title = "Snapshot"
	}
	return fmt.Sprintf("%s: run %s failed (%s): %v", title, out.RunID, out.State, err)
}

func (r *Runner) transition(out *Outcome, next State) {
	if !out.State.CanTransition(next) {
		r.logger.DPanic("invalid state transition",
			zap.String("from", string(out.State)),
			zap.String("to", string(next)))
	}
	out.State = next
}

func (r *Runner) recordStage(stage string, start time.Time) {
	if r.metrics != nil {
		r.metrics.RecordStage(stage, r.now().Sub(start))
	}
}

func (r *Runner) recordSink(log *logging.Logger, res SinkResult) {
	result := "published"
	switch {
	case res.Err != nil:
		result = "failed"
		kind := "io"
		if k, ok := publisher.KindOf(res.Err); ok {
			kind = k.String()
		}
		log.Error("sink failed",
			zap.String("sink", res.Sink),
			zap.String("kind", kind),
			zap.Error(res.Err))
	case res.Receipt.Unchanged:
		result = "unchanged"
		log.Info("sink unchanged", zap.String("sink", res.Sink))
	default:
		log.Info("sink published",
			zap.String("sink", res.Sink),
			zap.String("location", res.Receipt.Location),
			zap.String("revision", res.Receipt.Revision))
	}
	if r.metrics != nil {
		r.metrics.RecordSink(res.Sink, result, res.Duration)
	}
}

func (r *Runner) finish(out *Outcome, started time.Time) {
	if !out.State.Terminal() {
		r.logger.DPanic("run finished in non-terminal state", zap.String("state", string(out.State)))
	}
	if r.metrics == nil {
		return
	}
	succeeded := !out.State.Failed() && len(out.Failed()) == 0
	r.metrics.RecordRun(string(out.State), r.now().Sub(started), succeeded)
}
