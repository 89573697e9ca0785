// Package schedule runs configured scans on cron schedules, publishes their
// results and raises alerts for matches.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"analytics-enginev1/internal/engine"
	"analytics-enginev1/internal/logger"
	"analytics-enginev1/internal/metrics"
	"analytics-enginev1/internal/model"
	"analytics-enginev1/internal/notification"
)

// Job is one scheduled scan.
type Job struct {
	Name    string             `yaml:"name"`
	Cron    string             `yaml:"cron"`
	Request engine.ScanRequest `yaml:"request"`
	Timeout time.Duration      `yaml:"timeout"`

	// AlertOnEmpty also alerts when nothing matched.
	AlertOnEmpty bool `yaml:"alert_on_empty"`
}

// Scanner runs a scan.
type Scanner interface {
	Scan(ctx context.Context, req engine.ScanRequest) (*engine.ScanResponse, error)
}

// Publisher receives every successful scan response.
type Publisher interface {
	Publish(ctx context.Context, job string, resp *engine.ScanResponse) error
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	scanner   Scanner
	notifier  notification.Notifier
	publisher Publisher
	metrics   *metrics.Metrics
	log       *slog.Logger
	onScan    func(time.Time)
	ctx       context.Context

	mu   sync.Mutex
	jobs map[string]Job
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithNotifier sets the alert destination.
func WithNotifier(n notification.Notifier) Option { return func(s *Scheduler) { s.notifier = n } }

// WithPublisher sets where results are published.
func WithPublisher(p Publisher) Option { return func(s *Scheduler) { s.publisher = p } }

// WithMetrics records run outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.log = l } }

// WithLocation evaluates cron specs in loc.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.cron = newCron(loc) }
}

// WithScanHook is called after every successful run.
func WithScanHook(fn func(time.Time)) Option { return func(s *Scheduler) { s.onScan = fn } }

// parser accepts 5-field specs, an optional leading seconds field and
// descriptors such as @daily or @every 15m.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func newCron(loc *time.Location) *cron.Cron {
	if loc == nil {
		loc = time.UTC
	}
	return cron.New(cron.WithParser(parser), cron.WithLocation(loc))
}

// New creates a scheduler. Runs use ctx as their parent context.
func New(ctx context.Context, sc Scanner, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:    newCron(time.UTC),
		scanner: sc,
		log:     slog.Default(),
		ctx:     ctx,
		jobs:    make(map[string]Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks a job without registering it.
func (j Job) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("%w: job without a name", model.ErrInvalidParameter)
	}
	if _, err := parser.Parse(j.Cron); err != nil {
		return fmt.Errorf("%w: job %s: cron %q: %v", model.ErrInvalidParameter, j.Name, j.Cron, err)
	}
	if j.Timeout < 0 {
		return fmt.Errorf("%w: job %s: negative timeout", model.ErrInvalidParameter, j.Name)
	}
	if _, err := j.Request.Compile(); err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	return nil
}

// Register validates and adds jobs. Nothing is registered if any job is invalid.
func (s *Scheduler) Register(jobs ...Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if err := j.Validate(); err != nil {
			return err
		}
		if seen[j.Name] || s.jobs[j.Name].Name != "" {
			return fmt.Errorf("%w: duplicate job %s", model.ErrInvalidParameter, j.Name)
		}
		seen[j.Name] = true
	}
	for _, j := range jobs {
		j := j
		if _, err := s.cron.AddFunc(j.Cron, func() { s.run(j) }); err != nil {
			return fmt.Errorf("register job %s: %w", j.Name, err)
		}
		s.jobs[j.Name] = j
		s.log.Info("scheduled scan registered", "job", j.Name, "cron", j.Cron, "universe", j.Request.Universe)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// Next returns the next run time of every registered job.
func (s *Scheduler) Next() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, len(entries))
	for i, e := range entries {
		out[i] = e.Next
	}
	return out
}

// RunNow executes the named job immediately (manual trigger / run on start).
func (s *Scheduler) RunNow(name string) (*engine.ScanResponse, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown job %q", model.ErrInvalidParameter, name)
	}
	return s.run(j)
}

// RunAll executes every registered job once, in name order.
func (s *Scheduler) RunAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	s.mu.Unlock()
	sort.Strings(names)
	for _, n := range names {
		s.RunNow(n)
	}
}

func (s *Scheduler) run(j Job) (*engine.ScanResponse, error) {
	ctx := logger.WithTraceID(s.ctx, logger.NewTraceID())
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	resp, err := s.scanner.Scan(ctx, j.Request)
	if err != nil {
		s.outcome(j.Name, model.ErrorKind(err))
		s.log.Error("scheduled scan failed", append(logger.LogWithTrace(ctx), "job", j.Name, "error", err)...)
		s.notify(ctx, notification.Alert{
			Level:   notification.AlertWarning,
			Title:   j.Name + ": scan failed",
			Message: err.Error(),
			Job:     j.Name,
			Time:    time.Now().UTC(),
		})
		return nil, err
	}
	s.outcome(j.Name, "ok")
	if s.onScan != nil {
		s.onScan(time.Now())
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, j.Name, resp); err != nil {
			s.log.Warn("publish scan result failed", append(logger.LogWithTrace(ctx), "job", j.Name, "error", err)...)
		}
	}
	if resp.Matched > 0 || j.AlertOnEmpty {
		s.notify(ctx, ScanAlert(j.Name, resp))
	}
	return resp, nil
}

func (s *Scheduler) outcome(job, outcome string) {
	if s.metrics != nil {
		s.metrics.ScheduledScans.WithLabelValues(job, outcome).Inc()
	}
}

func (s *Scheduler) notify(ctx context.Context, a notification.Alert) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, a); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("alert delivery failed", append(logger.LogWithTrace(ctx), "job", a.Job, "error", err)...)
	}
}

// ScanAlert summarizes a scan response. Instruments are listed in rank order.
func ScanAlert(job string, resp *engine.ScanResponse) notification.Alert {
	names := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		names[i] = r.Instrument
	}
	level := notification.AlertInfo
	if len(resp.Excluded) > 0 && len(resp.Excluded) == resp.Scanned {
		level = notification.AlertWarning
	}
	msg := fmt.Sprintf("%s on %s (%s): %d of %d matched", resp.Filter, resp.Universe, resp.Timeframe, resp.Matched, resp.Scanned)
	if n := len(resp.Excluded); n > 0 {
		msg += fmt.Sprintf(", %d excluded", n)
	}
	return notification.Alert{
		Level:       level,
		Title:       fmt.Sprintf("%s: %d matches", job, resp.Matched),
		Message:     msg,
		Job:         job,
		RunID:       resp.RunID,
		Instruments: names,
		Time:        resp.GeneratedAt,
	}
}
