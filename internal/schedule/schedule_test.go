package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-enginev1/internal/engine"
	"analytics-enginev1/internal/metrics"
	"analytics-enginev1/internal/model"
	"analytics-enginev1/internal/notification"
)

type fakeScanner struct {
	mu      sync.Mutex
	calls   int
	matched int
	err     error
}

func (f *fakeScanner) Scan(ctx context.Context, req engine.ScanRequest) (*engine.ScanResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	resp := &engine.ScanResponse{
		RunID: fmt.Sprintf("run-%d", f.calls), Universe: req.Universe, Timeframe: model.TF1d,
		Filter: "preset:" + req.Preset, Scanned: 3, Matched: f.matched,
		Excluded:    []engine.Excluded{{Instrument: "GONE", Kind: "upstream_fetch_failure"}},
		GeneratedAt: time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC),
	}
	for i := 0; i < f.matched; i++ {
		resp.Results = append(resp.Results, engine.ScanResult{Rank: i + 1, Instrument: fmt.Sprintf("I%d", i)})
	}
	return resp, nil
}

func (f *fakeScanner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recorder struct {
	mu     sync.Mutex
	alerts []notification.Alert
	pubs   []string
}

func (r *recorder) Send(_ context.Context, a notification.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recorder) Publish(_ context.Context, job string, resp *engine.ScanResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pubs = append(r.pubs, job+"/"+resp.RunID)
	return nil
}

func job(name string) Job {
	return Job{Name: name, Cron: "0 21 * * 1-5", Request: engine.ScanRequest{Universe: "demo", Preset: "oversold"}}
}

func TestJob_Validate(t *testing.T) {
	ok := job("nightly")
	require.NoError(t, ok.Validate())

	withSeconds := job("fast")
	withSeconds.Cron = "*/30 * * * * *"
	assert.NoError(t, withSeconds.Validate())

	every := job("every")
	every.Cron = "@every 15m"
	assert.NoError(t, every.Validate())

	bad := []Job{
		{Cron: ok.Cron, Request: ok.Request},
		{Name: "x", Cron: "not a cron", Request: ok.Request},
		{Name: "x", Cron: ok.Cron, Request: engine.ScanRequest{Universe: "demo", Expression: "nope > 1"}},
		{Name: "x", Cron: ok.Cron, Request: ok.Request, Timeout: -time.Second},
	}
	for i, j := range bad {
		err := j.Validate()
		assert.True(t, model.IsCallerError(err), "case %d: %v", i, err)
	}
}

func TestRegister_AllOrNothing(t *testing.T) {
	s := New(context.Background(), &fakeScanner{})
	err := s.Register(job("a"), job("a"))
	assert.ErrorIs(t, err, model.ErrInvalidParameter)
	assert.Empty(t, s.Next())

	bad := job("b")
	bad.Cron = "61 * * * *"
	assert.Error(t, s.Register(job("a"), bad))
	assert.Empty(t, s.Next())

	require.NoError(t, s.Register(job("a"), job("b")))
	assert.Len(t, s.Next(), 2)
	assert.ErrorIs(t, s.Register(job("a")), model.ErrInvalidParameter, "names stay unique across calls")
}

func TestRunNow_PublishesAndAlerts(t *testing.T) {
	sc := &fakeScanner{matched: 2}
	rec := &recorder{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	var hooked time.Time
	s := New(context.Background(), sc, WithNotifier(rec), WithPublisher(rec), WithMetrics(m),
		WithScanHook(func(t time.Time) { hooked = t }))
	require.NoError(t, s.Register(job("nightly")))

	resp, err := s.RunNow("nightly")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Matched)
	assert.False(t, hooked.IsZero())

	assert.Equal(t, []string{"nightly/run-1"}, rec.pubs)
	require.Len(t, rec.alerts, 1)
	a := rec.alerts[0]
	assert.Equal(t, notification.AlertInfo, a.Level)
	assert.Equal(t, "nightly: 2 matches", a.Title)
	assert.Equal(t, "preset:oversold on demo (1d): 2 of 3 matched, 1 excluded", a.Message)
	assert.Equal(t, []string{"I0", "I1"}, a.Instruments)
	assert.Equal(t, "run-1", a.RunID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScheduledScans.WithLabelValues("nightly", "ok")))

	_, err = s.RunNow("missing")
	assert.ErrorIs(t, err, model.ErrInvalidParameter)
}

func TestRunNow_NoMatchesNoAlert(t *testing.T) {
	rec := &recorder{}
	s := New(context.Background(), &fakeScanner{}, WithNotifier(rec), WithPublisher(rec))
	quiet := job("quiet")
	loud := job("loud")
	loud.AlertOnEmpty = true
	require.NoError(t, s.Register(quiet, loud))

	_, err := s.RunNow("quiet")
	require.NoError(t, err)
	assert.Empty(t, rec.alerts)
	assert.Len(t, rec.pubs, 1, "empty results are still published")

	_, err = s.RunNow("loud")
	require.NoError(t, err)
	require.Len(t, rec.alerts, 1)
	assert.Equal(t, "loud: 0 matches", rec.alerts[0].Title)
}

func TestRunNow_FailureAlerts(t *testing.T) {
	sc := &fakeScanner{err: fmt.Errorf("%w: universe demo: redis down", model.ErrUpstreamFetch)}
	rec := &recorder{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	s := New(context.Background(), sc, WithNotifier(rec), WithPublisher(rec), WithMetrics(m))
	require.NoError(t, s.Register(job("nightly")))

	_, err := s.RunNow("nightly")
	assert.True(t, errors.Is(err, model.ErrUpstreamFetch))
	assert.Empty(t, rec.pubs)
	require.Len(t, rec.alerts, 1)
	assert.Equal(t, notification.AlertWarning, rec.alerts[0].Level)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScheduledScans.WithLabelValues("nightly", "upstream_fetch_failure")))
}

func TestRunNow_Timeout(t *testing.T) {
	var deadline bool
	sc := scannerFunc(func(ctx context.Context, req engine.ScanRequest) (*engine.ScanResponse, error) {
		_, deadline = ctx.Deadline()
		return &engine.ScanResponse{}, nil
	})
	s := New(context.Background(), sc)
	j := job("bounded")
	j.Timeout = time.Minute
	require.NoError(t, s.Register(j))
	_, err := s.RunNow("bounded")
	require.NoError(t, err)
	assert.True(t, deadline)
}

type scannerFunc func(ctx context.Context, req engine.ScanRequest) (*engine.ScanResponse, error)

func (f scannerFunc) Scan(ctx context.Context, req engine.ScanRequest) (*engine.ScanResponse, error) {
	return f(ctx, req)
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	sc := &fakeScanner{}
	s := New(context.Background(), sc, WithLocation(time.UTC))
	j := job("tick")
	j.Cron = "@every 1s"
	require.NoError(t, s.Register(j))

	s.Start()
	assert.Eventually(t, func() bool { return sc.count() >= 1 }, 3*time.Second, 20*time.Millisecond)
	s.Stop()
}

func TestRunAll(t *testing.T) {
	sc := &fakeScanner{}
	s := New(context.Background(), sc)
	require.NoError(t, s.Register(job("a"), job("b"), job("c")))
	s.RunAll()
	assert.Equal(t, 3, sc.count())
}

func TestScanAlert_AllExcluded(t *testing.T) {
	a := ScanAlert("j", &engine.ScanResponse{Scanned: 1, Excluded: []engine.Excluded{{Instrument: "X"}}})
	assert.Equal(t, notification.AlertWarning, a.Level)
	assert.Empty(t, a.Instruments)
}
