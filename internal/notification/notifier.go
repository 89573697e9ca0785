// Package notification delivers scan alerts to external channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"analytics-enginev1/internal/metrics"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is one notification. Job and Instruments identify the scheduled
// scan and its matches when the alert comes from a scan.
type Alert struct {
	Level       AlertLevel `json:"level"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Job         string     `json:"job,omitempty"`
	RunID       string     `json:"run_id,omitempty"`
	Instruments []string   `json:"instruments,omitempty"`
	Time        time.Time  `json:"ts"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier. A nil logger uses slog.Default.
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{log: l}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.Info("alert", "level", string(alert.Level), "title", alert.Title, "message", alert.Message,
		"job", alert.Job, "run_id", alert.RunID, "instruments", alert.Instruments)
	return nil
}

// Named pairs a notifier with the label used in metrics.
type Named struct {
	Name string
	Notifier
}

// Fanout sends every alert to all notifiers. One failing backend does not
// stop delivery to the others; their errors are joined.
type Fanout struct {
	targets []Named
	metrics *metrics.Metrics
}

// NewFanout returns a fan-out notifier over targets.
func NewFanout(m *metrics.Metrics, targets ...Named) *Fanout {
	return &Fanout{targets: targets, metrics: m}
}

// Len returns the number of targets.
func (f *Fanout) Len() int { return len(f.targets) }

func (f *Fanout) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, t := range f.targets {
		outcome := "ok"
		if err := t.Send(ctx, alert); err != nil {
			outcome = "error"
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
		}
		if f.metrics != nil {
			f.metrics.AlertsDelivered.WithLabelValues(t.Name, outcome).Inc()
		}
	}
	return errors.Join(errs...)
}
