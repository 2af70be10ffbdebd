package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/access-cli/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// SnapshotObserver receives every collected snapshot. *Metrics implements it.
type SnapshotObserver interface {
	ObserveSnapshot(snap *RunSnapshot)
}

// Checker periodically snapshots run health, publishes it to an optional
// observer and alerts when thresholds are breached.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	observer  SnapshotObserver
	cfg       config.MonitoringConfig
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithSnapshotObserver publishes each snapshot to o.
func WithSnapshotObserver(o SnapshotObserver) CheckerOption {
	return func(c *Checker) { c.observer = o }
}

// NewChecker creates a background health checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, opts ...CheckerOption) *Checker {
	c := &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run checks once immediately and then on every interval until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting run health checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Bool("alerts", c.cfg.WebhookURL != ""),
	)

	if ctx.Err() == nil {
		c.check(ctx, log)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("run health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect run snapshot", zap.Error(err))
		return
	}
	if c.observer != nil {
		c.observer.ObserveSnapshot(snap)
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered", zap.Int("runs", snap.RunsTotal))
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
}
