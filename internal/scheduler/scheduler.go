// Package scheduler refreshes pool statistics on a cron schedule.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"dextra-ledger/internal/ledger"
	"dextra-ledger/internal/observability"
)

// DefaultSchedule runs the refresh once a minute.
const DefaultSchedule = "@every 1m"

// StatsSource computes pool statistics.
type StatsSource interface {
	PoolStats(ctx context.Context) ([]ledger.PoolStats, error)
}

// Scheduler runs the stats refresh job.
type Scheduler struct {
	cron    *cron.Cron
	source  StatsSource
	metrics *observability.Metrics
	logger  logrus.FieldLogger
	timeout time.Duration

	mu   sync.RWMutex
	last []ledger.PoolStats
}

// New creates a Scheduler. Overlapping runs are skipped and panics recovered.
func New(source StatsSource, metrics *observability.Metrics, logger logrus.FieldLogger) *Scheduler {
	logger = logger.WithField("component", "scheduler")
	cl := cronLogger{logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		source:  source,
		metrics: metrics,
		logger:  logger,
		timeout: 30 * time.Second,
	}
}

// Start registers the refresh job at spec and starts the cron loop.
func (s *Scheduler) Start(spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	if _, err := s.cron.AddFunc(spec, s.refresh); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.WithField("schedule", spec).Info("stats scheduler started")
	return nil
}

// Stop stops the cron loop. The returned context is done when running jobs finish.
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	s.logger.Info("stats scheduler stopped")
	return ctx
}

// RunNow refreshes the statistics immediately.
func (s *Scheduler) RunNow(ctx context.Context) error {
	stats, err := s.source.PoolStats(ctx)
	if err != nil {
		return err
	}
	for _, st := range stats {
		s.metrics.UpdatePoolStats(st.PoolID, st.TotalStaked, st.PendingReward, st.Users, st.At)
	}

	s.mu.Lock()
	s.last = stats
	s.mu.Unlock()

	s.logger.WithField("pools", len(stats)).Debug("pool stats refreshed")
	return nil
}

// Last returns the statistics of the most recent successful refresh.
func (s *Scheduler) Last() []ledger.PoolStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.PoolStats, len(s.last))
	copy(out, s.last)
	return out
}

func (s *Scheduler) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.RunNow(ctx); err != nil {
		s.logger.WithError(err).Warn("pool stats refresh failed")
	}
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	logger logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			f[k] = kv[i+1]
		}
	}
	return f
}
