package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultFlushSchedule flushes dirty sequences every minute.
	DefaultFlushSchedule = "* * * * *"

	defaultFlushPollInterval = time.Second
)

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// ParseFlushSchedule validates a five-field cron expression. Schedules are
// evaluated in UTC; timezone prefixes are rejected.
func ParseFlushSchedule(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// FlusherConfig configures the background flusher.
type FlusherConfig struct {
	Catalog *Catalog
	// Schedule is a UTC cron expression; DefaultFlushSchedule when empty.
	Schedule     string
	PollInterval time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

// Flusher writes dirty sequences of a PersistScheduled catalog on a cron
// schedule.
type Flusher struct {
	catalog      *Catalog
	schedule     cron.Schedule
	pollInterval time.Duration
	now          func() time.Time
	logger       *slog.Logger

	mu      sync.Mutex
	nextRun time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewFlusher creates a flusher. It does nothing until Start is called.
func NewFlusher(cfg FlusherConfig) (*Flusher, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("flusher catalog is nil")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultFlushSchedule
	}
	schedule, err := ParseFlushSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultFlushPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	f := &Flusher{
		catalog:      cfg.Catalog,
		schedule:     schedule,
		pollInterval: cfg.PollInterval,
		now:          cfg.Now,
		logger:       cfg.Logger,
	}
	f.nextRun = schedule.Next(f.now().UTC())
	return f, nil
}

// NextRun returns the next time the flusher will write.
func (f *Flusher) NextRun() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextRun
}

// Start starts background polling.
func (f *Flusher) Start(ctx context.Context) error {
	if f == nil {
		return errors.New("flusher is nil")
	}
	_ = ctx

	f.mu.Lock()
	if f.cancel != nil {
		f.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	f.cancel = cancel
	f.done = done
	f.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(f.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				_ = f.RunOnce(loopCtx)
			}
		}
	}()

	return nil
}

// Stop stops background polling and flushes once more so no dirty state is
// left behind.
func (f *Flusher) Stop(ctx context.Context) error {
	if f == nil {
		return nil
	}

	f.mu.Lock()
	cancel := f.cancel
	done := f.done
	f.cancel = nil
	f.done = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.catalog.Flush(ctx)
}

// RunOnce flushes the catalog if the schedule is due.
func (f *Flusher) RunOnce(ctx context.Context) error {
	now := f.now().UTC()

	f.mu.Lock()
	if now.Before(f.nextRun) {
		f.mu.Unlock()
		return nil
	}
	f.nextRun = f.schedule.Next(now)
	f.mu.Unlock()

	if err := f.catalog.Flush(ctx); err != nil {
		f.logger.Error("scheduled flush", "error", err)
		return err
	}
	return nil
}
