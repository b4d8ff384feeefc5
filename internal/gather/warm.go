package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stocktest/internal/cache"
	"stocktest/internal/domain"
	"stocktest/internal/util"
)

var _ Gatherer = (*WarmJob)(nil)

// ErrWarmInProgress is returned when a warm-up pass is already running.
var ErrWarmInProgress = errors.New("warm-up already in progress")

// WarmStatus summarises the most recent warm-up pass.
type WarmStatus struct {
	Day      string    `json:"day"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished,omitempty"`
	Tickers  int       `json:"tickers"`
	Failed   int       `json:"failed"`
	Skipped  bool      `json:"skipped"`
	Error    string    `json:"error,omitempty"`
}

// WarmJob fills the cache for a fixed ticker list over a fixed window. A
// pass is idempotent per settled day: once every ticker succeeded the day
// is journalled and later passes return immediately, and a crashed pass
// resumes with the tickers it had not finished.
type WarmJob struct {
	orch     *Orchestrator
	tickers  []string
	window   domain.DateRange
	stateDir string
	now      util.Clock
	log      *slog.Logger

	running sync.Mutex
	mu      sync.Mutex
	status  WarmStatus
}

// NewWarmJob creates a WarmJob journalling progress under stateDir.
func NewWarmJob(o *Orchestrator, tickers []string, window domain.DateRange, stateDir string) *WarmJob {
	return &WarmJob{
		orch:     o,
		tickers:  uniqueTickers(tickers),
		window:   window,
		stateDir: stateDir,
		now:      time.Now,
		log:      slog.Default().With("gatherer", "warm"),
	}
}

// Name returns the gatherer identifier.
func (j *WarmJob) Name() string { return "warm" }

// Status returns the last recorded pass.
func (j *WarmJob) Status() WarmStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *WarmJob) setStatus(s WarmStatus) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

// Run performs one warm-up pass.
func (j *WarmJob) Run(ctx context.Context) error {
	if !j.running.TryLock() {
		return ErrWarmInProgress
	}
	defer j.running.Unlock()
	return j.pass(ctx)
}

// Start begins a pass in the background and returns at once. It returns
// ErrWarmInProgress without starting anything if a pass is running.
func (j *WarmJob) Start(ctx context.Context) error {
	if !j.running.TryLock() {
		return ErrWarmInProgress
	}
	go func() {
		defer j.running.Unlock()
		if err := j.pass(ctx); err != nil {
			j.log.Warn("warm-up pass failed", "error", err)
		}
	}()
	return nil
}

func (j *WarmJob) pass(ctx context.Context) error {
	settled := util.SettledDay(j.now())
	key := settled.String()
	status := WarmStatus{Day: key, Started: j.now(), Tickers: len(j.tickers)}

	err := j.run(ctx, settled, &status)
	status.Finished = j.now()
	if err != nil {
		status.Error = err.Error()
	}
	j.setStatus(status)
	return err
}

func (j *WarmJob) run(ctx context.Context, settled domain.Day, status *WarmStatus) error {
	key := settled.String()

	tracker, err := newProgressTracker(j.stateDir)
	if err != nil {
		return fmt.Errorf("creating progress tracker: %w", err)
	}
	defer tracker.Close()

	if tracker.IsCompleted(key) {
		j.log.Info("already completed", "day", key)
		status.Skipped = true
		return nil
	}
	if last := tracker.LastCompleted(); last != "" && last != key {
		// New day, so the partial list from an earlier day is stale.
		if err := tracker.Reset(); err != nil {
			return fmt.Errorf("resetting tracker: %w", err)
		}
	}

	window, ok := j.window.Clamp(domain.DateRange{Start: j.window.Start, End: settled})
	if !ok {
		j.log.Info("window not settled yet", "window", j.window.String(), "settled", key)
		return tracker.MarkCompleted(key)
	}

	var remaining []string
	for _, t := range j.tickers {
		if !tracker.IsWarmed(t) {
			remaining = append(remaining, t)
		}
	}
	j.log.Info("starting warm-up", "day", key, "total", len(j.tickers), "remaining", len(remaining), "window", window.String())

	results, fetchErr := j.orch.FetchAll(ctx, remaining, window)

	var done []string
	for t, r := range results {
		// Confirmed no-data counts as done; nothing more will appear. A
		// partial window is retried on the next pass.
		if r.OK() && r.Result.Outcome == cache.OutcomeComplete || errors.Is(r.Err, domain.ErrNoDataConfirmed) {
			done = append(done, t)
			continue
		}
		status.Failed++
	}
	if err := tracker.MarkWarmed(done); err != nil {
		return fmt.Errorf("marking warmed: %w", err)
	}
	if fetchErr != nil {
		return fetchErr
	}
	if status.Failed > 0 {
		return fmt.Errorf("warm-up: %d of %d tickers failed", status.Failed, len(remaining))
	}

	if err := tracker.MarkCompleted(key); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}
	j.log.Info("complete", "day", key, "warmed", len(done))
	return nil
}
