package gather

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocktest/internal/cache"
	"stocktest/internal/domain"
	"stocktest/internal/store"
	"stocktest/internal/util"
)

// fakeProvider serves weekday bars, failing on request.
type fakeProvider struct {
	mu        sync.Mutex
	calls     map[string]int
	transient map[string]int // remaining transient failures
	permanent map[string]bool
	delay     time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		calls:     make(map[string]int),
		transient: make(map[string]int),
		permanent: make(map[string]bool),
	}
}

func (p *fakeProvider) FetchBars(ctx context.Context, ticker string, r domain.DateRange) ([]domain.RawBar, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		m := p.maxInFlight.Load()
		if n <= m || p.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	p.calls[ticker]++
	fail := p.transient[ticker] > 0
	if fail {
		p.transient[ticker]--
	}
	perm := p.permanent[ticker]
	p.mu.Unlock()

	if perm {
		return nil, &domain.ProviderError{Ticker: ticker, Cause: errors.New("invalid symbol")}
	}
	if fail {
		return nil, &domain.ProviderError{Ticker: ticker, Transient: true, Cause: errors.New("429 too many requests")}
	}

	var out []domain.RawBar
	for d := r.Start; d <= r.End; d++ {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		out = append(out, domain.RawBar{Timestamp: d.Time(), Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100})
	}
	return out, nil
}

func (p *fakeProvider) Asset(_ context.Context, ticker string) (cache.SecurityInfo, error) {
	return cache.SecurityInfo{Name: ticker + " Inc", AssetType: "us_equity"}, nil
}

func (p *fakeProvider) totalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, n := range p.calls {
		total += n
	}
	return total
}

func instantBackoff(attempts int) util.Backoff {
	return util.Backoff{
		MaxAttempts: attempts,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

var testWindow = domain.DateRange{
	Start: domain.MustParseDay("2024-01-01"),
	End:   domain.MustParseDay("2024-01-31"),
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newTestOrchestrator(t *testing.T, p *fakeProvider, concurrency int) (*Orchestrator, *RetryingClient) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	client := NewRetryingClient(p, instantBackoff(3), nil)
	r := cache.NewRetriever(s, client, cache.WithClock(fixedNow))
	return NewOrchestrator(r, concurrency), client
}

func TestRetryingClientRetriesTransient(t *testing.T) {
	p := newFakeProvider()
	p.transient["AAPL"] = 2
	c := NewRetryingClient(p, instantBackoff(3), nil)

	bars, err := c.Fetch(context.Background(), "AAPL", testWindow)
	require.NoError(t, err)
	assert.Len(t, bars, 23)
	assert.Equal(t, 3, p.calls["AAPL"])
	assert.EqualValues(t, 3, c.Calls())
}

func TestRetryingClientPermanentFailsFast(t *testing.T) {
	p := newFakeProvider()
	p.permanent["ZZZZ"] = true
	c := NewRetryingClient(p, instantBackoff(5), nil)

	_, err := c.Fetch(context.Background(), "ZZZZ", testWindow)
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrRetriesExhausted))
	var pe *domain.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.False(t, pe.Transient)
	assert.Equal(t, 1, p.calls["ZZZZ"])
}

func TestRetryingClientExhausted(t *testing.T) {
	p := newFakeProvider()
	p.transient["AAPL"] = 10
	c := NewRetryingClient(p, instantBackoff(3), nil)

	_, err := c.Fetch(context.Background(), "AAPL", testWindow)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRetriesExhausted)
	assert.True(t, domain.IsTransient(err), "last cause is preserved")
	assert.Equal(t, 3, p.calls["AAPL"])
}

func TestRetryingClientPacesCalls(t *testing.T) {
	p := newFakeProvider()
	c := NewRetryingClient(p, instantBackoff(1), util.NewPacer(20*time.Millisecond))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background(), "SPY", testWindow)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestRetryingClientLookupSecurity(t *testing.T) {
	c := NewRetryingClient(newFakeProvider(), instantBackoff(1), nil)
	info, err := c.LookupSecurity(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL Inc", info.Name)
}

func TestFetchAllBoundsConcurrency(t *testing.T) {
	p := newFakeProvider()
	p.delay = 20 * time.Millisecond
	o, _ := newTestOrchestrator(t, p, 3)

	var tickers []string
	for i := 0; i < 12; i++ {
		tickers = append(tickers, fmt.Sprintf("T%02d", i))
	}
	results, err := o.FetchAll(context.Background(), tickers, testWindow)
	require.NoError(t, err)

	assert.Len(t, results, 12)
	for _, tk := range tickers {
		r, ok := results[tk]
		require.True(t, ok, tk)
		assert.True(t, r.OK(), tk)
	}
	assert.LessOrEqual(t, p.maxInFlight.Load(), int32(3))
	assert.Greater(t, p.maxInFlight.Load(), int32(1))
}

func TestFetchAllIsolatesFailures(t *testing.T) {
	p := newFakeProvider()
	p.permanent["BAD"] = true
	o, _ := newTestOrchestrator(t, p, 2)

	results, err := o.FetchAll(context.Background(), []string{"good1", "BAD", "good2", "GOOD1"}, testWindow)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results["GOOD1"].OK())
	assert.True(t, results["GOOD2"].OK())
	assert.Len(t, results["GOOD2"].Result.Bars, 23)

	bad := results["BAD"]
	assert.False(t, bad.OK())
	assert.Equal(t, cache.OutcomeFetchFailed, bad.Result.Outcome)
}

func TestFetchAllCacheHitsSkipProvider(t *testing.T) {
	p := newFakeProvider()
	o, client := newTestOrchestrator(t, p, 4)
	ctx := context.Background()

	_, err := o.FetchAll(ctx, []string{"AAPL", "MSFT"}, testWindow)
	require.NoError(t, err)
	before := client.Calls()

	results, err := o.FetchAll(ctx, []string{"AAPL", "MSFT"}, testWindow)
	require.NoError(t, err)
	assert.Equal(t, before, client.Calls())
	assert.Equal(t, 0, results["AAPL"].Result.ProviderCalls)
}

func TestFetchAllCancelledRecordsEveryTicker(t *testing.T) {
	p := newFakeProvider()
	o, _ := newTestOrchestrator(t, p, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := o.FetchAll(ctx, []string{"A", "B", "C"}, testWindow)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	assert.Zero(t, p.totalCalls())
}

func TestWarmJobIdempotentPerDay(t *testing.T) {
	p := newFakeProvider()
	o, client := newTestOrchestrator(t, p, 2)
	job := NewWarmJob(o, []string{"AAPL", "MSFT"}, testWindow, t.TempDir())
	job.now = fixedNow

	require.NoError(t, job.Run(context.Background()))
	calls := client.Calls()
	assert.Equal(t, "2025-05-31", job.Status().Day)
	assert.False(t, job.Status().Skipped)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, calls, client.Calls())
	assert.True(t, job.Status().Skipped)
}

func TestWarmJobResumesFailedTickers(t *testing.T) {
	p := newFakeProvider()
	p.permanent["BAD"] = true
	o, _ := newTestOrchestrator(t, p, 2)
	job := NewWarmJob(o, []string{"AAPL", "BAD"}, testWindow, t.TempDir())
	job.now = fixedNow

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, job.Status().Failed)

	p.mu.Lock()
	p.permanent["BAD"] = false
	p.mu.Unlock()

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, p.calls["AAPL"])
	assert.Equal(t, 2, p.calls["BAD"])
}

func TestWarmJobRetriesPartialTickers(t *testing.T) {
	p := newFakeProvider()
	o, _ := newTestOrchestrator(t, p, 2)
	ctx := context.Background()

	mid := domain.DateRange{Start: domain.MustParseDay("2024-01-08"), End: domain.MustParseDay("2024-01-12")}
	_, err := o.retriever.GetPrices(ctx, "PART", mid)
	require.NoError(t, err)

	p.mu.Lock()
	p.permanent["PART"] = true
	p.mu.Unlock()

	job := NewWarmJob(o, []string{"PART"}, testWindow, t.TempDir())
	job.now = fixedNow
	require.Error(t, job.Run(ctx))
	assert.Equal(t, 1, job.Status().Failed)

	p.mu.Lock()
	p.permanent["PART"] = false
	before := p.calls["PART"]
	p.mu.Unlock()

	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 0, job.Status().Failed)
	assert.Greater(t, p.calls["PART"], before)
}
