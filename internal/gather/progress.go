package gather

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	warmedFile        = ".warmed"
	lastCompletedFile = ".last-completed"
)

// progressTracker manages the .warmed and .last-completed files for crash
// recovery and idempotency of warm-up passes.
type progressTracker struct {
	mu     sync.Mutex
	warmed map[string]struct{}
	writer *bufio.Writer
	file   *os.File
	dir    string
}

// newProgressTracker creates a tracker rooted at dir and loads any existing
// .warmed entries.
func newProgressTracker(dir string) (*progressTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating progress dir: %w", err)
	}

	pt := &progressTracker{
		warmed: make(map[string]struct{}),
		dir:    dir,
	}

	path := filepath.Join(dir, warmedFile)
	data, err := os.ReadFile(path)
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			sym := strings.TrimSpace(line)
			if sym != "" {
				pt.warmed[sym] = struct{}{}
			}
		}
	}

	if err := pt.open(); err != nil {
		return nil, err
	}
	return pt, nil
}

func (p *progressTracker) open() error {
	f, err := os.OpenFile(filepath.Join(p.dir, warmedFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", warmedFile, err)
	}
	p.file = f
	p.writer = bufio.NewWriter(f)
	return nil
}

// IsWarmed returns true if the ticker was already warmed in this pass.
func (p *progressTracker) IsWarmed(ticker string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.warmed[ticker]
	return ok
}

// MarkWarmed records tickers as warmed.
func (p *progressTracker) MarkWarmed(tickers []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range tickers {
		if _, ok := p.warmed[t]; ok {
			continue
		}
		p.warmed[t] = struct{}{}
		if _, err := p.writer.WriteString(t + "\n"); err != nil {
			return fmt.Errorf("writing to %s: %w", warmedFile, err)
		}
	}
	return p.writer.Flush()
}

// MarkCompleted writes the given day to .last-completed.
func (p *progressTracker) MarkCompleted(day string) error {
	return os.WriteFile(filepath.Join(p.dir, lastCompletedFile), []byte(day), 0o644)
}

// IsCompleted returns true if .last-completed matches day.
func (p *progressTracker) IsCompleted(day string) bool {
	return p.LastCompleted() == day
}

// LastCompleted returns the day recorded in .last-completed, or "".
func (p *progressTracker) LastCompleted() string {
	data, err := os.ReadFile(filepath.Join(p.dir, lastCompletedFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Reset deletes the .warmed file and clears the in-memory set.
func (p *progressTracker) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file != nil {
		p.file.Close()
	}
	p.warmed = make(map[string]struct{})
	os.Remove(filepath.Join(p.dir, warmedFile))
	return p.open()
}

// Close flushes and closes the .warmed file.
func (p *progressTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		p.writer.Flush()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}
