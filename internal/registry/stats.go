package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"roughcut/internal/logging"
)

const (
	statsFileName = ".tool-usage-stats.json"
	statsDebounce = time.Second
	statsFileMode = 0o644
)

// usageStats is the per-tool monotonic call counter with debounced JSON
// persistence. A corrupt stats file resets to empty; usage history is an
// optimization, not state the broker depends on.
type usageStats struct {
	path   string
	logger logging.Logger

	mu     sync.Mutex
	counts map[string]int
	timer  *time.Timer
	closed bool
}

func newUsageStats(dir string, logger logging.Logger) *usageStats {
	s := &usageStats{
		path:   filepath.Join(dir, statsFileName),
		logger: logging.OrNop(logger),
		counts: make(map[string]int),
	}
	s.load()
	return s
}

func (s *usageStats) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("usage stats unreadable, starting empty: %v", err)
		}
		return
	}
	var counts map[string]int
	if err := json.Unmarshal(data, &counts); err != nil {
		s.logger.Warn("usage stats corrupt, resetting: %v", err)
		return
	}
	s.counts = counts
}

func (s *usageStats) record(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[name]++
	s.scheduleFlushLocked()
	return s.counts[name]
}

func (s *usageStats) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[name]
}

func (s *usageStats) snapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counts))
	for name, count := range s.counts {
		out[name] = count
	}
	return out
}

func (s *usageStats) scheduleFlushLocked() {
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(statsDebounce, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		if err := s.flushLocked(); err != nil {
			s.logger.Error("usage stats flush failed: %v", err)
		}
	})
}

func (s *usageStats) flushLocked() error {
	data, err := json.MarshalIndent(s.counts, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, statsFileMode); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *usageStats) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	return s.flushLocked()
}
