// Package checkpoint persists partial transform state so interrupted
// operations can resume exactly where they stopped. The store is a bounded
// JSON-backed map keyed by operation id: writes are debounced, removals flush
// immediately, and entries expire after a retention window.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"roughcut/internal/async"
	"roughcut/internal/logging"
)

// Stage names the pipeline stages in their mandatory order.
type Stage string

const (
	StageBackup        Stage = "backup"
	StageJSXCleaning   Stage = "jsx_cleaning"
	StageJSXValidation Stage = "jsx_validation"
	StageJSXExport     Stage = "jsx_export"
	StageFileWriting   Stage = "file_writing"
	StageCompleted     Stage = "completed"
)

// stageOrder enforces monotonic progression.
var stageOrder = map[Stage]int{
	StageBackup:        0,
	StageJSXCleaning:   1,
	StageJSXValidation: 2,
	StageJSXExport:     3,
	StageFileWriting:   4,
	StageCompleted:     5,
}

// Before reports whether s precedes other in the stage ordering.
func (s Stage) Before(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}

// Checkpoint is the persisted partial state of one transform operation.
type Checkpoint struct {
	OperationID string   `json:"operationId"`
	ProjectName string   `json:"projectName"`
	Stage       Stage    `json:"stage"`
	Progress    float64  `json:"progress"` // 0..100
	Original    string   `json:"original"`
	Output      string   `json:"output"`
	ChunkIndex  int      `json:"chunkIndex"`
	TotalChunks int      `json:"totalChunks"`
	Shards      []string `json:"shards,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

const (
	// DefaultCapacity bounds the number of retained checkpoints.
	DefaultCapacity = 50
	// DefaultRetention is how long a checkpoint survives without completing.
	DefaultRetention = 24 * time.Hour

	writeDebounce = time.Second
	fileName      = ".mcp-checkpoints.json"
)

// Store is the durable checkpoint map. All mutations are mutually exclusive;
// reads return copies.
type Store struct {
	path      string
	retention time.Duration
	logger    logging.Logger

	mu      sync.Mutex
	cache   *lru.Cache[string, *Checkpoint]
	timer   *time.Timer
	closed  bool
}

// Options tune the store; zero values take defaults.
type Options struct {
	Capacity  int
	Retention time.Duration
}

// NewStore opens (or creates) the checkpoint file under dir and purges
// expired entries.
func NewStore(dir string, logger logging.Logger, opts Options) (*Store, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}

	cache, err := lru.New[string, *Checkpoint](opts.Capacity)
	if err != nil {
		return nil, fmt.Errorf("create checkpoint cache: %w", err)
	}

	s := &Store{
		path:      filepath.Join(dir, fileName),
		retention: opts.Retention,
		logger:    logging.OrNop(logger),
		cache:     cache,
	}
	if err := s.load(); err != nil {
		// A corrupt checkpoint file loses resumability, not correctness.
		s.logger.Warn("checkpoint file unreadable, starting empty: %v", err)
	}
	s.purgeExpiredLocked()
	return s, nil
}

// Get returns a copy of the checkpoint for id, or nil.
func (s *Store) Get(id string) *Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.cache.Get(id)
	if !ok {
		return nil
	}
	if time.Since(cp.CreatedAt) > s.retention {
		s.cache.Remove(id)
		return nil
	}
	clone := *cp
	clone.Shards = append([]string(nil), cp.Shards...)
	return &clone
}

// Put stores or updates a checkpoint and schedules a debounced flush.
// Stage regressions are rejected: progression is monotonic.
func (s *Store) Put(cp *Checkpoint) error {
	if cp == nil || cp.OperationID == "" {
		return fmt.Errorf("checkpoint requires an operation id")
	}
	if cp.Progress < 0 || cp.Progress > 100 {
		return fmt.Errorf("progress %v out of range [0,100]", cp.Progress)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.cache.Get(cp.OperationID); ok {
		if cp.Stage.Before(existing.Stage) {
			return fmt.Errorf("stage regression %s -> %s for %s", existing.Stage, cp.Stage, cp.OperationID)
		}
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	clone := *cp
	clone.Shards = append([]string(nil), cp.Shards...)
	s.cache.Add(cp.OperationID, &clone)
	s.scheduleFlushLocked()
	return nil
}

// Remove deletes a checkpoint and flushes synchronously: completion must be
// durable before the caller reports success.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(id)
	return s.flushLocked()
}

// List returns the ids of all live checkpoints.
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Keys()
}

// PurgeExpired drops entries older than the retention window; returns the
// number purged.
func (s *Store) PurgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := s.purgeExpiredLocked()
	if purged > 0 {
		_ = s.flushLocked()
	}
	return purged
}

func (s *Store) purgeExpiredLocked() int {
	purged := 0
	for _, id := range s.cache.Keys() {
		if cp, ok := s.cache.Peek(id); ok && time.Since(cp.CreatedAt) > s.retention {
			s.cache.Remove(id)
			purged++
		}
	}
	if purged > 0 {
		s.logger.Info("purged %d expired checkpoint(s)", purged)
	}
	return purged
}

// Close flushes pending state and stops the debounce timer.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	return s.flushLocked()
}

func (s *Store) scheduleFlushLocked() {
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(writeDebounce, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		if err := s.flushLocked(); err != nil {
			s.logger.Error("checkpoint flush failed: %v", err)
		}
	})
}

// flushLocked writes the whole map atomically (temp file + rename).
func (s *Store) flushLocked() error {
	out := make(map[string]*Checkpoint, s.cache.Len())
	for _, id := range s.cache.Keys() {
		if cp, ok := s.cache.Peek(id); ok {
			out[id] = cp
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoints: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoints: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var stored map[string]*Checkpoint
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	// Oldest first so LRU recency reflects age.
	ids := make([]string, 0, len(stored))
	for id := range stored {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && stored[ids[j]].UpdatedAt.Before(stored[ids[j-1]].UpdatedAt); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	for _, id := range ids {
		s.cache.Add(id, stored[id])
	}
	return nil
}

// StartJanitor purges expired entries periodically until stop is closed.
func (s *Store) StartJanitor(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = time.Hour
	}
	async.Go(s.logger, "checkpoint.janitor", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.PurgeExpired()
			}
		}
	})
}
