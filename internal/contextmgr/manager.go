// Package contextmgr enforces the bounded context window: every active tool
// or layer costs weight, the sum of weights never exceeds the configured
// maximum, and eviction makes room by strategy when it would. Items are
// tracked by id only; eviction drops the view, never the underlying tool.
package contextmgr

import (
	"fmt"
	"sort"
	"sync"
	"time"

	rcerrors "roughcut/internal/errors"
	"roughcut/internal/logging"
)

// ItemType distinguishes what a context entry represents.
type ItemType string

const (
	ItemTool  ItemType = "tool"
	ItemLayer ItemType = "layer"
)

// Pressure grades current utilization.
type Pressure string

const (
	PressureLow      Pressure = "low"
	PressureMedium   Pressure = "medium"
	PressureHigh     Pressure = "high"
	PressureCritical Pressure = "critical"
)

// Strategy selects the eviction ordering.
type Strategy string

const (
	StrategyLRU      Strategy = "lru"
	StrategyLFU      Strategy = "lfu"
	StrategyPriority Strategy = "priority"
	StrategySmart    Strategy = "smart"
)

// ParseStrategy maps a config string to a Strategy, defaulting to smart.
func ParseStrategy(s string) Strategy {
	switch Strategy(s) {
	case StrategyLRU, StrategyLFU, StrategyPriority, StrategySmart:
		return Strategy(s)
	default:
		return StrategySmart
	}
}

// Item is one tracked context entry.
type Item struct {
	ID         string    `json:"id"`
	Type       ItemType  `json:"type"`
	Weight     int       `json:"weight"`
	Priority   int       `json:"priority"` // lower is more important
	Required   bool      `json:"required"`
	AddedAt    time.Time `json:"addedAt"`
	LastUsed   time.Time `json:"lastUsed"`
	UsageCount int       `json:"usageCount"`
}

// Event is delivered to observers on pressure transitions and optimizations.
type Event struct {
	Type        string   `json:"type"` // pressureChange | optimized
	Pressure    Pressure `json:"pressure"`
	Evicted     []string `json:"evicted,omitempty"`
	FreedWeight int      `json:"freedWeight,omitempty"`
}

// Observer receives manager events. Called outside the manager lock.
type Observer func(Event)

// OptimizeResult summarizes one eviction round.
type OptimizeResult struct {
	Evicted      []string `json:"evicted"`
	FreedWeight  int      `json:"freedWeight"`
	WeightBefore int      `json:"weightBefore"`
	WeightAfter  int      `json:"weightAfter"`
}

// Statistics is the statistics() snapshot.
type Statistics struct {
	TotalWeight   int              `json:"totalWeight"`
	MaxWeight     int              `json:"maxWeight"`
	Utilization   float64          `json:"utilization"`
	ItemCount     int              `json:"itemCount"`
	RequiredCount int              `json:"requiredCount"`
	Pressure      Pressure         `json:"pressure"`
	ByType        map[ItemType]int `json:"byType"`
}

// Options configure the manager; zero values take defaults.
type Options struct {
	MaxWeight     int
	WarningRatio  float64
	CriticalRatio float64
	AutoOptimize  bool
	Strategy      Strategy
	MinRetention  time.Duration
}

const (
	// DefaultMaxWeight bounds the context window.
	DefaultMaxWeight = 10000
	// optimizeTargetRatio is the post-optimization utilization goal.
	optimizeTargetRatio = 0.7
	// DefaultMinRetention shields freshly added items from eviction.
	DefaultMinRetention = 60 * time.Second
)

// Manager is the bounded context window. All methods are safe for
// concurrent use.
type Manager struct {
	opts   Options
	logger logging.Logger
	now    func() time.Time

	mu        sync.Mutex
	items     map[string]*Item
	total     int
	pressure  Pressure
	observers []Observer
}

// New creates a manager.
func New(logger logging.Logger, opts Options) *Manager {
	if opts.MaxWeight <= 0 {
		opts.MaxWeight = DefaultMaxWeight
	}
	if opts.WarningRatio <= 0 {
		opts.WarningRatio = 0.75
	}
	if opts.CriticalRatio <= 0 {
		opts.CriticalRatio = 0.9
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategySmart
	}
	if opts.MinRetention <= 0 {
		opts.MinRetention = DefaultMinRetention
	}
	return &Manager{
		opts:     opts,
		logger:   logging.OrNop(logger),
		now:      time.Now,
		items:    make(map[string]*Item),
		pressure: PressureLow,
	}
}

// Subscribe registers an observer for pressure and optimization events.
func (m *Manager) Subscribe(fn Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Add admits an item, evicting by strategy if it would overflow the window.
// Re-adding an existing id updates its weight and priority in place. When the
// item cannot fit even after eviction (required items pin the weight), Add
// fails and reports how much weight the caller must release.
func (m *Manager) Add(id string, typ ItemType, weight, priority int, required bool) error {
	if weight < 0 {
		return fmt.Errorf("negative weight for %s", id)
	}

	m.mu.Lock()
	now := m.now()

	if existing, ok := m.items[id]; ok {
		m.total += weight - existing.Weight
		existing.Weight = weight
		existing.Priority = priority
		existing.Required = required
		events := m.settleLocked()
		m.mu.Unlock()
		m.emit(events)
		return nil
	}

	if m.total+weight > m.opts.MaxWeight {
		freed, evicted := m.evictLocked(m.total+weight-m.opts.MaxWeight, nil)
		if len(evicted) > 0 {
			m.logger.Info("evicted %d item(s) (%d weight) to admit %s", len(evicted), freed, id)
		}
	}
	if m.total+weight > m.opts.MaxWeight {
		shortfall := m.total + weight - m.opts.MaxWeight
		m.mu.Unlock()
		return rcerrors.New(rcerrors.KindToolActivation, "context", "add",
			fmt.Sprintf("context window full: %s needs %d more weight", id, shortfall)).
			WithDetail("requiredReduction", shortfall)
	}

	m.items[id] = &Item{
		ID:       id,
		Type:     typ,
		Weight:   weight,
		Priority: priority,
		Required: required,
		AddedAt:  now,
		LastUsed: now,
	}
	m.total += weight

	events := m.settleLocked()
	if m.opts.AutoOptimize && (m.pressure == PressureHigh || m.pressure == PressureCritical) {
		result := m.optimizeLocked(int(optimizeTargetRatio * float64(m.opts.MaxWeight)))
		if result.FreedWeight > 0 {
			events = append(events, Event{Type: "optimized", Pressure: m.pressureLocked(), Evicted: result.Evicted, FreedWeight: result.FreedWeight})
			events = append(events, m.settleLocked()...)
		}
	}
	m.mu.Unlock()
	m.emit(events)
	return nil
}

// Remove drops an item; reports whether it existed.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	item, ok := m.items[id]
	if ok {
		delete(m.items, id)
		m.total -= item.Weight
	}
	events := m.settleLocked()
	m.mu.Unlock()
	m.emit(events)
	return ok
}

// MarkUsed refreshes recency and bumps the usage counter.
func (m *Manager) MarkUsed(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[id]; ok {
		item.LastUsed = m.now()
		item.UsageCount++
	}
}

// Pressure reports the current utilization grade.
func (m *Manager) Pressure() Pressure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pressureLocked()
}

// CanAdd reports whether weight fits without any eviction.
func (m *Manager) CanAdd(weight int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total+weight <= m.opts.MaxWeight
}

// RequiredReduction returns the weight that must be freed before an item of
// the given weight fits; zero when it already fits.
func (m *Manager) RequiredReduction(weight int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if over := m.total + weight - m.opts.MaxWeight; over > 0 {
		return over
	}
	return 0
}

// Optimize runs one eviction round down to target weight (default 0.7·max).
func (m *Manager) Optimize(target int) OptimizeResult {
	m.mu.Lock()
	if target <= 0 {
		target = int(optimizeTargetRatio * float64(m.opts.MaxWeight))
	}
	result := m.optimizeLocked(target)
	events := m.settleLocked()
	if result.FreedWeight > 0 {
		events = append(events, Event{Type: "optimized", Pressure: m.pressureLocked(), Evicted: result.Evicted, FreedWeight: result.FreedWeight})
	}
	m.mu.Unlock()
	m.emit(events)
	return result
}

// EvictionPlan selects items (by the Smart ordering) whose removal frees at
// least needed weight, without removing them. The second return is the weight
// the plan frees; ok is false when even evicting every eligible item falls
// short.
func (m *Manager) EvictionPlan(needed int) (ids []string, freed int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.candidatesLocked(StrategySmart) {
		if freed >= needed {
			break
		}
		ids = append(ids, item.ID)
		freed += item.Weight
	}
	return ids, freed, freed >= needed
}

// Statistics returns a point-in-time snapshot.
func (m *Manager) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	byType := make(map[ItemType]int)
	required := 0
	for _, item := range m.items {
		byType[item.Type]++
		if item.Required {
			required++
		}
	}
	return Statistics{
		TotalWeight:   m.total,
		MaxWeight:     m.opts.MaxWeight,
		Utilization:   float64(m.total) / float64(m.opts.MaxWeight),
		ItemCount:     len(m.items),
		RequiredCount: required,
		Pressure:      m.pressureLocked(),
		ByType:        byType,
	}
}

// Items returns copies of all tracked items, id-sorted.
func (m *Manager) Items() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Item, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TotalWeight returns the current sum of weights.
func (m *Manager) TotalWeight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

func (m *Manager) pressureLocked() Pressure {
	ratio := float64(m.total) / float64(m.opts.MaxWeight)
	switch {
	case ratio >= m.opts.CriticalRatio:
		return PressureCritical
	case ratio >= m.opts.WarningRatio:
		return PressureHigh
	case ratio >= 0.5:
		return PressureMedium
	default:
		return PressureLow
	}
}

// settleLocked recomputes pressure and returns a change event when it moved.
func (m *Manager) settleLocked() []Event {
	current := m.pressureLocked()
	if current == m.pressure {
		return nil
	}
	m.logger.Info("context pressure %s -> %s (%d/%d)", m.pressure, current, m.total, m.opts.MaxWeight)
	m.pressure = current
	return []Event{{Type: "pressureChange", Pressure: current}}
}

func (m *Manager) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	m.mu.Lock()
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()
	for _, event := range events {
		for _, fn := range observers {
			fn(event)
		}
	}
}

func (m *Manager) optimizeLocked(target int) OptimizeResult {
	result := OptimizeResult{WeightBefore: m.total}
	if m.total > target {
		freed, evicted := m.evictLocked(m.total-target, &m.opts.Strategy)
		result.FreedWeight = freed
		result.Evicted = evicted
	}
	result.WeightAfter = m.total
	return result
}

// evictLocked removes items in strategy order until needed weight is freed
// or candidates run out. Required and freshly added items are immune.
func (m *Manager) evictLocked(needed int, strategy *Strategy) (int, []string) {
	chosen := m.opts.Strategy
	if strategy != nil {
		chosen = *strategy
	}
	freed := 0
	var evicted []string
	for _, item := range m.candidatesLocked(chosen) {
		if freed >= needed {
			break
		}
		delete(m.items, item.ID)
		m.total -= item.Weight
		freed += item.Weight
		evicted = append(evicted, item.ID)
		m.logger.Debug("evicted %s (weight %d, strategy %s)", item.ID, item.Weight, chosen)
	}
	return freed, evicted
}

// candidatesLocked returns evictable items ordered most-evictable first.
func (m *Manager) candidatesLocked(strategy Strategy) []*Item {
	now := m.now()
	var out []*Item
	for _, item := range m.items {
		if item.Required || now.Sub(item.AddedAt) < m.opts.MinRetention {
			continue
		}
		out = append(out, item)
	}

	switch strategy {
	case StrategyLRU:
		sort.Slice(out, func(i, j int) bool { return out[i].LastUsed.Before(out[j].LastUsed) })
	case StrategyLFU:
		sort.Slice(out, func(i, j int) bool { return out[i].UsageCount < out[j].UsageCount })
	case StrategyPriority:
		sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	default:
		scores := make(map[string]float64, len(out))
		for _, item := range out {
			scores[item.ID] = m.smartScore(item, now)
		}
		sort.Slice(out, func(i, j int) bool { return scores[out[i].ID] > scores[out[j].ID] })
	}
	return out
}

// smartScore weighs age, disuse, low priority, and heft.
func (m *Manager) smartScore(item *Item, now time.Time) float64 {
	ageHours := now.Sub(item.LastUsed).Hours()
	return 0.3*ageHours +
		0.3*(1.0/float64(item.UsageCount+1)) +
		0.2*(float64(10-item.Priority)/10.0) +
		0.2*(float64(item.Weight)/float64(m.opts.MaxWeight))
}
