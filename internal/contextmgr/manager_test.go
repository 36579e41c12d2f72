package contextmgr

import (
	"errors"
	"testing"
	"time"

	rcerrors "roughcut/internal/errors"
)

// aged rewinds an item's clock so MinRetention does not shield it.
func aged(m *Manager, id string, by time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[id]; ok {
		item.AddedAt = item.AddedAt.Add(-by)
		item.LastUsed = item.LastUsed.Add(-by)
	}
}

func TestAddAndPressureTransitions(t *testing.T) {
	m := New(nil, Options{MaxWeight: 100})

	var events []Event
	m.Subscribe(func(e Event) { events = append(events, e) })

	if err := m.Add("a", ItemTool, 40, 5, false); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := m.Pressure(); got != PressureLow {
		t.Fatalf("pressure = %s, want low", got)
	}

	_ = m.Add("b", ItemTool, 20, 5, false) // 60% -> medium
	if got := m.Pressure(); got != PressureMedium {
		t.Fatalf("pressure = %s, want medium", got)
	}
	_ = m.Add("c", ItemTool, 20, 5, false) // 80% -> high
	if got := m.Pressure(); got != PressureHigh {
		t.Fatalf("pressure = %s, want high", got)
	}
	_ = m.Add("d", ItemTool, 12, 5, false) // 92% -> critical
	if got := m.Pressure(); got != PressureCritical {
		t.Fatalf("pressure = %s, want critical", got)
	}

	if len(events) != 3 {
		t.Fatalf("pressure events = %d, want 3", len(events))
	}
	for _, e := range events {
		if e.Type != "pressureChange" {
			t.Fatalf("unexpected event type %s", e.Type)
		}
	}
}

func TestAddEvictsToFit(t *testing.T) {
	m := New(nil, Options{MaxWeight: 100, Strategy: StrategyLRU})

	_ = m.Add("old", ItemTool, 60, 5, false)
	_ = m.Add("keep", ItemTool, 30, 5, false)
	aged(m, "old", time.Hour)
	aged(m, "keep", time.Minute)
	m.MarkUsed("keep")

	if err := m.Add("new", ItemTool, 50, 5, false); err != nil {
		t.Fatalf("Add should evict to fit: %v", err)
	}
	items := m.Items()
	for _, item := range items {
		if item.ID == "old" {
			t.Fatal("least recently used item survived")
		}
	}
	if m.TotalWeight() != 80 {
		t.Fatalf("total = %d, want 80", m.TotalWeight())
	}
}

func TestRequiredItemsAreImmune(t *testing.T) {
	m := New(nil, Options{MaxWeight: 100})

	_ = m.Add("pinned", ItemTool, 70, 1, true)
	aged(m, "pinned", time.Hour)

	err := m.Add("big", ItemTool, 50, 5, false)
	if err == nil {
		t.Fatal("expected a failure: only a required item could make room")
	}
	var be *rcerrors.BrokerError
	if !errors.As(err, &be) || be.Kind != rcerrors.KindToolActivation {
		t.Fatalf("wrong error kind: %v", err)
	}
	if got := be.Details["requiredReduction"]; got != 20 {
		t.Fatalf("requiredReduction = %v, want 20", got)
	}
}

func TestMinRetentionShieldsFreshItems(t *testing.T) {
	m := New(nil, Options{MaxWeight: 100, MinRetention: time.Hour})

	_ = m.Add("fresh", ItemTool, 70, 9, false)
	if err := m.Add("next", ItemTool, 50, 1, false); err == nil {
		t.Fatal("fresh item was evicted inside its retention window")
	}
}

func TestReAddUpdatesInPlace(t *testing.T) {
	m := New(nil, Options{MaxWeight: 100})

	_ = m.Add("a", ItemTool, 40, 5, false)
	_ = m.Add("a", ItemTool, 10, 2, true)

	items := m.Items()
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0].Weight != 10 || items[0].Priority != 2 || !items[0].Required {
		t.Fatalf("in-place update failed: %+v", items[0])
	}
	if m.TotalWeight() != 10 {
		t.Fatalf("total = %d, want 10", m.TotalWeight())
	}
}

func TestSmartStrategyPrefersStaleLowPriorityItems(t *testing.T) {
	m := New(nil, Options{MaxWeight: 100, Strategy: StrategySmart})

	_ = m.Add("busy", ItemTool, 30, 1, false)
	_ = m.Add("idle", ItemTool, 30, 9, false)
	aged(m, "busy", 2*time.Hour)
	aged(m, "idle", 2*time.Hour)
	for i := 0; i < 20; i++ {
		m.MarkUsed("busy")
	}

	result := m.Optimize(40)
	if len(result.Evicted) != 1 || result.Evicted[0] != "idle" {
		t.Fatalf("evicted %v, want [idle]", result.Evicted)
	}
}

func TestOptimizeReportsWeights(t *testing.T) {
	m := New(nil, Options{MaxWeight: 100})
	_ = m.Add("a", ItemTool, 50, 5, false)
	_ = m.Add("b", ItemTool, 40, 5, false)
	aged(m, "a", time.Hour)
	aged(m, "b", time.Hour)

	result := m.Optimize(0) // default target 0.7·max
	if result.WeightBefore != 90 {
		t.Fatalf("WeightBefore = %d, want 90", result.WeightBefore)
	}
	if result.WeightAfter > 70 {
		t.Fatalf("WeightAfter = %d, want <= 70", result.WeightAfter)
	}
	if result.FreedWeight != result.WeightBefore-result.WeightAfter {
		t.Fatalf("inconsistent result: %+v", result)
	}
}

func TestEvictionPlanIsNonDestructive(t *testing.T) {
	m := New(nil, Options{MaxWeight: 100})
	_ = m.Add("a", ItemTool, 30, 5, false)
	_ = m.Add("b", ItemLayer, 30, 5, false)
	aged(m, "a", time.Hour)
	aged(m, "b", time.Hour)

	ids, freed, ok := m.EvictionPlan(40)
	if !ok || freed < 40 {
		t.Fatalf("plan failed: ids=%v freed=%d ok=%v", ids, freed, ok)
	}
	if len(m.Items()) != 2 {
		t.Fatal("planning must not evict")
	}

	_, _, ok = m.EvictionPlan(500)
	if ok {
		t.Fatal("plan cannot free more than the evictable weight")
	}
}

func TestAutoOptimizeKicksInAtHighPressure(t *testing.T) {
	m := New(nil, Options{MaxWeight: 100, AutoOptimize: true, MinRetention: time.Nanosecond})

	var optimized bool
	m.Subscribe(func(e Event) {
		if e.Type == "optimized" {
			optimized = true
		}
	})

	_ = m.Add("a", ItemTool, 40, 5, false)
	_ = m.Add("b", ItemTool, 40, 5, false)
	time.Sleep(time.Millisecond)
	_ = m.Add("c", ItemTool, 10, 5, false) // 90% -> critical, auto round fires

	if !optimized {
		t.Fatal("no optimized event at high pressure")
	}
	if m.TotalWeight() > 70 {
		t.Fatalf("total = %d, want <= 70 after auto optimization", m.TotalWeight())
	}
}

func TestStatisticsSnapshot(t *testing.T) {
	m := New(nil, Options{MaxWeight: 200})
	_ = m.Add("tool-a", ItemTool, 50, 5, true)
	_ = m.Add("layer-b", ItemLayer, 50, 5, false)

	stats := m.Statistics()
	if stats.TotalWeight != 100 || stats.ItemCount != 2 || stats.RequiredCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ByType[ItemTool] != 1 || stats.ByType[ItemLayer] != 1 {
		t.Fatalf("ByType wrong: %+v", stats.ByType)
	}
	if stats.Utilization != 0.5 {
		t.Fatalf("utilization = %v, want 0.5", stats.Utilization)
	}
}

func TestParseStrategy(t *testing.T) {
	if got := ParseStrategy("lfu"); got != StrategyLFU {
		t.Fatalf("ParseStrategy(lfu) = %s", got)
	}
	if got := ParseStrategy("bogus"); got != StrategySmart {
		t.Fatalf("ParseStrategy default = %s, want smart", got)
	}
}
