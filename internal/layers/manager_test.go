package layers

import (
	"testing"

	"roughcut/internal/contextmgr"
	rcerrors "roughcut/internal/errors"
)

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	ctx := contextmgr.New(nil, contextmgr.Options{MaxWeight: 1000})
	return New(ctx, func(tool string) int { return 10 }, nil, opts)
}

func define(t *testing.T, m *Manager, layer Layer) {
	t.Helper()
	if err := m.Define(layer); err != nil {
		t.Fatalf("Define(%s): %v", layer.ID, err)
	}
}

func TestActivateResolvesDependencyClosure(t *testing.T) {
	m := newTestManager(t, Options{AutoResolveDeps: true})
	define(t, m, Layer{ID: "base", Tools: []string{"a"}})
	define(t, m, Layer{ID: "mid", Tools: []string{"b"}, Dependencies: []string{"base"}})
	define(t, m, Layer{ID: "top", Tools: []string{"c"}, Dependencies: []string{"mid"}})

	result, err := m.Activate(ActivateRequest{LayerIDs: []string{"top"}})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	// Dependencies activate before dependents.
	want := []string{"base", "mid", "top"}
	if len(result.Activated) != 3 {
		t.Fatalf("activated %v, want %v", result.Activated, want)
	}
	for i, id := range want {
		if result.Activated[i] != id {
			t.Fatalf("activated %v, want %v", result.Activated, want)
		}
	}
}

func TestActivateWithoutAutoResolveSkipsDependencies(t *testing.T) {
	m := newTestManager(t, Options{})
	define(t, m, Layer{ID: "base"})
	define(t, m, Layer{ID: "top", Dependencies: []string{"base"}})

	result, err := m.Activate(ActivateRequest{LayerIDs: []string{"top"}})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if len(result.Activated) != 1 || result.Activated[0] != "top" {
		t.Fatalf("activated %v, want [top]", result.Activated)
	}
}

func TestExclusiveLayerDisplacesOthers(t *testing.T) {
	m := newTestManager(t, Options{EnforceExcl: true})
	define(t, m, Layer{ID: "shared-a", Exclusivity: ExclusivityShared})
	define(t, m, Layer{ID: "always", Exclusivity: ExclusivityPermanent})
	define(t, m, Layer{ID: "solo", Exclusivity: ExclusivityExclusive})

	if _, err := m.Activate(ActivateRequest{LayerIDs: []string{"shared-a", "always"}}); err != nil {
		t.Fatalf("setup activation: %v", err)
	}

	result, err := m.Activate(ActivateRequest{LayerIDs: []string{"solo"}, RespectExclusivity: true})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if len(result.Deactivated) != 1 || result.Deactivated[0] != "shared-a" {
		t.Fatalf("deactivated %v, want [shared-a]", result.Deactivated)
	}
	// Permanent layers survive exclusivity.
	if layer, _ := m.Get("always"); layer.State != StateActive {
		t.Fatalf("permanent layer state = %s, want active", layer.State)
	}
}

func TestSelectiveLayerKeepsCompatiblePeers(t *testing.T) {
	m := newTestManager(t, Options{EnforceExcl: true})
	define(t, m, Layer{ID: "friend", Exclusivity: ExclusivityShared})
	define(t, m, Layer{ID: "stranger", Exclusivity: ExclusivityShared})
	define(t, m, Layer{ID: "picky", Exclusivity: ExclusivitySelective, Compatible: []string{"friend"}})

	if _, err := m.Activate(ActivateRequest{LayerIDs: []string{"friend", "stranger"}}); err != nil {
		t.Fatalf("setup activation: %v", err)
	}

	result, err := m.Activate(ActivateRequest{LayerIDs: []string{"picky"}, RespectExclusivity: true})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if len(result.Deactivated) != 1 || result.Deactivated[0] != "stranger" {
		t.Fatalf("deactivated %v, want [stranger]", result.Deactivated)
	}
	if layer, _ := m.Get("friend"); layer.State != StateActive {
		t.Fatalf("compatible layer state = %s, want active", layer.State)
	}
}

func TestDeactivateExpandsToDependents(t *testing.T) {
	m := newTestManager(t, Options{AutoResolveDeps: true})
	define(t, m, Layer{ID: "base"})
	define(t, m, Layer{ID: "top", Dependencies: []string{"base"}})

	if _, err := m.Activate(ActivateRequest{LayerIDs: []string{"top"}}); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	result, err := m.Deactivate([]string{"base"})
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if len(result.Deactivated) != 2 {
		t.Fatalf("deactivated %v, want base and top", result.Deactivated)
	}
	if layer, _ := m.Get("top"); layer.State != StateInactive {
		t.Fatalf("dependent state = %s, want inactive", layer.State)
	}
}

func TestDeactivateSkipsPermanentLayers(t *testing.T) {
	m := newTestManager(t, Options{})
	define(t, m, Layer{ID: "always", Exclusivity: ExclusivityPermanent})
	if _, err := m.Activate(ActivateRequest{LayerIDs: []string{"always"}}); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	result, err := m.Deactivate([]string{"always"})
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if len(result.Deactivated) != 0 {
		t.Fatalf("permanent layer deactivated: %v", result.Deactivated)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning about the permanent layer")
	}
}

func TestDefineRejectsCycleInStrictMode(t *testing.T) {
	m := newTestManager(t, Options{StrictCycles: true})
	define(t, m, Layer{ID: "a", Dependencies: []string{"b"}})
	err := m.Define(Layer{ID: "b", Dependencies: []string{"a"}})
	if err == nil {
		t.Fatal("cycle accepted in strict mode")
	}
	if rcerrors.KindOf(err) != rcerrors.KindConfiguration {
		t.Fatalf("wrong error kind: %v", err)
	}
	// The offending definition must not linger.
	if _, ok := m.Get("b"); ok {
		t.Fatal("rejected layer was kept")
	}
}

func TestDefineToleratesCycleInLenientMode(t *testing.T) {
	m := newTestManager(t, Options{})
	define(t, m, Layer{ID: "a", Dependencies: []string{"b"}})
	if err := m.Define(Layer{ID: "b", Dependencies: []string{"a"}}); err != nil {
		t.Fatalf("lenient mode rejected a cycle: %v", err)
	}
}

func TestMaxActiveEnforcedUnlessForced(t *testing.T) {
	m := newTestManager(t, Options{MaxActive: 1})
	define(t, m, Layer{ID: "one"})
	define(t, m, Layer{ID: "two"})

	if _, err := m.Activate(ActivateRequest{LayerIDs: []string{"one"}}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if _, err := m.Activate(ActivateRequest{LayerIDs: []string{"two"}}); err == nil {
		t.Fatal("max-active limit not enforced")
	}
	result, err := m.Activate(ActivateRequest{LayerIDs: []string{"two"}, Force: true})
	if err != nil {
		t.Fatalf("forced activation: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("forced activation carries no warning")
	}
}

func TestActivationChargesContextWindow(t *testing.T) {
	ctx := contextmgr.New(nil, contextmgr.Options{MaxWeight: 1000})
	m := New(ctx, func(string) int { return 25 }, nil, Options{})
	define(t, m, Layer{ID: "pair", Tools: []string{"x", "y"}})

	if _, err := m.Activate(ActivateRequest{LayerIDs: []string{"pair"}}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if got := ctx.TotalWeight(); got != 50 {
		t.Fatalf("context weight = %d, want 50", got)
	}

	if _, err := m.Deactivate([]string{"pair"}); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if got := ctx.TotalWeight(); got != 0 {
		t.Fatalf("context weight = %d after deactivation, want 0", got)
	}
}

func TestTransitionsObservableInOrder(t *testing.T) {
	m := newTestManager(t, Options{})
	define(t, m, Layer{ID: "obs"})

	var states []State
	m.Observe(func(layerID string, from, to State) { states = append(states, to) })

	if _, err := m.Activate(ActivateRequest{LayerIDs: []string{"obs"}}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if len(states) != 2 || states[0] != StateActivating || states[1] != StateActive {
		t.Fatalf("transitions %v, want [activating active]", states)
	}
}

func TestRecommendScoresNameDescriptionAndTools(t *testing.T) {
	m := newTestManager(t, Options{})
	define(t, m, Layer{
		ID:          "video-essentials",
		Name:        "Video Essentials",
		Description: "create and transform compositions",
		Tools:       []string{"create-complete-video"},
	})
	define(t, m, Layer{
		ID:          "housekeeping",
		Name:        "Housekeeping",
		Description: "prune backups and purge checkpoints",
	})

	recs := m.Recommend("I want to create a video", 3)
	if len(recs) == 0 {
		t.Fatal("no recommendations")
	}
	if recs[0].LayerID != "video-essentials" {
		t.Fatalf("top recommendation = %s, want video-essentials", recs[0].LayerID)
	}
	if recs[0].Confidence <= 0 || recs[0].Confidence > 1 {
		t.Fatalf("confidence out of range: %v", recs[0].Confidence)
	}
	if len(recs[0].RelevantTools) == 0 {
		t.Fatal("matching tool not reported")
	}
}

func TestHistoryRecordsTransitions(t *testing.T) {
	m := newTestManager(t, Options{TrackHistory: true})
	define(t, m, Layer{ID: "h"})

	_, _ = m.Activate(ActivateRequest{LayerIDs: []string{"h"}, RequestedBy: "test", Reason: "setup"})
	_, _ = m.Deactivate([]string{"h"})

	history := m.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Action != "activate" || history[1].Action != "deactivate" {
		t.Fatalf("history order wrong: %+v", history)
	}
	if history[0].RequestedBy != "test" {
		t.Fatalf("requestedBy not recorded: %+v", history[0])
	}
}

func TestActiveSortsByPriorityThenID(t *testing.T) {
	m := newTestManager(t, Options{})
	define(t, m, Layer{ID: "zeta", Priority: 1})
	define(t, m, Layer{ID: "alpha", Priority: 5})
	define(t, m, Layer{ID: "beta", Priority: 1})

	if _, err := m.Activate(ActivateRequest{LayerIDs: []string{"zeta", "alpha", "beta"}}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	active := m.Active()
	got := []string{active[0].ID, active[1].ID, active[2].ID}
	want := []string{"beta", "zeta", "alpha"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %v, want %v", got, want)
		}
	}
}
