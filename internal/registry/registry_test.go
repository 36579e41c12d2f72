package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"roughcut/internal/contextmgr"
	"roughcut/internal/ports"
)

// fakeTool is a minimal executor for catalog tests.
type fakeTool struct {
	meta ports.ToolMetadata
	desc string
}

func (f *fakeTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	return &ports.ToolResult{CallID: call.ID, Content: "ok"}, nil
}

func (f *fakeTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        f.meta.Name,
		Description: f.desc,
		InputSchema: ports.ParameterSchema{Type: "object"},
	}
}

func (f *fakeTool) Metadata() ports.ToolMetadata { return f.meta }

func tool(name string, category ports.Category, mutate ...func(*ports.ToolMetadata)) *fakeTool {
	meta := ports.ToolMetadata{
		Name:          name,
		Category:      category,
		Priority:      5,
		ContextWeight: 10,
	}
	for _, fn := range mutate {
		fn(&meta)
	}
	return &fakeTool{meta: meta, desc: "test tool " + name}
}

func newTestRegistry(t *testing.T, credential CredentialFn) *Registry {
	t.Helper()
	ctx := contextmgr.New(nil, contextmgr.Options{MaxWeight: 10000})
	r := New(ctx, credential, t.TempDir(), nil)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegisterActivatesDiscoveryImmediately(t *testing.T) {
	r := newTestRegistry(t, nil)
	if err := r.Register(tool("discover-capabilities", ports.CategoryDiscovery)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(tool("transform-composition", ports.CategoryCoreOperations)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	active := r.Active()
	if len(active) != 1 || active[0].Name != "discover-capabilities" {
		t.Fatalf("active = %v, want only the discovery tool", active)
	}
}

func TestRegisterRejectsDuplicatesAndBadCategories(t *testing.T) {
	r := newTestRegistry(t, nil)
	if err := r.Register(tool("x", ports.CategoryMaintenance)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(tool("x", ports.CategoryMaintenance)); err == nil {
		t.Fatal("duplicate registration accepted")
	}
	if err := r.Register(tool("y", ports.Category("made-up"))); err == nil {
		t.Fatal("unknown category accepted")
	}
}

func TestHandlerIgnoresActiveState(t *testing.T) {
	r := newTestRegistry(t, nil)
	_ = r.Register(tool("dormant", ports.CategoryCoreOperations))

	// Not listed, still callable: activation gates listing, not execution.
	if _, ok := r.Handler("dormant"); !ok {
		t.Fatal("inactive tool not resolvable")
	}
	for _, def := range r.Active() {
		if def.Name == "dormant" {
			t.Fatal("inactive tool listed")
		}
	}
}

func TestActivateCategoriesSkipsMissingCredential(t *testing.T) {
	hasCred := func(name string) bool { return name != "elevenlabs" }
	r := newTestRegistry(t, hasCred)
	_ = r.Register(tool("generate-voiceover", ports.CategoryVoiceGeneration, func(m *ports.ToolMetadata) {
		m.RequiredCredential = "elevenlabs"
	}))
	_ = r.Register(tool("generate-image", ports.CategoryImageGeneration, func(m *ports.ToolMetadata) {
		m.RequiredCredential = "flux"
	}))

	result := r.ActivateCategories(ActivationRequest{
		Categories: []ports.Category{ports.CategoryVoiceGeneration, ports.CategoryImageGeneration},
	})
	if len(result.Activated) != 1 || result.Activated[0] != "generate-image" {
		t.Fatalf("activated = %v, want [generate-image]", result.Activated)
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != "generate-voiceover" {
		t.Fatalf("skipped = %v, want [generate-voiceover]", result.Skipped)
	}
}

func TestExclusiveActivationDisplacesNonPermanent(t *testing.T) {
	r := newTestRegistry(t, nil)
	_ = r.Register(tool("discover-capabilities", ports.CategoryDiscovery))
	_ = r.Register(tool("launch-remotion-studio", ports.CategoryStudioMgmt))
	_ = r.Register(tool("prune-backups", ports.CategoryMaintenance))

	_ = r.ActivateCategories(ActivationRequest{Categories: []ports.Category{ports.CategoryStudioMgmt}})
	result := r.ActivateCategories(ActivationRequest{
		Categories: []ports.Category{ports.CategoryMaintenance},
		Exclusive:  true,
	})

	if len(result.Deactivated) != 1 || result.Deactivated[0] != "launch-remotion-studio" {
		t.Fatalf("deactivated = %v, want [launch-remotion-studio]", result.Deactivated)
	}
	names := make(map[string]bool)
	for _, def := range r.Active() {
		names[def.Name] = true
	}
	if !names["discover-capabilities"] {
		t.Fatal("discovery tool displaced by exclusive activation")
	}
	if !names["prune-backups"] {
		t.Fatal("requested tool not active")
	}
}

func TestDeactivateSkipsDiscovery(t *testing.T) {
	r := newTestRegistry(t, nil)
	_ = r.Register(tool("discover-capabilities", ports.CategoryDiscovery))
	_ = r.Register(tool("list-projects", ports.CategoryCoreOperations, func(m *ports.ToolMetadata) {
		m.LoadByDefault = true
	}))

	result := r.Deactivate([]string{"discover-capabilities", "list-projects"})
	if len(result.Skipped) != 1 || result.Skipped[0] != "discover-capabilities" {
		t.Fatalf("skipped = %v, want [discover-capabilities]", result.Skipped)
	}
	if len(result.Deactivated) != 1 || result.Deactivated[0] != "list-projects" {
		t.Fatalf("deactivated = %v, want [list-projects]", result.Deactivated)
	}
}

func TestSearchIsConjunctive(t *testing.T) {
	r := newTestRegistry(t, nil)
	_ = r.Register(tool("repair-composition", ports.CategoryCoreOperations, func(m *ports.ToolMetadata) {
		m.Tags = []string{"repair", "jsx"}
	}))
	_ = r.Register(tool("backup-composition", ports.CategoryCoreOperations, func(m *ports.ToolMetadata) {
		m.Tags = []string{"backup"}
	}))

	hits := r.Search(SearchQuery{Query: "composition", Tags: []string{"jsx"}})
	if len(hits) != 1 || hits[0].Name != "repair-composition" {
		t.Fatalf("hits = %+v, want only repair-composition", hits)
	}

	// A token that matches nothing filters everything out.
	if hits := r.Search(SearchQuery{Query: "composition zebra"}); len(hits) != 0 {
		t.Fatalf("hits = %+v, want none", hits)
	}
}

func TestSearchFiltersByCredentialRequirement(t *testing.T) {
	r := newTestRegistry(t, nil)
	_ = r.Register(tool("generate-voiceover", ports.CategoryVoiceGeneration, func(m *ports.ToolMetadata) {
		m.RequiredCredential = "elevenlabs"
	}))
	_ = r.Register(tool("list-projects", ports.CategoryCoreOperations))

	needsCred := true
	hits := r.Search(SearchQuery{HasCredential: &needsCred})
	if len(hits) != 1 || hits[0].Name != "generate-voiceover" {
		t.Fatalf("hits = %+v, want only the credentialed tool", hits)
	}
}

func TestSuggestFiltersToRegisteredTools(t *testing.T) {
	r := newTestRegistry(t, nil)
	_ = r.Register(tool("create-complete-video", ports.CategoryVideoCreation))
	_ = r.Register(tool("launch-remotion-studio", ports.CategoryStudioMgmt))

	got := r.Suggest("Please create a video and launch the preview!")
	want := map[string]bool{"create-complete-video": true, "launch-remotion-studio": true}
	if len(got) != 2 {
		t.Fatalf("suggestions = %v, want 2 distinct tools", got)
	}
	for _, name := range got {
		if !want[name] {
			t.Fatalf("unexpected suggestion %s", name)
		}
	}
}

func TestUsageStatsPersistAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := contextmgr.New(nil, contextmgr.Options{})

	r := New(ctx, nil, dir, nil)
	_ = r.Register(tool("list-projects", ports.CategoryCoreOperations))
	r.RecordUse("list-projects")
	r.RecordUse("list-projects")
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := New(ctx, nil, dir, nil)
	defer reopened.Close()
	if got := reopened.UsageStats()["list-projects"]; got != 2 {
		t.Fatalf("usage count = %d after restart, want 2", got)
	}
}

func TestCorruptUsageStatsResetToEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, statsFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	r := New(contextmgr.New(nil, contextmgr.Options{}), nil, dir, nil)
	defer r.Close()
	if got := len(r.UsageStats()); got != 0 {
		t.Fatalf("stats = %d entries from a corrupt file, want 0", got)
	}
}

func TestActiveOrdering(t *testing.T) {
	r := newTestRegistry(t, nil)
	_ = r.Register(tool("b-tool", ports.CategoryCoreOperations, func(m *ports.ToolMetadata) {
		m.Priority = 1
		m.LoadByDefault = true
	}))
	_ = r.Register(tool("a-tool", ports.CategoryCoreOperations, func(m *ports.ToolMetadata) {
		m.Priority = 5
		m.LoadByDefault = true
	}))
	_ = r.Register(tool("c-tool", ports.CategoryCoreOperations, func(m *ports.ToolMetadata) {
		m.Priority = 5
		m.LoadByDefault = true
	}))
	r.RecordUse("c-tool")

	active := r.Active()
	got := []string{active[0].Name, active[1].Name, active[2].Name}
	want := []string{"b-tool", "c-tool", "a-tool"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %v, want %v", got, want)
		}
	}
}

func TestCategoriesSummarizesCatalog(t *testing.T) {
	r := newTestRegistry(t, nil)
	_ = r.Register(tool("discover-capabilities", ports.CategoryDiscovery))
	_ = r.Register(tool("list-projects", ports.CategoryCoreOperations))

	summaries := r.Categories()
	if len(summaries) != 2 {
		t.Fatalf("summaries = %+v, want 2 categories", summaries)
	}
	if summaries[0].Category != ports.CategoryDiscovery || !summaries[0].Permanent {
		t.Fatalf("discovery summary wrong: %+v", summaries[0])
	}
	if summaries[0].Active != 1 {
		t.Fatalf("discovery active = %d, want 1", summaries[0].Active)
	}
}
