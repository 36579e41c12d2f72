// Package registry is the tool catalog and its active subset. Activation
// gates what the host sees in list-tools; execution is never gated, so a host
// holding a tool name can always call it. Discovery tools are permanently
// active. Every activation is charged to the context manager.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"roughcut/internal/contextmgr"
	"roughcut/internal/logging"
	"roughcut/internal/ports"
)

// CredentialFn reports whether a named credential is configured.
type CredentialFn func(name string) bool

// entry pairs an executor with its cached metadata.
type entry struct {
	executor ports.ToolExecutor
	meta     ports.ToolMetadata
	def      ports.ToolDefinition
	weight   int
}

// Registry owns the Tool objects and their active-subset membership.
type Registry struct {
	ctx        *contextmgr.Manager
	credential CredentialFn
	stats      *usageStats
	logger     logging.Logger

	mu     sync.Mutex
	tools  map[string]*entry
	active map[string]bool

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// New creates a registry. statsDir hosts the persisted usage counters.
func New(ctx *contextmgr.Manager, credential CredentialFn, statsDir string, logger logging.Logger) *Registry {
	if credential == nil {
		credential = func(string) bool { return true }
	}
	logger = logging.OrNop(logger)
	return &Registry{
		ctx:        ctx,
		credential: credential,
		stats:      newUsageStats(statsDir, logger),
		logger:     logger,
		tools:      make(map[string]*entry),
		active:     make(map[string]bool),
	}
}

// Close flushes pending usage stats.
func (r *Registry) Close() error {
	return r.stats.close()
}

// Register adds a tool to the catalog. Names are globally unique; a second
// registration of the same name is an error. Discovery and load-by-default
// tools are activated immediately (credential permitting).
func (r *Registry) Register(executor ports.ToolExecutor) error {
	meta := executor.Metadata()
	def := executor.Definition()
	if meta.Name == "" || meta.Name != def.Name {
		return fmt.Errorf("tool metadata name %q does not match definition name %q", meta.Name, def.Name)
	}
	if !meta.Category.Valid() {
		return fmt.Errorf("tool %s has unknown category %q", meta.Name, meta.Category)
	}

	weight := meta.ContextWeight
	if weight <= 0 {
		weight = r.estimateWeight(def)
	}

	r.mu.Lock()
	if _, exists := r.tools[meta.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("tool %s already registered", meta.Name)
	}
	e := &entry{executor: executor, meta: meta, def: def, weight: weight}
	r.tools[meta.Name] = e
	r.mu.Unlock()

	if meta.Category.Permanent() || meta.LoadByDefault {
		r.activateOne(e)
	}
	r.logger.Debug("registered tool %s (%s, weight %d)", meta.Name, meta.Category, weight)
	return nil
}

// Active returns the definitions of all active tools in stable listing order:
// priority ascending, then usage descending, then name.
func (r *Registry) Active() []ports.ToolDefinition {
	r.mu.Lock()
	var entries []*entry
	for name := range r.active {
		entries = append(entries, r.tools[name])
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].meta.Priority != entries[j].meta.Priority {
			return entries[i].meta.Priority < entries[j].meta.Priority
		}
		ui, uj := r.stats.count(entries[i].meta.Name), r.stats.count(entries[j].meta.Name)
		if ui != uj {
			return ui > uj
		}
		return entries[i].meta.Name < entries[j].meta.Name
	})

	out := make([]ports.ToolDefinition, len(entries))
	for i, e := range entries {
		out[i] = e.def
	}
	return out
}

// Handler returns the executor for name regardless of active state:
// activation gates listing, not execution.
func (r *Registry) Handler(name string) (ports.ToolExecutor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return e.executor, true
}

// Metadata returns a copy of the named tool's metadata.
func (r *Registry) Metadata(name string) (ports.ToolMetadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tools[name]
	if !ok {
		return ports.ToolMetadata{}, false
	}
	return e.meta, true
}

// RecordUse bumps the usage counter and refreshes context recency.
func (r *Registry) RecordUse(name string) {
	r.stats.record(name)
	if r.ctx != nil {
		r.ctx.MarkUsed(name)
	}
}

// ActivationRequest selects tools for activation.
type ActivationRequest struct {
	Categories []ports.Category
	Tools      []string
	Exclusive  bool // deactivate everything non-permanent outside the selection
}

// ActivationResult reports what an activation changed.
type ActivationResult struct {
	Activated   []string `json:"activated,omitempty"`
	Skipped     []string `json:"skipped,omitempty"`
	Deactivated []string `json:"deactivated,omitempty"`
}

// ActivateCategories activates every tool in the named categories plus the
// explicitly named tools. Tools whose required credential is missing are
// skipped with a warning, never an error.
func (r *Registry) ActivateCategories(req ActivationRequest) *ActivationResult {
	wanted := r.selectTools(req.Categories, "", req.Tools)
	return r.applyActivation(wanted, req.Exclusive)
}

// ActivateSubCategory activates the tools of one sub-category.
func (r *Registry) ActivateSubCategory(category ports.Category, sub string, exclusive bool) *ActivationResult {
	wanted := r.selectTools([]ports.Category{category}, sub, nil)
	return r.applyActivation(wanted, exclusive)
}

// Deactivate removes tools from the active set. Discovery tools are immune.
func (r *Registry) Deactivate(names []string) *ActivationResult {
	result := &ActivationResult{}
	for _, name := range names {
		r.mu.Lock()
		e, ok := r.tools[name]
		isActive := ok && r.active[name]
		if ok && e.meta.Category.Permanent() {
			r.mu.Unlock()
			result.Skipped = append(result.Skipped, name)
			r.logger.Warn("tool %s is permanently active and cannot be deactivated", name)
			continue
		}
		if isActive {
			delete(r.active, name)
		}
		r.mu.Unlock()
		if isActive {
			if r.ctx != nil {
				r.ctx.Remove(name)
			}
			result.Deactivated = append(result.Deactivated, name)
		}
	}
	return result
}

func (r *Registry) selectTools(categories []ports.Category, sub string, names []string) []*entry {
	catSet := make(map[ports.Category]bool, len(categories))
	for _, c := range categories {
		catSet[c] = true
	}
	nameSet := make(map[string]bool, len(names))
	for _, n := range names {
		nameSet[n] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entry
	for name, e := range r.tools {
		byCategory := catSet[e.meta.Category] && (sub == "" || e.meta.SubCategory == sub)
		if byCategory || nameSet[name] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].meta.Name < out[j].meta.Name })
	return out
}

func (r *Registry) applyActivation(wanted []*entry, exclusive bool) *ActivationResult {
	result := &ActivationResult{}

	if exclusive {
		wantedSet := make(map[string]bool, len(wanted))
		for _, e := range wanted {
			wantedSet[e.meta.Name] = true
		}
		r.mu.Lock()
		var victims []string
		for name := range r.active {
			if !wantedSet[name] && !r.tools[name].meta.Category.Permanent() {
				victims = append(victims, name)
			}
		}
		for _, name := range victims {
			delete(r.active, name)
		}
		r.mu.Unlock()
		sort.Strings(victims)
		for _, name := range victims {
			if r.ctx != nil {
				r.ctx.Remove(name)
			}
		}
		result.Deactivated = victims
	}

	for _, e := range wanted {
		if r.activateOne(e) {
			result.Activated = append(result.Activated, e.meta.Name)
		} else {
			result.Skipped = append(result.Skipped, e.meta.Name)
		}
	}
	return result
}

// activateOne admits a tool to the active set; reports success.
func (r *Registry) activateOne(e *entry) bool {
	name := e.meta.Name
	if cred := e.meta.RequiredCredential; cred != "" && !r.credential(cred) {
		r.logger.Warn("tool %s skipped: credential %s is not configured", name, cred)
		return false
	}

	r.mu.Lock()
	if r.active[name] {
		r.mu.Unlock()
		return true
	}
	r.active[name] = true
	r.mu.Unlock()

	if r.ctx != nil {
		required := e.meta.Category.Permanent()
		if err := r.ctx.Add(name, contextmgr.ItemTool, e.weight, e.meta.Priority, required); err != nil {
			r.mu.Lock()
			delete(r.active, name)
			r.mu.Unlock()
			r.logger.Warn("tool %s not activated: %v", name, err)
			return false
		}
	}
	return true
}

// SearchQuery filters the catalog; criteria are conjunctive.
type SearchQuery struct {
	Query         string
	Categories    []ports.Category
	Tags          []string
	HasCredential *bool
	Limit         int
}

// SearchHit is one search result.
type SearchHit struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    ports.Category `json:"category"`
	Tags        []string       `json:"tags,omitempty"`
	Active      bool           `json:"active"`
	UsageCount  int            `json:"usageCount"`
}

// Search matches case-insensitive tokens against name, description, and tags.
func (r *Registry) Search(q SearchQuery) []SearchHit {
	tokens := strings.Fields(strings.ToLower(q.Query))
	catSet := make(map[ports.Category]bool, len(q.Categories))
	for _, c := range q.Categories {
		catSet[c] = true
	}

	r.mu.Lock()
	var matched []*entry
	for _, e := range r.tools {
		if len(catSet) > 0 && !catSet[e.meta.Category] {
			continue
		}
		if !hasAllTags(e.meta.Tags, q.Tags) {
			continue
		}
		if q.HasCredential != nil && (e.meta.RequiredCredential != "") != *q.HasCredential {
			continue
		}
		if !matchesTokens(e, tokens) {
			continue
		}
		matched = append(matched, e)
	}
	activeSet := make(map[string]bool, len(r.active))
	for name := range r.active {
		activeSet[name] = true
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].meta.Priority != matched[j].meta.Priority {
			return matched[i].meta.Priority < matched[j].meta.Priority
		}
		ui, uj := r.stats.count(matched[i].meta.Name), r.stats.count(matched[j].meta.Name)
		if ui != uj {
			return ui > uj
		}
		return matched[i].meta.Name < matched[j].meta.Name
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]SearchHit, len(matched))
	for i, e := range matched {
		out[i] = SearchHit{
			Name:        e.meta.Name,
			Description: e.def.Description,
			Category:    e.meta.Category,
			Tags:        e.meta.Tags,
			Active:      activeSet[e.meta.Name],
			UsageCount:  r.stats.count(e.meta.Name),
		}
	}
	return out
}

func matchesTokens(e *entry, tokens []string) bool {
	if len(tokens) == 0 {
		return true
	}
	haystack := strings.ToLower(e.meta.Name + " " + e.def.Description + " " + strings.Join(e.meta.Tags, " "))
	for _, token := range tokens {
		if !strings.Contains(haystack, token) {
			return false
		}
	}
	return true
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if strings.EqualFold(h, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// CategorySummary describes one category of the catalog.
type CategorySummary struct {
	Category  ports.Category `json:"category"`
	Total     int            `json:"total"`
	Active    int            `json:"active"`
	Permanent bool           `json:"permanent"`
}

// Categories summarizes the catalog per category, in listing order.
func (r *Registry) Categories() []CategorySummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	totals := make(map[ports.Category]int)
	actives := make(map[ports.Category]int)
	for name, e := range r.tools {
		totals[e.meta.Category]++
		if r.active[name] {
			actives[e.meta.Category]++
		}
	}

	var out []CategorySummary
	for _, c := range ports.AllCategories() {
		if totals[c] == 0 {
			continue
		}
		out = append(out, CategorySummary{
			Category:  c,
			Total:     totals[c],
			Active:    actives[c],
			Permanent: c.Permanent(),
		})
	}
	return out
}

// UsageStats returns a copy of the per-tool call counters.
func (r *Registry) UsageStats() map[string]int {
	return r.stats.snapshot()
}

// suggestionKeywords maps task keywords to tool names. Unregistered names are
// filtered at query time.
var suggestionKeywords = map[string][]string{
	"video":   {"create-complete-video", "transform-composition", "update-composition"},
	"create":  {"create-complete-video"},
	"studio":  {"launch-remotion-studio", "get-studio-status", "stop-remotion-studio"},
	"preview": {"launch-remotion-studio"},
	"launch":  {"launch-remotion-studio"},
	"repair":  {"repair-composition", "validate-composition"},
	"fix":     {"repair-composition", "validate-composition"},
	"voice":   {"generate-voiceover"},
	"speech":  {"generate-voiceover"},
	"sound":   {"search-sound-effects"},
	"audio":   {"generate-voiceover", "search-sound-effects"},
	"image":   {"generate-image"},
	"project": {"list-projects"},
	"backup":  {"backup-composition", "restore-composition"},
	"cleanup": {"cleanup-studios", "purge-stale-checkpoints", "prune-backups"},
	"port":    {"discover-running-studios", "get-studio-status"},
}

// Suggest maps free text to registered tool names via the keyword table.
// Results are deduplicated and keep keyword-table order.
func (r *Registry) Suggest(context string) []string {
	tokens := strings.Fields(strings.ToLower(context))
	seen := make(map[string]bool)
	var out []string

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range tokens {
		for _, name := range suggestionKeywords[strings.Trim(token, ".,!?")] {
			if seen[name] {
				continue
			}
			if _, registered := r.tools[name]; !registered {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// estimateWeight approximates a tool's context cost by token-counting its
// host-visible definition. Falls back to a bytes/4 heuristic when the
// encoding is unavailable (offline first run).
func (r *Registry) estimateWeight(def ports.ToolDefinition) int {
	text, err := json.Marshal(def)
	if err != nil {
		return 50
	}
	r.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			r.logger.Warn("token encoding unavailable, estimating weights by size: %v", err)
			return
		}
		r.enc = enc
	})
	if r.enc == nil {
		return len(text) / 4
	}
	return len(r.enc.Encode(string(text), nil, nil))
}
