// Package layers groups tools into named layers that activate and deactivate
// as units. Activation resolves dependency closures, honors exclusivity
// policies, and charges the context window; transitions are serialized and
// observable in a total order (deactivations first, then activations).
package layers

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"roughcut/internal/contextmgr"
	rcerrors "roughcut/internal/errors"
	"roughcut/internal/logging"
)

// Exclusivity is the co-activation policy of a layer.
type Exclusivity string

const (
	ExclusivityShared    Exclusivity = "shared"
	ExclusivitySelective Exclusivity = "selective"
	ExclusivityExclusive Exclusivity = "exclusive"
	ExclusivityPermanent Exclusivity = "permanent"
)

// State is the lifecycle state of a layer.
type State string

const (
	StateInactive     State = "inactive"
	StateActivating   State = "activating"
	StateActive       State = "active"
	StateDeactivating State = "deactivating"
	StateError        State = "error"
)

// Layer is a named group of tools. Layers reference tools by name only.
type Layer struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Tools        []string    `json:"tools"`
	Dependencies []string    `json:"dependencies,omitempty"`
	Exclusivity  Exclusivity `json:"exclusivity"`
	Compatible   []string    `json:"compatible,omitempty"` // used when selective
	Priority     int         `json:"priority"`

	// Maintained by the manager.
	Weight          int   `json:"weight"`
	State           State `json:"state"`
	ActivationCount int   `json:"activationCount"`
}

// ActivateRequest asks for a set of layers to become active.
type ActivateRequest struct {
	LayerIDs           []string
	Force              bool
	RespectExclusivity bool
	RequestedBy        string
	Reason             string
}

// Result reports the outcome of an activate or deactivate call.
type Result struct {
	Activated       []string `json:"activated,omitempty"`
	Deactivated     []string `json:"deactivated,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	ProjectedWeight int      `json:"projectedWeight"`
}

// Recommendation scores one layer against a free-text context.
type Recommendation struct {
	LayerID       string   `json:"layerId"`
	Confidence    float64  `json:"confidence"`
	Reason        string   `json:"reason"`
	RelevantTools []string `json:"relevantTools,omitempty"`
	ContextWeight int      `json:"contextWeight"`
}

// HistoryEntry records one layer transition for the bounded history ring.
type HistoryEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Action      string    `json:"action"` // activate | deactivate
	LayerID     string    `json:"layerId"`
	Reason      string    `json:"reason,omitempty"`
	RequestedBy string    `json:"requestedBy,omitempty"`
	Weight      int       `json:"weight"` // total context weight after the transition
	Success     bool      `json:"success"`
}

// TransitionObserver sees every state transition in order.
type TransitionObserver func(layerID string, from, to State)

// Options configure the manager.
type Options struct {
	MaxActive       int
	AutoResolveDeps bool
	EnforceExcl     bool
	TrackHistory    bool
	StrictCycles    bool
	AutoDeactivate  bool
}

const historyCapacity = 100

// WeightFn resolves a tool name to its context weight.
type WeightFn func(tool string) int

// Manager owns layer definitions and their activation state. All methods are
// safe for concurrent use; transitions within one call are serialized.
type Manager struct {
	opts    Options
	ctx     *contextmgr.Manager
	weights WeightFn
	logger  logging.Logger

	mu        sync.Mutex
	layers    map[string]*Layer
	history   []HistoryEntry
	observers []TransitionObserver
}

// New creates a layer manager charging the given context manager.
func New(ctx *contextmgr.Manager, weights WeightFn, logger logging.Logger, opts Options) *Manager {
	if opts.MaxActive <= 0 {
		opts.MaxActive = 8
	}
	if weights == nil {
		weights = func(string) int { return 0 }
	}
	return &Manager{
		opts:    opts,
		ctx:     ctx,
		weights: weights,
		logger:  logging.OrNop(logger),
		layers:  make(map[string]*Layer),
	}
}

// Observe registers a transition observer.
func (m *Manager) Observe(fn TransitionObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Define registers a layer. The dependency graph is checked for cycles over
// the definitions known so far: strict mode rejects, lenient mode warns and
// proceeds. Weight is the cached sum of member tool weights.
func (m *Manager) Define(layer Layer) error {
	if layer.ID == "" {
		return fmt.Errorf("layer requires an id")
	}
	if layer.Exclusivity == "" {
		layer.Exclusivity = ExclusivityShared
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.layers[layer.ID]; exists {
		return fmt.Errorf("layer %s already defined", layer.ID)
	}

	layer.State = StateInactive
	layer.Weight = 0
	for _, tool := range layer.Tools {
		layer.Weight += m.weights(tool)
	}

	m.layers[layer.ID] = &layer
	if cycle := m.findCycleLocked(layer.ID); len(cycle) > 0 {
		if m.opts.StrictCycles {
			delete(m.layers, layer.ID)
			return rcerrors.New(rcerrors.KindConfiguration, "layers", "define",
				fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")))
		}
		m.logger.Warn("layer %s introduces dependency cycle %s; proceeding in lenient mode",
			layer.ID, strings.Join(cycle, " -> "))
	}
	m.logger.Debug("defined layer %s (%d tool(s), weight %d, %s)",
		layer.ID, len(layer.Tools), layer.Weight, layer.Exclusivity)
	return nil
}

// Activate brings the requested layers (plus their dependency closure) into
// the active state, deactivating whatever exclusivity demands.
func (m *Manager) Activate(req ActivateRequest) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := &Result{}

	plan, err := m.closureLocked(req.LayerIDs, result)
	if err != nil {
		return nil, err
	}

	deactivate := m.exclusivityVictimsLocked(plan, req, result)

	// Projected weight: current minus what leaves, plus what newly enters.
	projected := m.ctx.TotalWeight()
	for _, id := range deactivate {
		projected -= m.layers[id].Weight
	}
	var entering []string
	for _, id := range plan {
		if m.layers[id].State != StateActive {
			entering = append(entering, id)
			projected += m.layers[id].Weight
		}
	}

	if over := projected - m.contextMax(); over > 0 {
		if !m.opts.AutoDeactivate {
			return nil, rcerrors.New(rcerrors.KindToolActivation, "layers", "activate",
				fmt.Sprintf("activation exceeds context limit by %d weight", over)).
				WithDetail("projectedWeight", projected)
		}
		ids, freed, ok := m.ctx.EvictionPlan(over)
		if !ok {
			return nil, rcerrors.New(rcerrors.KindToolActivation, "layers", "activate",
				fmt.Sprintf("activation exceeds context limit by %d weight and eviction can only free %d", over, freed)).
				WithDetail("projectedWeight", projected)
		}
		for _, id := range ids {
			if layer, isLayer := m.layers[id]; isLayer && layer.State == StateActive && !contains(deactivate, id) {
				deactivate = append(deactivate, id)
				result.Warnings = append(result.Warnings, fmt.Sprintf("layer %s evicted to free context weight", id))
			} else if !isLayer {
				m.ctx.Remove(id)
				result.Warnings = append(result.Warnings, fmt.Sprintf("context item %s evicted to free weight", id))
			}
		}
		projected -= freed
	}

	if active := m.activeCountLocked() - len(deactivate) + len(entering); active > m.opts.MaxActive {
		if !req.Force {
			return nil, rcerrors.New(rcerrors.KindToolActivation, "layers", "activate",
				fmt.Sprintf("activation would leave %d layers active, limit is %d", active, m.opts.MaxActive))
		}
		result.Warnings = append(result.Warnings, fmt.Sprintf("forced past max-active limit (%d > %d)", active, m.opts.MaxActive))
	}

	// Deactivations first, then activations; each transition observable.
	for _, id := range deactivate {
		m.deactivateOneLocked(id, req.RequestedBy, "displaced by "+strings.Join(req.LayerIDs, ","))
		result.Deactivated = append(result.Deactivated, id)
	}
	for _, id := range entering {
		m.activateOneLocked(id, req)
		result.Activated = append(result.Activated, id)
	}

	result.ProjectedWeight = m.ctx.TotalWeight()
	m.logger.Info("activated %v (deactivated %v, weight %d)", result.Activated, result.Deactivated, result.ProjectedWeight)
	return result, nil
}

// Deactivate takes the named layers inactive. The set expands to every active
// layer depending on a member of the set; permanent layers are skipped.
func (m *Manager) Deactivate(layerIDs []string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := &Result{}
	pending := make(map[string]bool)
	for _, id := range layerIDs {
		layer, ok := m.layers[id]
		if !ok {
			return nil, fmt.Errorf("unknown layer %s", id)
		}
		if layer.Exclusivity == ExclusivityPermanent {
			result.Warnings = append(result.Warnings, fmt.Sprintf("layer %s is permanent and stays active", id))
			continue
		}
		pending[id] = true
	}

	// Dependents of anything going down must go down too.
	for changed := true; changed; {
		changed = false
		for id, layer := range m.layers {
			if layer.State != StateActive || pending[id] || layer.Exclusivity == ExclusivityPermanent {
				continue
			}
			for _, dep := range layer.Dependencies {
				if pending[dep] {
					pending[id] = true
					changed = true
					result.Warnings = append(result.Warnings, fmt.Sprintf("layer %s deactivated because it depends on %s", id, dep))
					break
				}
			}
		}
	}

	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if m.layers[id].State == StateActive {
			m.deactivateOneLocked(id, "", "requested")
			result.Deactivated = append(result.Deactivated, id)
		}
	}
	result.ProjectedWeight = m.ctx.TotalWeight()
	return result, nil
}

// Recommend scores defined layers against a free-text context.
func (m *Manager) Recommend(context string, limit int) []Recommendation {
	m.mu.Lock()
	defer m.mu.Unlock()

	tokens := strings.Fields(strings.ToLower(context))
	if len(tokens) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = 5
	}

	var recs []Recommendation
	for _, layer := range m.layers {
		score := 0.0
		var reasons []string
		var relevant []string

		lowerName := strings.ToLower(layer.Name + " " + layer.ID)
		lowerDesc := strings.ToLower(layer.Description)
		for _, token := range tokens {
			if strings.Contains(lowerName, token) {
				score += 0.5
				reasons = append(reasons, fmt.Sprintf("name matches %q", token))
				break
			}
		}
		for _, token := range tokens {
			if strings.Contains(lowerDesc, token) {
				score += 0.3
				reasons = append(reasons, fmt.Sprintf("description matches %q", token))
				break
			}
		}
		for _, tool := range layer.Tools {
			lowerTool := strings.ToLower(tool)
			for _, token := range tokens {
				if strings.Contains(lowerTool, token) {
					score += 0.2
					relevant = append(relevant, tool)
					break
				}
			}
		}
		if bonus := float64(layer.ActivationCount) / 100.0; bonus > 0 {
			if bonus > 0.2 {
				bonus = 0.2
			}
			score += bonus
		}
		if score == 0 {
			continue
		}
		if score > 1.0 {
			score = 1.0
		}
		recs = append(recs, Recommendation{
			LayerID:       layer.ID,
			Confidence:    score,
			Reason:        strings.Join(reasons, "; "),
			RelevantTools: relevant,
			ContextWeight: layer.Weight,
		})
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Confidence != recs[j].Confidence {
			return recs[i].Confidence > recs[j].Confidence
		}
		return recs[i].LayerID < recs[j].LayerID
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}

// Active returns copies of all active layers, priority then id ordered.
func (m *Manager) Active() []Layer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Layer
	for _, layer := range m.layers {
		if layer.State == StateActive {
			out = append(out, *layer)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a copy of the named layer.
func (m *Manager) Get(id string) (Layer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	layer, ok := m.layers[id]
	if !ok {
		return Layer{}, false
	}
	return *layer, true
}

// History returns the transition ring, oldest first.
func (m *Manager) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HistoryEntry(nil), m.history...)
}

// closureLocked expands ids to their transitive dependency closure.
func (m *Manager) closureLocked(ids []string, result *Result) ([]string, error) {
	var plan []string
	seen := make(map[string]bool)
	onPath := make(map[string]bool)

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		if onPath[id] {
			cycle := strings.Join(append(path, id), " -> ")
			if m.opts.StrictCycles {
				return rcerrors.New(rcerrors.KindToolActivation, "layers", "activate",
					fmt.Sprintf("dependency cycle: %s", cycle))
			}
			result.Warnings = append(result.Warnings, "dependency cycle tolerated: "+cycle)
			return nil
		}
		if seen[id] {
			return nil
		}
		layer, ok := m.layers[id]
		if !ok {
			return fmt.Errorf("unknown layer %s", id)
		}
		seen[id] = true
		onPath[id] = true
		if m.opts.AutoResolveDeps {
			for _, dep := range layer.Dependencies {
				if err := visit(dep, append(path, id)); err != nil {
					return err
				}
			}
		}
		onPath[id] = false
		// Dependencies land before dependents.
		plan = append(plan, id)
		return nil
	}

	for _, id := range ids {
		if err := visit(id, nil); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// exclusivityVictimsLocked computes the forced deactivation set for a plan.
func (m *Manager) exclusivityVictimsLocked(plan []string, req ActivateRequest, result *Result) []string {
	if !m.opts.EnforceExcl || !req.RespectExclusivity {
		return nil
	}
	inPlan := make(map[string]bool, len(plan))
	for _, id := range plan {
		inPlan[id] = true
	}

	victims := make(map[string]bool)
	for _, id := range plan {
		requesting := m.layers[id]
		switch requesting.Exclusivity {
		case ExclusivityExclusive:
			for otherID, other := range m.layers {
				if other.State == StateActive && !inPlan[otherID] && other.Exclusivity != ExclusivityPermanent {
					victims[otherID] = true
				}
			}
		case ExclusivitySelective:
			compatible := make(map[string]bool, len(requesting.Compatible))
			for _, c := range requesting.Compatible {
				compatible[c] = true
			}
			for otherID, other := range m.layers {
				if other.State == StateActive && !inPlan[otherID] && !compatible[otherID] && other.Exclusivity != ExclusivityPermanent {
					victims[otherID] = true
				}
			}
		}
	}

	out := make([]string, 0, len(victims))
	for id := range victims {
		out = append(out, id)
		result.Warnings = append(result.Warnings, fmt.Sprintf("layer %s deactivated by exclusivity", id))
	}
	sort.Strings(out)
	return out
}

func (m *Manager) activateOneLocked(id string, req ActivateRequest) {
	layer := m.layers[id]
	m.transitionLocked(layer, StateActivating)

	required := layer.Exclusivity == ExclusivityPermanent
	if err := m.ctx.Add(id, contextmgr.ItemLayer, layer.Weight, layer.Priority, required); err != nil {
		m.transitionLocked(layer, StateError)
		m.recordLocked("activate", id, req.Reason, req.RequestedBy, false)
		m.logger.Error("layer %s failed context admission: %v", id, err)
		return
	}
	layer.ActivationCount++
	m.transitionLocked(layer, StateActive)
	m.recordLocked("activate", id, req.Reason, req.RequestedBy, true)
}

func (m *Manager) deactivateOneLocked(id, requestedBy, reason string) {
	layer := m.layers[id]
	m.transitionLocked(layer, StateDeactivating)
	m.ctx.Remove(id)
	m.transitionLocked(layer, StateInactive)
	m.recordLocked("deactivate", id, reason, requestedBy, true)
}

func (m *Manager) transitionLocked(layer *Layer, to State) {
	from := layer.State
	layer.State = to
	for _, fn := range m.observers {
		fn(layer.ID, from, to)
	}
}

func (m *Manager) recordLocked(action, id, reason, requestedBy string, success bool) {
	if !m.opts.TrackHistory {
		return
	}
	m.history = append(m.history, HistoryEntry{
		Timestamp:   time.Now(),
		Action:      action,
		LayerID:     id,
		Reason:      reason,
		RequestedBy: requestedBy,
		Weight:      m.ctx.TotalWeight(),
		Success:     success,
	})
	if len(m.history) > historyCapacity {
		m.history = m.history[len(m.history)-historyCapacity:]
	}
}

func (m *Manager) activeCountLocked() int {
	count := 0
	for _, layer := range m.layers {
		if layer.State == StateActive {
			count++
		}
	}
	return count
}

func (m *Manager) contextMax() int {
	return m.ctx.Statistics().MaxWeight
}

// findCycleLocked looks for a cycle reachable from start over defined layers.
func (m *Manager) findCycleLocked(start string) []string {
	onPath := make(map[string]bool)
	done := make(map[string]bool)

	var visit func(id string, path []string) []string
	visit = func(id string, path []string) []string {
		if onPath[id] {
			return append(path, id)
		}
		if done[id] {
			return nil
		}
		layer, ok := m.layers[id]
		if !ok {
			return nil
		}
		onPath[id] = true
		for _, dep := range layer.Dependencies {
			if cycle := visit(dep, append(path, id)); cycle != nil {
				return cycle
			}
		}
		onPath[id] = false
		done[id] = true
		return nil
	}
	return visit(start, nil)
}

func contains(list []string, id string) bool {
	for _, entry := range list {
		if entry == id {
			return true
		}
	}
	return false
}
