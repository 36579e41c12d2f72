package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"roughcut/internal/layers"
	"roughcut/internal/ports"
	"roughcut/internal/registry"
)

// discoverCapabilities reports what the broker can do right now: categories,
// defined layers, active tools, and context headroom. Always active, so a
// host that just connected can orient itself.
type discoverCapabilities struct {
	deps Deps
}

func newDiscoverCapabilities(deps Deps) ports.ToolExecutor {
	return &discoverCapabilities{deps: deps}
}

func (t *discoverCapabilities) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "discover-capabilities",
		Version:       "1.0.0",
		Category:      ports.CategoryDiscovery,
		Priority:      1,
		ContextWeight: 40,
		Tags:          []string{"discovery", "capabilities", "orientation"},
		LoadByDefault: true,
	}
}

func (t *discoverCapabilities) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "discover-capabilities",
		Description: "List tool categories, defined layers, currently active tools, and context budget headroom.",
		InputSchema: ports.ParameterSchema{Type: "object", Properties: map[string]ports.Property{}},
	}
}

func (t *discoverCapabilities) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	stats := t.deps.Context.Statistics()
	categories := t.deps.Registry.Categories()
	active := t.deps.Registry.Active()
	layerList := t.deps.Layers.Active()

	var b strings.Builder
	b.WriteString("Categories:\n")
	for _, c := range categories {
		marker := ""
		if c.Permanent {
			marker = " (always active)"
		}
		fmt.Fprintf(&b, "- %s: %d/%d active%s\n", c.Category, c.Active, c.Total, marker)
	}
	fmt.Fprintf(&b, "\nActive tools (%d):\n", len(active))
	for _, def := range active {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
	}
	if len(layerList) > 0 {
		b.WriteString("\nActive layers:\n")
		for _, layer := range layerList {
			fmt.Fprintf(&b, "- %s (%d tool(s), weight %d)\n", layer.ID, len(layer.Tools), layer.Weight)
		}
	}
	fmt.Fprintf(&b, "\nContext: %d/%d weight used (%s pressure)\n",
		stats.TotalWeight, stats.MaxWeight, stats.Pressure)

	return &ports.ToolResult{
		CallID:  call.ID,
		Content: b.String(),
		Metadata: map[string]any{
			"categories":  categories,
			"activeCount": len(active),
			"context":     stats,
		},
	}, nil
}

// activateToolset swaps tool categories and layers in and out of the active
// listing.
type activateToolset struct {
	deps Deps
}

func newActivateToolset(deps Deps) ports.ToolExecutor {
	return &activateToolset{deps: deps}
}

func (t *activateToolset) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "activate-toolset",
		Version:       "1.0.0",
		Category:      ports.CategoryDiscovery,
		Priority:      2,
		ContextWeight: 60,
		Tags:          []string{"discovery", "activation", "layers"},
		LoadByDefault: true,
	}
}

func (t *activateToolset) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "activate-toolset",
		Description: "Activate tool categories or layers; optionally exclusive, deactivating everything else non-permanent.",
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"categories": {Type: "array", Description: "Category names to activate."},
				"tools":      {Type: "array", Description: "Individual tool names to activate."},
				"layers":     {Type: "array", Description: "Layer ids to activate (dependency closure applies)."},
				"deactivate": {Type: "array", Description: "Tool names or layer ids to deactivate."},
				"exclusive":  {Type: "boolean", Description: "Deactivate all other non-permanent tools first."},
			},
		},
	}
}

func (t *activateToolset) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	exclusive := call.OptionalBool("exclusive", false)
	var messages []string

	if names := call.OptionalStringSlice("deactivate"); len(names) > 0 {
		var layerIDs, toolNames []string
		for _, name := range names {
			if _, ok := t.deps.Layers.Get(name); ok {
				layerIDs = append(layerIDs, name)
			} else {
				toolNames = append(toolNames, name)
			}
		}
		if len(layerIDs) > 0 {
			result, err := t.deps.Layers.Deactivate(layerIDs)
			if err != nil {
				return errorResult(call, err)
			}
			messages = append(messages, fmt.Sprintf("deactivated layers: %s", strings.Join(result.Deactivated, ", ")))
			messages = append(messages, result.Warnings...)
		}
		if len(toolNames) > 0 {
			result := t.deps.Registry.Deactivate(toolNames)
			if len(result.Deactivated) > 0 {
				messages = append(messages, fmt.Sprintf("deactivated tools: %s", strings.Join(result.Deactivated, ", ")))
			}
			for _, name := range result.Skipped {
				messages = append(messages, fmt.Sprintf("%s is permanently active", name))
			}
		}
	}

	if layerIDs := call.OptionalStringSlice("layers"); len(layerIDs) > 0 {
		result, err := t.deps.Layers.Activate(layers.ActivateRequest{
			LayerIDs:           layerIDs,
			RespectExclusivity: true,
			RequestedBy:        "activate-toolset",
		})
		if err != nil {
			return errorResult(call, err)
		}
		// Layer activation selects the member tools too.
		for _, id := range result.Activated {
			if layer, ok := t.deps.Layers.Get(id); ok {
				t.deps.Registry.ActivateCategories(registry.ActivationRequest{Tools: layer.Tools})
			}
		}
		messages = append(messages, fmt.Sprintf("activated layers: %s", strings.Join(result.Activated, ", ")))
		messages = append(messages, result.Warnings...)
	}

	rawCategories := call.OptionalStringSlice("categories")
	toolNames := call.OptionalStringSlice("tools")
	if len(rawCategories) > 0 || len(toolNames) > 0 {
		var categories []ports.Category
		for _, raw := range rawCategories {
			category, err := ports.ParseCategory(raw)
			if err != nil {
				return errorResult(call, err)
			}
			categories = append(categories, category)
		}
		result := t.deps.Registry.ActivateCategories(registry.ActivationRequest{
			Categories: categories,
			Tools:      toolNames,
			Exclusive:  exclusive,
		})
		if len(result.Activated) > 0 {
			messages = append(messages, fmt.Sprintf("activated tools: %s", strings.Join(result.Activated, ", ")))
		}
		if len(result.Skipped) > 0 {
			messages = append(messages, fmt.Sprintf("skipped (missing credential or budget): %s", strings.Join(result.Skipped, ", ")))
		}
		if len(result.Deactivated) > 0 {
			messages = append(messages, fmt.Sprintf("deactivated: %s", strings.Join(result.Deactivated, ", ")))
		}
	}

	if len(messages) == 0 {
		messages = append(messages, "nothing to change; pass categories, tools, or layers")
	}
	return &ports.ToolResult{
		CallID:  call.ID,
		Content: strings.Join(messages, "\n"),
		Metadata: map[string]any{
			"activeTools": len(t.deps.Registry.Active()),
			"context":     t.deps.Context.Statistics(),
		},
	}, nil
}

// searchTools is the catalog search facade.
type searchTools struct {
	deps Deps
}

func newSearchTools(deps Deps) ports.ToolExecutor {
	return &searchTools{deps: deps}
}

func (t *searchTools) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "search-tools",
		Version:       "1.0.0",
		Category:      ports.CategoryDiscovery,
		Priority:      3,
		ContextWeight: 50,
		Tags:          []string{"discovery", "search"},
		LoadByDefault: true,
	}
}

func (t *searchTools) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "search-tools",
		Description: "Search the full tool catalog by text, category, and tags; matches are conjunctive.",
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"query":      {Type: "string", Description: "Free-text query matched against name, description, and tags."},
				"categories": {Type: "array", Description: "Restrict to these categories."},
				"tags":       {Type: "array", Description: "Require all of these tags."},
				"limit":      {Type: "integer", Description: "Maximum results (default 10)."},
			},
		},
	}
}

func (t *searchTools) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	var categories []ports.Category
	for _, raw := range call.OptionalStringSlice("categories") {
		category, err := ports.ParseCategory(raw)
		if err != nil {
			return errorResult(call, err)
		}
		categories = append(categories, category)
	}

	hits := t.deps.Registry.Search(registry.SearchQuery{
		Query:      call.OptionalString("query", ""),
		Categories: categories,
		Tags:       call.OptionalStringSlice("tags"),
		Limit:      call.OptionalInt("limit", 10),
	})

	if len(hits) == 0 {
		return &ports.ToolResult{CallID: call.ID, Content: "no tools match"}, nil
	}
	var b strings.Builder
	for _, hit := range hits {
		state := "inactive"
		if hit.Active {
			state = "active"
		}
		fmt.Fprintf(&b, "- %s [%s, %s]: %s\n", hit.Name, hit.Category, state, hit.Description)
	}
	return &ports.ToolResult{
		CallID:   call.ID,
		Content:  b.String(),
		Metadata: map[string]any{"hits": hits},
	}, nil
}

// suggestTools maps a task description to likely tool names.
type suggestTools struct {
	deps Deps
}

func newSuggestTools(deps Deps) ports.ToolExecutor {
	return &suggestTools{deps: deps}
}

func (t *suggestTools) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "suggest-tools",
		Version:       "1.0.0",
		Category:      ports.CategoryDiscovery,
		Priority:      4,
		ContextWeight: 40,
		Tags:          []string{"discovery", "suggestion"},
		LoadByDefault: true,
	}
}

func (t *suggestTools) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "suggest-tools",
		Description: "Suggest tools and layers for a described task.",
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"context": {Type: "string", Description: "What you are trying to do."},
			},
			Required: []string{"context"},
		},
	}
}

func (t *suggestTools) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	text, err := call.StringArg("context")
	if err != nil {
		return errorResult(call, err)
	}

	names := t.deps.Registry.Suggest(text)
	recommendations := t.deps.Layers.Recommend(text, 3)

	var b strings.Builder
	if len(names) > 0 {
		b.WriteString("Suggested tools:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "- %s\n", name)
		}
	}
	if len(recommendations) > 0 {
		b.WriteString("\nSuggested layers:\n")
		for _, rec := range recommendations {
			fmt.Fprintf(&b, "- %s (confidence %.2f): %s\n", rec.LayerID, rec.Confidence, rec.Reason)
		}
	}
	if b.Len() == 0 {
		b.WriteString("no suggestions for that description; try search-tools")
	}
	return &ports.ToolResult{
		CallID:  call.ID,
		Content: b.String(),
		Metadata: map[string]any{
			"tools":  names,
			"layers": recommendations,
		},
	}, nil
}

// toolUsageStats exposes the persisted per-tool call counters.
type toolUsageStats struct {
	deps Deps
}

func newToolUsageStats(deps Deps) ports.ToolExecutor {
	return &toolUsageStats{deps: deps}
}

func (t *toolUsageStats) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "get-tool-usage-stats",
		Version:       "1.0.0",
		Category:      ports.CategoryDiscovery,
		Priority:      5,
		ContextWeight: 30,
		Tags:          []string{"discovery", "stats", "usage"},
		LoadByDefault: true,
	}
}

func (t *toolUsageStats) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "get-tool-usage-stats",
		Description: "Report per-tool call counts and layer activation history.",
		InputSchema: ports.ParameterSchema{Type: "object", Properties: map[string]ports.Property{}},
	}
}

func (t *toolUsageStats) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	counts := t.deps.Registry.UsageStats()
	history := t.deps.Layers.History()

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})

	var b strings.Builder
	if len(names) == 0 {
		b.WriteString("no tool calls recorded yet\n")
	} else {
		b.WriteString("Tool usage:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %d call(s)\n", name, counts[name])
		}
	}
	if len(history) > 0 {
		fmt.Fprintf(&b, "\nLayer transitions (last %d):\n", len(history))
		for _, entry := range history {
			fmt.Fprintf(&b, "- %s %s %s (weight %d)\n",
				entry.Timestamp.Format("15:04:05"), entry.Action, entry.LayerID, entry.Weight)
		}
	}
	return &ports.ToolResult{
		CallID:  call.ID,
		Content: b.String(),
		Metadata: map[string]any{
			"usage":        counts,
			"layerHistory": history,
		},
	}, nil
}
