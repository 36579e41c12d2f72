package tools

import (
	"context"
	"fmt"
	"strings"

	"roughcut/internal/ports"
	"roughcut/internal/project"
)

// purgeStaleCheckpoints drops expired transform checkpoints.
type purgeStaleCheckpoints struct {
	deps Deps
}

func newPurgeStaleCheckpoints(deps Deps) ports.ToolExecutor {
	return &purgeStaleCheckpoints{deps: deps}
}

func (t *purgeStaleCheckpoints) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "purge-stale-checkpoints",
		Version:       "1.0.0",
		Category:      ports.CategoryMaintenance,
		Priority:      1,
		ContextWeight: 40,
		Tags:          []string{"maintenance", "checkpoint", "cleanup"},
	}
}

func (t *purgeStaleCheckpoints) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "purge-stale-checkpoints",
		Description: "Delete transform checkpoints older than the retention window and list what remains.",
		InputSchema: ports.ParameterSchema{Type: "object", Properties: map[string]ports.Property{}},
	}
}

func (t *purgeStaleCheckpoints) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	purged := t.deps.Checkpoints.PurgeExpired()
	remaining := t.deps.Checkpoints.List()

	content := fmt.Sprintf("purged %d checkpoint(s); %d remain", purged, len(remaining))
	if len(remaining) > 0 {
		content += ": " + strings.Join(remaining, ", ")
	}
	return &ports.ToolResult{
		CallID:  call.ID,
		Content: content,
		Metadata: map[string]any{
			"purged":    purged,
			"remaining": remaining,
		},
	}, nil
}

// pruneBackups trims old composition snapshots across projects.
type pruneBackups struct {
	deps Deps
}

func newPruneBackups(deps Deps) ports.ToolExecutor {
	return &pruneBackups{deps: deps}
}

func (t *pruneBackups) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "prune-backups",
		Version:       "1.0.0",
		Category:      ports.CategoryMaintenance,
		Priority:      2,
		ContextWeight: 50,
		Tags:          []string{"maintenance", "backup", "cleanup"},
	}
}

func (t *pruneBackups) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "prune-backups",
		Description: "Trim composition backups to the retention count, for one project or all of them.",
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"project": {Type: "string", Description: "Project to prune; all projects when omitted."},
				"retain":  {Type: "integer", Description: "Snapshots to keep (default from configuration)."},
			},
		},
	}
}

func (t *pruneBackups) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	retain := call.OptionalInt("retain", t.deps.Config.FileMgmt.BackupRetain)

	var names []string
	if name := call.OptionalString("project", ""); name != "" {
		names = []string{name}
	} else {
		listed, err := t.deps.Projects.List()
		if err != nil {
			return errorResult(call, err)
		}
		names = listed
	}

	var pruned []string
	for _, name := range names {
		if err := project.PruneBackups(t.deps.Projects.Path(name), retain); err != nil {
			return errorResult(call, err)
		}
		pruned = append(pruned, name)
	}
	return &ports.ToolResult{
		CallID:   call.ID,
		Content:  fmt.Sprintf("pruned backups for %d project(s), keeping %d each", len(pruned), retain),
		Metadata: map[string]any{"projects": pruned, "retain": retain},
	}, nil
}

// brokerMetrics surfaces internal counters without touching the host channel.
type brokerMetrics struct {
	deps Deps
}

func newBrokerMetrics(deps Deps) ports.ToolExecutor {
	return &brokerMetrics{deps: deps}
}

func (t *brokerMetrics) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "get-broker-metrics",
		Version:       "1.0.0",
		Category:      ports.CategoryMaintenance,
		Priority:      3,
		ContextWeight: 40,
		Tags:          []string{"maintenance", "metrics", "status"},
	}
}

func (t *brokerMetrics) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "get-broker-metrics",
		Description: "Report context utilization, catalog size, live checkpoints, and top tool usage.",
		InputSchema: ports.ParameterSchema{Type: "object", Properties: map[string]ports.Property{}},
	}
}

func (t *brokerMetrics) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	stats := t.deps.Context.Statistics()
	usage := t.deps.Registry.UsageStats()
	checkpoints := t.deps.Checkpoints.List()
	categories := t.deps.Registry.Categories()

	totalTools, activeTools := 0, 0
	for _, c := range categories {
		totalTools += c.Total
		activeTools += c.Active
	}

	var b strings.Builder
	fmt.Fprintf(&b, "context: %d/%d weight (%.0f%%, %s pressure), %d item(s)\n",
		stats.TotalWeight, stats.MaxWeight, stats.Utilization*100, stats.Pressure, stats.ItemCount)
	fmt.Fprintf(&b, "catalog: %d/%d tool(s) active across %d categories\n",
		activeTools, totalTools, len(categories))
	fmt.Fprintf(&b, "checkpoints: %d in flight\n", len(checkpoints))
	fmt.Fprintf(&b, "tool calls recorded: %d distinct tool(s)\n", len(usage))

	return &ports.ToolResult{
		CallID:  call.ID,
		Content: b.String(),
		Metadata: map[string]any{
			"context":     stats,
			"usage":       usage,
			"checkpoints": checkpoints,
			"categories":  categories,
		},
	}, nil
}
