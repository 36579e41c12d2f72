package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"roughcut/internal/ports"
	"roughcut/internal/studio"
)

// launchStudio starts (or reuses) a preview studio for a project.
type launchStudio struct {
	deps Deps
}

func newLaunchStudio(deps Deps) ports.ToolExecutor {
	return &launchStudio{deps: deps}
}

func (t *launchStudio) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "launch-remotion-studio",
		Version:       "1.0.0",
		Category:      ports.CategoryStudioMgmt,
		Priority:      1,
		ContextWeight: 120,
		Tags:          []string{"studio", "launch", "preview"},
	}
}

func (t *launchStudio) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "launch-remotion-studio",
		Description: "Launch a preview studio for a project, reusing a responsive instance on the same project when possible.",
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"project":  {Type: "string", Description: "Project name under the projects directory."},
				"port":     {Type: "integer", Description: "Preferred port; allocator picks when omitted or busy."},
				"force":    {Type: "boolean", Description: "Always start a new instance instead of reusing."},
				"validate": {Type: "boolean", Description: "Verify the studio over HTTP before reporting success."},
			},
			Required: []string{"project"},
		},
	}
}

func (t *launchStudio) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	name, err := call.StringArg("project")
	if err != nil {
		return errorResult(call, err)
	}
	start := time.Now()
	result, err := t.deps.Studio.Launch(ctx, studio.LaunchOptions{
		ProjectPath:      t.deps.Projects.Path(name),
		PreferredPort:    call.OptionalInt("port", 0),
		ForceNewInstance: call.OptionalBool("force", false),
		Validate:         call.OptionalBool("validate", true),
	})
	if err != nil {
		t.deps.Metrics.RecordStudioLaunch(ctx, "failed")
		return errorResult(call, err)
	}
	outcome := "launched"
	if result.Reused {
		outcome = "reused"
	}
	t.deps.Metrics.RecordStudioLaunch(ctx, outcome)

	content := fmt.Sprintf("studio %s on http://localhost:%d (pid %d) in %s",
		outcome, result.Port, result.PID, time.Since(start).Round(time.Millisecond))
	return &ports.ToolResult{
		CallID:   call.ID,
		Content:  content,
		Metadata: map[string]any{"launch": result},
	}, nil
}

// stopStudio shuts down studios by port, pid, or all at once.
type stopStudio struct {
	deps Deps
}

func newStopStudio(deps Deps) ports.ToolExecutor {
	return &stopStudio{deps: deps}
}

func (t *stopStudio) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "stop-remotion-studio",
		Version:       "1.0.0",
		Category:      ports.CategoryStudioMgmt,
		Priority:      2,
		ContextWeight: 80,
		Tags:          []string{"studio", "shutdown"},
	}
}

func (t *stopStudio) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "stop-remotion-studio",
		Description: "Stop a running studio by port or pid, or all managed studios.",
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"port":  {Type: "integer", Description: "Port of the studio to stop."},
				"pid":   {Type: "integer", Description: "Process id of the studio to stop."},
				"all":   {Type: "boolean", Description: "Stop every managed studio."},
				"force": {Type: "boolean", Description: "Skip graceful shutdown and kill immediately."},
			},
		},
	}
}

func (t *stopStudio) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	opts := studio.ShutdownOptions{
		Port:  call.OptionalInt("port", 0),
		PID:   call.OptionalInt("pid", 0),
		All:   call.OptionalBool("all", false),
		Force: call.OptionalBool("force", false),
	}
	if opts.Port == 0 && opts.PID == 0 && !opts.All {
		return errorResult(call, fmt.Errorf("pass port, pid, or all"))
	}
	stopped, err := t.deps.Studio.Shutdown(opts)
	if err != nil {
		return errorResult(call, err)
	}
	if len(stopped) == 0 {
		return &ports.ToolResult{CallID: call.ID, Content: "no studios matched"}, nil
	}
	return &ports.ToolResult{
		CallID:   call.ID,
		Content:  fmt.Sprintf("stopped %d studio(s): pids %v", len(stopped), stopped),
		Metadata: map[string]any{"stopped": stopped},
	}, nil
}

// studioStatus merges managed and discovered studios into one view.
type studioStatus struct {
	deps Deps
}

func newStudioStatus(deps Deps) ports.ToolExecutor {
	return &studioStatus{deps: deps}
}

func (t *studioStatus) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "get-studio-status",
		Version:       "1.0.0",
		Category:      ports.CategoryStudioMgmt,
		Priority:      3,
		ContextWeight: 60,
		Tags:          []string{"studio", "status"},
	}
}

func (t *studioStatus) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "get-studio-status",
		Description: "Report every managed and discovered studio with responsiveness and project info.",
		InputSchema: ports.ParameterSchema{Type: "object", Properties: map[string]ports.Property{}},
	}
}

func (t *studioStatus) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	procs, err := t.deps.Studio.Status(ctx)
	if err != nil {
		return errorResult(call, err)
	}
	if len(procs) == 0 {
		return &ports.ToolResult{CallID: call.ID, Content: "no studios running"}, nil
	}
	var b strings.Builder
	for _, proc := range procs {
		state := "unresponsive"
		if proc.Responsive {
			state = "responsive"
		}
		project := proc.ProjectName
		if project == "" {
			project = "unknown project"
		}
		fmt.Fprintf(&b, "- port %d (pid %d, %s): %s via %s\n",
			proc.Port, proc.PID, state, project, proc.DiscoveryMethod)
	}
	return &ports.ToolResult{
		CallID:   call.ID,
		Content:  b.String(),
		Metadata: map[string]any{"studios": procs},
	}, nil
}

// cleanupStudios reaps dead and unresponsive managed studios.
type cleanupStudios struct {
	deps Deps
}

func newCleanupStudios(deps Deps) ports.ToolExecutor {
	return &cleanupStudios{deps: deps}
}

func (t *cleanupStudios) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "cleanup-studios",
		Version:       "1.0.0",
		Category:      ports.CategoryStudioMgmt,
		Priority:      4,
		ContextWeight: 50,
		Tags:          []string{"studio", "cleanup"},
	}
}

func (t *cleanupStudios) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "cleanup-studios",
		Description: "Kill managed studios that are dead or no longer responding.",
		InputSchema: ports.ParameterSchema{Type: "object", Properties: map[string]ports.Property{}},
	}
}

func (t *cleanupStudios) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	reaped := t.deps.Studio.Cleanup(ctx)
	if len(reaped) == 0 {
		return &ports.ToolResult{CallID: call.ID, Content: "nothing to clean up"}, nil
	}
	return &ports.ToolResult{
		CallID:   call.ID,
		Content:  fmt.Sprintf("reaped %d studio(s): pids %v", len(reaped), reaped),
		Metadata: map[string]any{"reaped": reaped},
	}, nil
}

// discoverStudios scans the configured port range for live renderers.
type discoverStudios struct {
	deps Deps
}

func newDiscoverStudios(deps Deps) ports.ToolExecutor {
	return &discoverStudios{deps: deps}
}

func (t *discoverStudios) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "discover-running-studios",
		Version:       "1.0.0",
		Category:      ports.CategoryStudioMgmt,
		Priority:      5,
		ContextWeight: 70,
		Tags:          []string{"studio", "discovery", "ports"},
	}
}

func (t *discoverStudios) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "discover-running-studios",
		Description: "Probe the studio port range and classify what answers: renderers, other HTTP services, conflicts.",
		InputSchema: ports.ParameterSchema{Type: "object", Properties: map[string]ports.Property{}},
	}
}

func (t *discoverStudios) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	result, err := t.deps.Scanner.Discover(ctx)
	if err != nil {
		return errorResult(call, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "scanned %d port(s): %d renderer(s), %d other service(s), %d conflict(s)\n",
		result.Total, len(result.Renderers), len(result.Other), len(result.Conflicts))
	for _, proc := range result.Renderers {
		name := proc.ProjectName
		if name == "" {
			name = "unknown project"
		}
		fmt.Fprintf(&b, "- renderer on port %d: %s\n", proc.Port, name)
	}
	for _, conflict := range result.Conflicts {
		fmt.Fprintf(&b, "- conflict on port %d: %s\n", conflict.Port, conflict.Conflict)
	}
	return &ports.ToolResult{
		CallID:   call.ID,
		Content:  b.String(),
		Metadata: map[string]any{"scan": result},
	}, nil
}
