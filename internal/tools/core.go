package tools

import (
	"context"
	"fmt"
	"strings"

	rcerrors "roughcut/internal/errors"
	"roughcut/internal/ports"
	"roughcut/internal/project"
	"roughcut/internal/transform"
	"roughcut/internal/validator"
)

// transformComposition runs source through the full resumable pipeline and
// writes the result into the project.
type transformComposition struct {
	deps Deps
}

func newTransformComposition(deps Deps) ports.ToolExecutor {
	return &transformComposition{deps: deps}
}

func (t *transformComposition) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "transform-composition",
		Version:       "1.0.0",
		Category:      ports.CategoryCoreOperations,
		Priority:      1,
		ContextWeight: 150,
		Tags:          []string{"composition", "transform", "pipeline"},
	}
}

func (t *transformComposition) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "transform-composition",
		Description: "Clean, validate, and install composition source into a project. Long inputs may pause; retry with the returned operationId to resume.",
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"project":     {Type: "string", Description: "Target project name."},
				"source":      {Type: "string", Description: "Raw composition source to install."},
				"operationId": {Type: "string", Description: "Operation id from a paused run, to resume."},
			},
			Required: []string{"project"},
		},
	}
}

func (t *transformComposition) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	name, err := call.StringArg("project")
	if err != nil {
		return errorResult(call, err)
	}
	operationID := call.OptionalString("operationId", "")
	source := call.OptionalString("source", "")
	if source == "" && operationID == "" {
		return errorResult(call, fmt.Errorf("pass source, or operationId to resume"))
	}

	result, err := t.deps.Pipeline.Transform(ctx, transform.Request{
		OperationID: operationID,
		ProjectName: name,
		ProjectPath: t.deps.Projects.Path(name),
		Source:      source,
	})
	if err != nil {
		if paused, ok := rcerrors.AsResumableTimeout(err); ok {
			t.deps.Metrics.RecordTransformPause(ctx, paused.Stage)
			t.deps.Metrics.RecordTransformChunks(ctx, paused.ChunkIndex)
			envelope := paused.Envelope("transform-composition")
			return &ports.ToolResult{
				CallID:  call.ID,
				Content: paused.Error(),
				Metadata: map[string]any{
					"operationId": paused.OperationID,
					"stage":       paused.Stage,
					"progress":    paused.Progress,
					"resumable":   true,
				},
				Error: envelope,
			}, nil
		}
		return errorResult(call, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "composition installed at %s", result.WrittenPath)
	if result.BackupPath != "" {
		fmt.Fprintf(&b, " (previous version backed up to %s)", result.BackupPath)
	}
	if len(result.Repairs) > 0 {
		fmt.Fprintf(&b, "\napplied %d repair(s):", len(result.Repairs))
		for _, repair := range result.Repairs {
			fmt.Fprintf(&b, "\n- [%s] %s", repair.Pass, repair.Message)
		}
	}
	return &ports.ToolResult{
		CallID:   call.ID,
		Content:  b.String(),
		Metadata: map[string]any{"transform": result},
	}, nil
}

// validateComposition reports repairs without applying them to disk.
type validateComposition struct {
	deps Deps
}

func newValidateComposition(deps Deps) ports.ToolExecutor {
	return &validateComposition{deps: deps}
}

func (t *validateComposition) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "validate-composition",
		Version:       "1.0.0",
		Category:      ports.CategoryCoreOperations,
		Priority:      2,
		ContextWeight: 100,
		Tags:          []string{"composition", "validate"},
	}
}

func (t *validateComposition) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "validate-composition",
		Description: "Run the repair passes over composition source and report what they would change, without writing anything.",
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"source":  {Type: "string", Description: "Source text to validate. Omit to read the project's composition."},
				"project": {Type: "string", Description: "Project whose composition to validate when source is omitted."},
			},
		},
	}
}

func (t *validateComposition) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	source, err := resolveSource(call, t.deps)
	if err != nil {
		return errorResult(call, err)
	}

	report := t.deps.Validator.Validate(source)
	structure := validator.CheckStructure(report.Source)

	var b strings.Builder
	if report.Fixed {
		fmt.Fprintf(&b, "%d issue(s) found:\n", len(report.Issues))
		for _, issue := range report.Issues {
			fmt.Fprintf(&b, "- [%s] %s\n", issue.Pass, issue.Message)
		}
	} else {
		b.WriteString("no repairs needed\n")
	}
	if !structure.OK() {
		fmt.Fprintf(&b, "structural check failed: return=%v jsx=%v declaration=%v braceDelta=%d\n",
			structure.HasReturn, structure.HasJSX, structure.HasDeclaration, structure.BraceDelta)
	}
	return &ports.ToolResult{
		CallID:  call.ID,
		Content: b.String(),
		Metadata: map[string]any{
			"fixed":     report.Fixed,
			"issues":    report.Issues,
			"structure": structure,
		},
	}, nil
}

// repairComposition applies the repair passes and writes the result back.
type repairComposition struct {
	deps Deps
}

func newRepairComposition(deps Deps) ports.ToolExecutor {
	return &repairComposition{deps: deps}
}

func (t *repairComposition) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "repair-composition",
		Version:       "1.0.0",
		Category:      ports.CategoryCoreOperations,
		Priority:      3,
		ContextWeight: 120,
		Tags:          []string{"composition", "repair", "fix"},
	}
}

func (t *repairComposition) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "repair-composition",
		Description: "Apply the import, export, and interpolation repair passes to a project's composition and save the result (with backup).",
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"project": {Type: "string", Description: "Project whose composition to repair."},
			},
			Required: []string{"project"},
		},
	}
}

func (t *repairComposition) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	name, err := call.StringArg("project")
	if err != nil {
		return errorResult(call, err)
	}
	projectPath := t.deps.Projects.Path(name)
	source, err := readComposition(projectPath)
	if err != nil {
		return errorResult(call, err)
	}

	report := t.deps.Validator.Validate(source)
	if !report.Fixed {
		return &ports.ToolResult{CallID: call.ID, Content: "composition is already clean"}, nil
	}

	backup, err := project.Backup(projectPath, t.deps.Config.FileMgmt.BackupRetain)
	if err != nil {
		return errorResult(call, err)
	}
	if err := writeComposition(projectPath, report.Source); err != nil {
		return errorResult(call, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "applied %d repair(s):\n", len(report.Issues))
	for _, issue := range report.Issues {
		fmt.Fprintf(&b, "- [%s] %s\n", issue.Pass, issue.Message)
	}
	if backup != "" {
		fmt.Fprintf(&b, "previous version backed up to %s\n", backup)
	}
	return &ports.ToolResult{
		CallID:  call.ID,
		Content: b.String(),
		Metadata: map[string]any{
			"issues": report.Issues,
			"diff":   report.Diff,
			"backup": backup,
		},
	}, nil
}

// listProjects enumerates valid renderer projects.
type listProjects struct {
	deps Deps
}

func newListProjects(deps Deps) ports.ToolExecutor {
	return &listProjects{deps: deps}
}

func (t *listProjects) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "list-projects",
		Version:       "1.0.0",
		Category:      ports.CategoryCoreOperations,
		Priority:      4,
		ContextWeight: 40,
		Tags:          []string{"project", "list"},
	}
}

func (t *listProjects) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "list-projects",
		Description: "List renderer projects under the projects directory.",
		InputSchema: ports.ParameterSchema{Type: "object", Properties: map[string]ports.Property{}},
	}
}

func (t *listProjects) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	names, err := t.deps.Projects.List()
	if err != nil {
		return errorResult(call, err)
	}
	if len(names) == 0 {
		return &ports.ToolResult{CallID: call.ID, Content: "no projects found"}, nil
	}
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	return &ports.ToolResult{
		CallID:   call.ID,
		Content:  b.String(),
		Metadata: map[string]any{"projects": names},
	}, nil
}

// backupComposition snapshots a project's composition file.
type backupComposition struct {
	deps Deps
}

func newBackupComposition(deps Deps) ports.ToolExecutor {
	return &backupComposition{deps: deps}
}

func (t *backupComposition) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "backup-composition",
		Version:       "1.0.0",
		Category:      ports.CategoryCoreOperations,
		Priority:      5,
		ContextWeight: 50,
		Tags:          []string{"composition", "backup"},
	}
}

func (t *backupComposition) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "backup-composition",
		Description: "Snapshot the project's composition into its backup directory, pruning old snapshots.",
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"project": {Type: "string", Description: "Project to back up."},
			},
			Required: []string{"project"},
		},
	}
}

func (t *backupComposition) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	name, err := call.StringArg("project")
	if err != nil {
		return errorResult(call, err)
	}
	path, err := project.Backup(t.deps.Projects.Path(name), t.deps.Config.FileMgmt.BackupRetain)
	if err != nil {
		return errorResult(call, err)
	}
	if path == "" {
		return &ports.ToolResult{CallID: call.ID, Content: "project has no composition to back up yet"}, nil
	}
	return &ports.ToolResult{
		CallID:   call.ID,
		Content:  "backed up to " + path,
		Metadata: map[string]any{"backup": path},
	}, nil
}

// restoreComposition rolls a composition back to a saved snapshot.
type restoreComposition struct {
	deps Deps
}

func newRestoreComposition(deps Deps) ports.ToolExecutor {
	return &restoreComposition{deps: deps}
}

func (t *restoreComposition) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "restore-composition",
		Version:       "1.0.0",
		Category:      ports.CategoryCoreOperations,
		Priority:      6,
		ContextWeight: 50,
		Tags:          []string{"composition", "restore", "backup"},
	}
}

func (t *restoreComposition) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "restore-composition",
		Description: "Replace the project's composition with a backup snapshot (newest by default).",
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"project": {Type: "string", Description: "Project to restore."},
				"backup":  {Type: "string", Description: "Backup file name; newest when omitted."},
			},
			Required: []string{"project"},
		},
	}
}

func (t *restoreComposition) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	name, err := call.StringArg("project")
	if err != nil {
		return errorResult(call, err)
	}
	projectPath := t.deps.Projects.Path(name)
	backup := call.OptionalString("backup", "")
	if err := project.Restore(projectPath, backup); err != nil {
		return errorResult(call, err)
	}
	if backup == "" {
		backup = "newest backup"
	}
	return &ports.ToolResult{CallID: call.ID, Content: "restored " + name + " from " + backup}, nil
}

// resolveSource picks inline source or reads the project's composition.
func resolveSource(call ports.ToolCall, deps Deps) (string, error) {
	if source := call.OptionalString("source", ""); source != "" {
		return source, nil
	}
	name := call.OptionalString("project", "")
	if name == "" {
		return "", fmt.Errorf("pass source or project")
	}
	return readComposition(deps.Projects.Path(name))
}

func readComposition(projectPath string) (string, error) {
	path, err := project.CompositionPath(projectPath)
	if err != nil {
		return "", err
	}
	data, err := readFile(path)
	if err != nil {
		return "", rcerrors.Wrap(err, rcerrors.KindFilesystem, "tools", "read", "read composition")
	}
	return data, nil
}

func writeComposition(projectPath, source string) error {
	path, err := project.CompositionPath(projectPath)
	if err != nil {
		return err
	}
	return writeFile(path, source)
}
