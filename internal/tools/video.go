package tools

import (
	"context"
	"fmt"
	"strings"

	rcerrors "roughcut/internal/errors"
	"roughcut/internal/ports"
	"roughcut/internal/project"
	"roughcut/internal/studio"
	"roughcut/internal/transform"
)

// createCompleteVideo is the one-call happy path: install composition source
// into a project, optionally synthesize narration, optionally open a preview
// studio.
type createCompleteVideo struct {
	deps Deps
}

func newCreateCompleteVideo(deps Deps) ports.ToolExecutor {
	return &createCompleteVideo{deps: deps}
}

func (t *createCompleteVideo) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "create-complete-video",
		Version:       "1.0.0",
		Category:      ports.CategoryVideoCreation,
		Priority:      1,
		ContextWeight: 200,
		Tags:          []string{"video", "create", "composition", "studio"},
	}
}

func (t *createCompleteVideo) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "create-complete-video",
		Description: "Install composition source into a project, optionally generate narration audio, and optionally launch a preview studio.",
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"project":      {Type: "string", Description: "Target project name."},
				"source":       {Type: "string", Description: "Composition source to install."},
				"narration":    {Type: "string", Description: "Narration text to synthesize (requires the voice credential)."},
				"launchStudio": {Type: "boolean", Description: "Open a preview studio after installing (default true)."},
				"operationId":  {Type: "string", Description: "Operation id from a paused run, to resume."},
			},
			Required: []string{"project", "source"},
		},
	}
}

func (t *createCompleteVideo) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	name, err := call.StringArg("project")
	if err != nil {
		return errorResult(call, err)
	}
	source, err := call.StringArg("source")
	if err != nil {
		return errorResult(call, err)
	}
	projectPath := t.deps.Projects.Path(name)
	if err := project.Validate(projectPath); err != nil {
		return errorResult(call, err)
	}

	result, err := t.deps.Pipeline.Transform(ctx, transform.Request{
		OperationID: call.OptionalString("operationId", ""),
		ProjectName: name,
		ProjectPath: projectPath,
		Source:      source,
	})
	if err != nil {
		if paused, ok := rcerrors.AsResumableTimeout(err); ok {
			t.deps.Metrics.RecordTransformPause(ctx, paused.Stage)
			return &ports.ToolResult{
				CallID:  call.ID,
				Content: paused.Error(),
				Metadata: map[string]any{
					"operationId": paused.OperationID,
					"resumable":   true,
				},
				Error: paused.Envelope("create-complete-video"),
			}, nil
		}
		return errorResult(call, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "composition installed at %s\n", result.WrittenPath)
	meta := map[string]any{"transform": result}

	if narration := call.OptionalString("narration", ""); narration != "" {
		if t.deps.Voice == nil {
			fmt.Fprintf(&b, "narration skipped: set %s to enable voice generation\n",
				voiceCredentialVar())
		} else {
			voice, err := t.deps.Voice.Synthesize(ctx, voiceRequest(narration))
			if err != nil {
				fmt.Fprintf(&b, "narration failed: %v\n", err)
			} else {
				fmt.Fprintf(&b, "narration written to %s\n", voice.Path)
				meta["narration"] = voice
			}
		}
	}

	if call.OptionalBool("launchStudio", true) {
		launch, err := t.deps.Studio.Launch(ctx, studio.LaunchOptions{
			ProjectPath: projectPath,
			Validate:    true,
		})
		if err != nil {
			t.deps.Metrics.RecordStudioLaunch(ctx, "failed")
			fmt.Fprintf(&b, "studio launch failed: %v\n", err)
		} else {
			outcome := "launched"
			if launch.Reused {
				outcome = "reused"
			}
			t.deps.Metrics.RecordStudioLaunch(ctx, outcome)
			fmt.Fprintf(&b, "preview %s at http://localhost:%d\n", outcome, launch.Port)
			meta["studio"] = launch
		}
	}

	return &ports.ToolResult{CallID: call.ID, Content: b.String(), Metadata: meta}, nil
}

// updateComposition replaces an existing composition, insisting that one is
// already installed so a typo'd project name fails loudly.
type updateComposition struct {
	deps Deps
}

func newUpdateComposition(deps Deps) ports.ToolExecutor {
	return &updateComposition{deps: deps}
}

func (t *updateComposition) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "update-composition",
		Version:       "1.0.0",
		Category:      ports.CategoryVideoCreation,
		Priority:      2,
		ContextWeight: 150,
		Tags:          []string{"video", "update", "composition"},
	}
}

func (t *updateComposition) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "update-composition",
		Description: "Replace an existing composition with new source, backing up the current version first.",
		InputSchema: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"project":     {Type: "string", Description: "Project whose composition to update."},
				"source":      {Type: "string", Description: "New composition source."},
				"operationId": {Type: "string", Description: "Operation id from a paused run, to resume."},
			},
			Required: []string{"project", "source"},
		},
	}
}

func (t *updateComposition) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	name, err := call.StringArg("project")
	if err != nil {
		return errorResult(call, err)
	}
	source, err := call.StringArg("source")
	if err != nil {
		return errorResult(call, err)
	}
	projectPath := t.deps.Projects.Path(name)
	if _, err := project.CompositionPath(projectPath); err != nil {
		return errorResult(call, rcerrors.Wrap(err, rcerrors.KindFilesystem, "update-composition", "check",
			fmt.Sprintf("project %s has no composition; use create-complete-video", name)))
	}

	result, err := t.deps.Pipeline.Transform(ctx, transform.Request{
		OperationID: call.OptionalString("operationId", ""),
		ProjectName: name,
		ProjectPath: projectPath,
		Source:      source,
	})
	if err != nil {
		if paused, ok := rcerrors.AsResumableTimeout(err); ok {
			t.deps.Metrics.RecordTransformPause(ctx, paused.Stage)
			return &ports.ToolResult{
				CallID:  call.ID,
				Content: paused.Error(),
				Metadata: map[string]any{
					"operationId": paused.OperationID,
					"resumable":   true,
				},
				Error: paused.Envelope("update-composition"),
			}, nil
		}
		return errorResult(call, err)
	}

	content := fmt.Sprintf("composition updated at %s (backup: %s)", result.WrittenPath, result.BackupPath)
	return &ports.ToolResult{
		CallID:   call.ID,
		Content:  content,
		Metadata: map[string]any{"transform": result},
	}, nil
}
