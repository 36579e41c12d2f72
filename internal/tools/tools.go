// Package tools holds the concrete tool executors the broker exposes to the
// host, grouped by category, plus the layer definitions that bundle them.
package tools

import (
	"fmt"

	"roughcut/internal/checkpoint"
	"roughcut/internal/config"
	"roughcut/internal/contextmgr"
	"roughcut/internal/discovery"
	"roughcut/internal/external"
	"roughcut/internal/layers"
	"roughcut/internal/logging"
	"roughcut/internal/observability"
	"roughcut/internal/portalloc"
	"roughcut/internal/ports"
	"roughcut/internal/project"
	"roughcut/internal/registry"
	"roughcut/internal/studio"
	"roughcut/internal/transform"
	"roughcut/internal/validator"
)

// Deps is the shared wiring for every executor. Built once at startup by the
// composition root.
type Deps struct {
	Config      *config.Config
	Registry    *registry.Registry
	Layers      *layers.Manager
	Context     *contextmgr.Manager
	Studio      *studio.Manager
	Scanner     *discovery.Scanner
	Alloc       *portalloc.Allocator
	Projects    *project.Store
	Pipeline    *transform.Pipeline
	Checkpoints *checkpoint.Store
	Validator   *validator.Validator
	Voice       *external.VoiceClient
	Sounds      *external.SoundClient
	Images      *external.ImageClient
	Metrics     *observability.MetricsCollector
	Logger      logging.Logger
}

// RegisterAll registers every executor with the registry and defines the
// standard layers. Discovery tools activate immediately; everything else
// waits for an activation request.
func RegisterAll(deps Deps) error {
	executors := []ports.ToolExecutor{
		// discovery (permanently active)
		newDiscoverCapabilities(deps),
		newActivateToolset(deps),
		newSearchTools(deps),
		newSuggestTools(deps),
		newToolUsageStats(deps),

		// studio-management
		newLaunchStudio(deps),
		newStopStudio(deps),
		newStudioStatus(deps),
		newCleanupStudios(deps),
		newDiscoverStudios(deps),

		// core-operations
		newTransformComposition(deps),
		newValidateComposition(deps),
		newRepairComposition(deps),
		newListProjects(deps),
		newBackupComposition(deps),
		newRestoreComposition(deps),

		// video-creation
		newCreateCompleteVideo(deps),
		newUpdateComposition(deps),

		// credential-gated generation
		newGenerateVoiceover(deps),
		newSearchSoundEffects(deps),
		newGenerateImage(deps),

		// maintenance
		newPurgeStaleCheckpoints(deps),
		newPruneBackups(deps),
		newBrokerMetrics(deps),
	}

	for _, executor := range executors {
		if err := deps.Registry.Register(executor); err != nil {
			return fmt.Errorf("register %s: %w", executor.Metadata().Name, err)
		}
	}
	return defineLayers(deps)
}

// defineLayers declares the standard layer set over the registered tools.
func defineLayers(deps Deps) error {
	defs := []layers.Layer{
		{
			ID:          "video-essentials",
			Name:        "Video Essentials",
			Description: "Create and update compositions end to end",
			Tools:       []string{"create-complete-video", "update-composition", "transform-composition", "list-projects"},
			Exclusivity: layers.ExclusivityShared,
			Priority:    1,
		},
		{
			ID:           "studio-control",
			Name:         "Studio Control",
			Description:  "Launch, inspect, and stop preview studios",
			Tools:        []string{"launch-remotion-studio", "stop-remotion-studio", "get-studio-status", "cleanup-studios", "discover-running-studios"},
			Dependencies: []string{"video-essentials"},
			Exclusivity:  layers.ExclusivityShared,
			Priority:     2,
		},
		{
			ID:          "source-repair",
			Name:        "Source Repair",
			Description: "Validate, repair, back up, and restore composition source",
			Tools:       []string{"validate-composition", "repair-composition", "backup-composition", "restore-composition"},
			Exclusivity: layers.ExclusivityShared,
			Priority:    3,
		},
		{
			ID:          "media-generation",
			Name:        "Media Generation",
			Description: "Voiceover, sound effects, and still images",
			Tools:       []string{"generate-voiceover", "search-sound-effects", "generate-image"},
			Exclusivity: layers.ExclusivitySelective,
			Compatible:  []string{"video-essentials", "source-repair"},
			Priority:    4,
		},
		{
			ID:          "housekeeping",
			Name:        "Housekeeping",
			Description: "Checkpoint, backup, and metrics maintenance",
			Tools:       []string{"purge-stale-checkpoints", "prune-backups", "get-broker-metrics"},
			Exclusivity: layers.ExclusivityShared,
			Priority:    5,
		},
	}
	for _, def := range defs {
		if err := deps.Layers.Define(def); err != nil {
			return fmt.Errorf("define layer %s: %w", def.ID, err)
		}
	}
	return nil
}

// errorResult packages a recoverable failure as a host-visible tool result.
func errorResult(call ports.ToolCall, err error) (*ports.ToolResult, error) {
	return &ports.ToolResult{
		CallID:  call.ID,
		Content: err.Error(),
		Error:   err,
	}, nil
}
