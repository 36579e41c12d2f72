package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"roughcut/internal/broker"
	"roughcut/internal/checkpoint"
	"roughcut/internal/config"
	"roughcut/internal/contextmgr"
	"roughcut/internal/discovery"
	"roughcut/internal/external"
	"roughcut/internal/layers"
	"roughcut/internal/logging"
	"roughcut/internal/observability"
	"roughcut/internal/portalloc"
	"roughcut/internal/project"
	"roughcut/internal/registry"
	"roughcut/internal/studio"
	"roughcut/internal/tools"
	"roughcut/internal/transform"
	"roughcut/internal/utils"
	"roughcut/internal/validator"
)

// app is the composition root. Every singleton is constructed here and
// disposed in Close; no package keeps module-level state.
type app struct {
	cfg         *config.Config
	logger      logging.Logger
	registry    *registry.Registry
	contextMgr  *contextmgr.Manager
	layers      *layers.Manager
	studio      *studio.Manager
	scanner     *discovery.Scanner
	alloc       *portalloc.Allocator
	projects    *project.Store
	checkpoints *checkpoint.Store
	pipeline    *transform.Pipeline
	metrics     *observability.MetricsCollector

	janitorStop chan struct{}
}

// newApp loads configuration and wires every component.
func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Logging.Level != "" {
		utils.GetLogger().SetLevel(utils.ParseLevel(cfg.Logging.Level))
	}
	applyLogLevel()
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare directories: %w", err)
	}

	logger := logging.NewComponentLogger("app")

	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{
		Enabled: cfg.Metrics.Enabled,
		Port:    cfg.Metrics.Port,
	}, logging.NewComponentLogger("metrics"))
	if err != nil {
		return nil, fmt.Errorf("start metrics: %w", err)
	}

	ctxMgr := contextmgr.New(logging.NewComponentLogger("context"), contextmgr.Options{
		MaxWeight:     cfg.Context.MaxWeight,
		WarningRatio:  cfg.Context.Warning,
		CriticalRatio: cfg.Context.Critical,
		AutoOptimize:  cfg.Context.AutoOptimize,
		Strategy:      contextmgr.ParseStrategy(cfg.Context.Strategy),
	})

	reg := registry.New(ctxMgr, cfg.HasCredential, cfg.AssetsDir, logging.NewComponentLogger("registry"))

	layerMgr := layers.New(ctxMgr, func(tool string) int {
		if meta, ok := reg.Metadata(tool); ok {
			return meta.ContextWeight
		}
		return 0
	}, logging.NewComponentLogger("layers"), layers.Options{
		MaxActive:       cfg.Layers.MaxActive,
		AutoResolveDeps: cfg.Layers.AutoResolveDependencies,
		EnforceExcl:     cfg.Layers.EnforceExclusivity,
		TrackHistory:    cfg.Layers.TrackHistory,
		StrictCycles:    cfg.Layers.StrictDependencyCycles,
		AutoDeactivate:  cfg.Context.AutoOptimize,
	})

	alloc := portalloc.New(cfg.PortRange, logging.NewComponentLogger("ports"))
	scanner := discovery.NewScanner(cfg.PortRange, logging.NewComponentLogger("discovery"))
	studioMgr := studio.NewManager(alloc, scanner, logging.NewComponentLogger("studio"))
	projects := project.NewStore(cfg.ProjectsDir)

	checkpoints, err := checkpoint.NewStore(cfg.AssetsDir, logging.NewComponentLogger("checkpoint"), checkpoint.Options{})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	sourceValidator := validator.New(logging.NewComponentLogger("validator"))
	pipeline := transform.New(checkpoints, sourceValidator,
		logging.NewComponentLogger("transform"), transform.Options{
			BackupRetain: cfg.FileMgmt.BackupRetain,
		})

	deps := tools.Deps{
		Config:      cfg,
		Registry:    reg,
		Layers:      layerMgr,
		Context:     ctxMgr,
		Studio:      studioMgr,
		Scanner:     scanner,
		Alloc:       alloc,
		Projects:    projects,
		Pipeline:    pipeline,
		Checkpoints: checkpoints,
		Validator:   sourceValidator,
		Metrics:     metrics,
		Logger:      logger,
	}
	if cfg.HasCredential("elevenlabs") && cfg.AudioEnabled {
		deps.Voice = external.NewVoiceClient(cfg.APIEndpoints.ElevenLabs, cfg.APIKeys.ElevenLabs,
			filepath.Join(cfg.AssetsDir, "voice"), logging.NewComponentLogger("elevenlabs"))
	}
	if cfg.HasCredential("freesound") && cfg.AudioEnabled {
		deps.Sounds = external.NewSoundClient(cfg.APIEndpoints.Freesound, cfg.APIKeys.Freesound,
			filepath.Join(cfg.AssetsDir, "sfx"), logging.NewComponentLogger("freesound"))
	}
	if cfg.HasCredential("flux") {
		deps.Images = external.NewImageClient(cfg.APIEndpoints.Flux, cfg.APIKeys.Flux,
			filepath.Join(cfg.AssetsDir, "image"), logging.NewComponentLogger("flux"))
	}

	if err := tools.RegisterAll(deps); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	a := &app{
		cfg:         cfg,
		logger:      logger,
		registry:    reg,
		contextMgr:  ctxMgr,
		layers:      layerMgr,
		studio:      studioMgr,
		scanner:     scanner,
		alloc:       alloc,
		projects:    projects,
		checkpoints: checkpoints,
		pipeline:    pipeline,
		metrics:     metrics,
	}
	a.janitorStop = make(chan struct{})
	checkpoints.StartJanitor(0, a.janitorStop)
	return a, nil
}

func (a *app) newBroker(in io.Reader, out io.Writer) *broker.Server {
	return broker.NewServer(a.registry, a.metrics, logging.NewComponentLogger("broker"), in, out)
}

// Close disposes the singletons in reverse construction order.
func (a *app) Close(ctx context.Context) {
	close(a.janitorStop)
	if _, err := a.studio.Shutdown(studio.ShutdownOptions{All: true}); err != nil {
		a.logger.Warn("studio shutdown: %v", err)
	}
	if err := a.checkpoints.Close(); err != nil {
		a.logger.Warn("checkpoint close: %v", err)
	}
	if err := a.registry.Close(); err != nil {
		a.logger.Warn("registry close: %v", err)
	}
	if err := a.metrics.Shutdown(ctx); err != nil {
		a.logger.Warn("metrics shutdown: %v", err)
	}
}
