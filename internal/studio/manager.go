// Package studio owns the lifecycle of child renderer processes: launch,
// reuse, health validation, shutdown, and cleanup. No other component may
// signal or wait on these children.
package studio

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"roughcut/internal/async"
	"roughcut/internal/discovery"
	rcerrors "roughcut/internal/errors"
	"roughcut/internal/logging"
	"roughcut/internal/portalloc"
	"roughcut/internal/project"
)

const (
	// MaxStartupAttempts bounds the spawn retry loop per launch call.
	MaxStartupAttempts = 3
	// DefaultLaunchTimeout is the absolute ceiling per spawn attempt.
	DefaultLaunchTimeout = 60 * time.Second

	validatePollInterval = 2 * time.Second
)

// readinessTokens on stdout signal a successful studio start.
var readinessTokens = []string{"ready", "server running"}

// LaunchOptions configure a launch request.
type LaunchOptions struct {
	ProjectPath      string
	PreferredPort    int
	ForceNewInstance bool
	Timeout          time.Duration
	Validate         bool
}

// LaunchResult reports the outcome of a launch.
type LaunchResult struct {
	Success     bool   `json:"success"`
	Port        int    `json:"port"`
	PID         int    `json:"pid,omitempty"`
	Reused      bool   `json:"reused"`
	ProjectPath string `json:"projectPath"`
	Message     string `json:"message,omitempty"`
}

// ShutdownOptions select which studios to stop.
type ShutdownOptions struct {
	Port  int
	PID   int
	All   bool
	Force bool
}

// managedProcess tracks one child we spawned.
type managedProcess struct {
	cmd  *exec.Cmd
	info discovery.StudioProcess
}

// Manager composes the port allocator and scanner into the launch protocol.
type Manager struct {
	alloc   *portalloc.Allocator
	scanner *discovery.Scanner
	logger  logging.Logger
	runner  string // package runner binary, e.g. npx

	mu    sync.Mutex
	procs map[int]*managedProcess // keyed by pid
}

// NewManager creates a studio manager.
func NewManager(alloc *portalloc.Allocator, scanner *discovery.Scanner, logger logging.Logger) *Manager {
	return &Manager{
		alloc:   alloc,
		scanner: scanner,
		logger:  logging.OrNop(logger),
		runner:  defaultRunner(),
		procs:   make(map[int]*managedProcess),
	}
}

func defaultRunner() string {
	if runtime.GOOS == "windows" {
		return "npx.cmd"
	}
	return "npx"
}

// Launch runs the full launch protocol: validate, reuse, allocate, spawn,
// optionally validate over HTTP, record.
func (m *Manager) Launch(ctx context.Context, opts LaunchOptions) (*LaunchResult, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultLaunchTimeout
	}

	if err := project.Validate(opts.ProjectPath); err != nil {
		return nil, err
	}
	resolved, err := filepath.Abs(opts.ProjectPath)
	if err != nil {
		return nil, rcerrors.Wrap(err, rcerrors.KindFilesystem, "studio", "launch", "resolve project path")
	}
	opts.ProjectPath = resolved

	if !opts.ForceNewInstance {
		if result := m.tryReuse(ctx, opts); result != nil {
			return result, nil
		}
	}

	port, err := m.allocatePort(opts.PreferredPort)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= MaxStartupAttempts; attempt++ {
		m.logger.Info("launch attempt %d/%d: project=%s port=%d", attempt, MaxStartupAttempts, opts.ProjectPath, port)
		proc, err := m.spawn(ctx, opts, port)
		if err == nil {
			if opts.Validate {
				if verr := m.validateStudio(ctx, port, opts.Timeout); verr != nil {
					m.logger.Warn("validation failed on port %d: %v", port, verr)
					m.killManaged(proc.info.PID, true)
					lastErr = verr
					continue
				}
			}
			m.scanner.Invalidate(port)
			return &LaunchResult{
				Success:     true,
				Port:        port,
				PID:         proc.info.PID,
				ProjectPath: opts.ProjectPath,
			}, nil
		}
		lastErr = err
	}
	return nil, rcerrors.Wrap(lastErr, rcerrors.KindStudio, "studio", "launch",
		fmt.Sprintf("studio failed to start after %d attempts", MaxStartupAttempts)).
		WithDetail("port", port).
		WithSuggestion(rcerrors.Suggestion{
			Action:   "Check that the renderer dependency is installed in the project",
			Command:  "npm install",
			Priority: 1,
		})
}

// tryReuse returns a result when an existing responsive studio can serve the
// request. Two matching rules: exact resolved-path equality against our own
// children, else any running renderer when exactly one exists. Unresponsive
// matches are force-killed so the caller can relaunch cleanly.
func (m *Manager) tryReuse(ctx context.Context, opts LaunchOptions) *LaunchResult {
	m.mu.Lock()
	var match *managedProcess
	for _, proc := range m.procs {
		if proc.info.ProjectPath == opts.ProjectPath {
			match = proc
			break
		}
	}
	m.mu.Unlock()

	if match != nil {
		if m.responsive(ctx, match.info.Port) {
			m.logger.Info("reusing studio on port %d for %s", match.info.Port, opts.ProjectPath)
			return &LaunchResult{
				Success:     true,
				Port:        match.info.Port,
				PID:         match.info.PID,
				Reused:      true,
				ProjectPath: opts.ProjectPath,
			}
		}
		m.logger.Warn("studio on port %d unresponsive, force-killing pid %d", match.info.Port, match.info.PID)
		m.killManaged(match.info.PID, true)
		return nil
	}

	// Fall back to discovery: a single running renderer is assumed to belong
	// to the active workflow. Two concurrent launches may both take this path;
	// the protocol tolerates duplicate studios.
	scan, err := m.scanner.Discover(ctx)
	if err != nil || len(scan.Renderers) != 1 {
		return nil
	}
	candidate := scan.Renderers[0]
	if !candidate.Responsive {
		return nil
	}
	m.logger.Info("reusing the single running studio on port %d", candidate.Port)
	return &LaunchResult{
		Success:     true,
		Port:        candidate.Port,
		PID:         candidate.PID,
		Reused:      true,
		ProjectPath: opts.ProjectPath,
	}
}

// allocatePort resolves the launch port. A preferred port occupied by a known
// system service is a hard failure that names the occupant; any other
// contention falls through to range scanning.
func (m *Manager) allocatePort(preferred int) (int, error) {
	if preferred != 0 {
		if safe, reason := m.alloc.ValidateSafety(preferred); !safe {
			return 0, rcerrors.New(rcerrors.KindStudio, "studio", "allocate-port",
				fmt.Sprintf("preferred port %d refused: %s", preferred, reason)).
				WithDetail("port", preferred).
				WithSuggestion(rcerrors.Suggestion{
					Action:   "Pick a port outside the deny-list or omit preferredPort",
					Priority: 1,
				})
		}
	}
	info, err := m.alloc.FindAvailable(preferred)
	if err != nil {
		return 0, rcerrors.Wrap(err, rcerrors.KindStudio, "studio", "allocate-port", "no port available")
	}
	return info.Port, nil
}

// spawn starts one child and waits for readiness. Readiness is either a token
// on stdout or plain liveness after half the timeout with no fatal stderr.
func (m *Manager) spawn(ctx context.Context, opts LaunchOptions, port int) (*managedProcess, error) {
	args := []string{"remotion", "studio", "--port", fmt.Sprintf("%d", port)}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		// Package-manager shims need shell parsing on Windows.
		shellArgs := append([]string{"/c", m.runner}, args...)
		cmd = exec.Command("cmd.exe", shellArgs...)
	} else {
		cmd = exec.Command(m.runner, args...)
	}
	cmd.Dir = opts.ProjectPath
	cmd.Env = os.Environ()
	cmd.Stdin = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, rcerrors.Wrap(err, rcerrors.KindStudio, "studio", "spawn", "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, rcerrors.Wrap(err, rcerrors.KindStudio, "studio", "spawn", "stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, rcerrors.Wrap(err, rcerrors.KindDependency, "studio", "spawn",
			fmt.Sprintf("could not start %s", m.runner)).
			WithSuggestion(rcerrors.Suggestion{
				Action:   "Install Node.js and the package runner",
				Command:  "npm install -g npm",
				Priority: 1,
			})
	}
	pid := cmd.Process.Pid
	m.logger.Info("spawned studio pid=%d port=%d", pid, port)

	readyCh := make(chan struct{}, 1)
	fatalCh := make(chan string, 1)
	exitCh := make(chan error, 1)

	portToken := fmt.Sprintf("localhost:%d", port)
	async.Go(m.logger, "studio.stdout", func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for scanner.Scan() {
			line := strings.ToLower(scanner.Text())
			if strings.Contains(line, portToken) || containsAny(line, readinessTokens) {
				select {
				case readyCh <- struct{}{}:
				default:
				}
			}
		}
	})
	async.Go(m.logger, "studio.stderr", func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			m.logger.Debug("studio[%d] stderr: %s", pid, line)
			if isFatalStderr(line) {
				select {
				case fatalCh <- line:
				default:
				}
			}
		}
	})
	async.Go(m.logger, "studio.wait", func() {
		exitCh <- cmd.Wait()
	})

	halfway := time.After(opts.Timeout / 2)
	deadline := time.After(opts.Timeout)

	for {
		select {
		case <-readyCh:
			return m.record(cmd, opts.ProjectPath, port), nil
		case line := <-fatalCh:
			_ = m.alloc.Kill(pid, true)
			<-exitCh
			return nil, rcerrors.New(rcerrors.KindStudio, "studio", "spawn",
				fmt.Sprintf("fatal startup error: %s", line))
		case err := <-exitCh:
			return nil, rcerrors.New(rcerrors.KindStudio, "studio", "spawn",
				fmt.Sprintf("studio exited during startup: %v", err))
		case <-halfway:
			// No fatal output and the process is still alive: treat as ready.
			if portalloc.Alive(pid) {
				return m.record(cmd, opts.ProjectPath, port), nil
			}
		case <-deadline:
			m.logger.Error("startup timeout for pid %d, sending SIGKILL", pid)
			_ = m.alloc.Kill(pid, true)
			<-exitCh
			return nil, rcerrors.New(rcerrors.KindStudio, "studio", "spawn",
				fmt.Sprintf("startup timeout after %v", opts.Timeout))
		case <-ctx.Done():
			_ = m.alloc.Kill(pid, true)
			<-exitCh
			return nil, ctx.Err()
		}
	}
}

func (m *Manager) record(cmd *exec.Cmd, projectPath string, port int) *managedProcess {
	proc := &managedProcess{
		cmd: cmd,
		info: discovery.StudioProcess{
			PID:             cmd.Process.Pid,
			Port:            port,
			Responsive:      true,
			ProjectPath:     projectPath,
			ProjectName:     filepath.Base(projectPath),
			StartTime:       time.Now(),
			DiscoveryMethod: "spawned",
		},
	}
	m.mu.Lock()
	m.procs[proc.info.PID] = proc
	m.mu.Unlock()
	return proc
}

// validateStudio polls the studio URL until it answers, then cross-checks
// that the responder is recognizable as a renderer.
func (m *Manager) validateStudio(ctx context.Context, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("http://127.0.0.1:%d/", port)
	client := &http.Client{Timeout: validatePollInterval}

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			// Dev servers answer HEAD with anything from 200 to 404 while
			// still being healthy.
			if resp.StatusCode >= 200 && resp.StatusCode < 500 {
				m.scanner.Invalidate(port)
				proc, derr := m.scanner.DiscoverByPort(ctx, port)
				if derr == nil && proc != nil && proc.DiscoveryMethod == "http-renderer" {
					return nil
				}
				if derr == nil && proc != nil {
					return rcerrors.New(rcerrors.KindStudio, "studio", "validate",
						fmt.Sprintf("port %d answers but does not look like a renderer", port))
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(validatePollInterval):
		}
	}
	return rcerrors.New(rcerrors.KindStudio, "studio", "validate",
		fmt.Sprintf("studio on port %d did not become responsive within %v", port, timeout))
}

// Shutdown stops studios selected by port, pid, or all.
func (m *Manager) Shutdown(opts ShutdownOptions) ([]int, error) {
	m.mu.Lock()
	var targets []*managedProcess
	for _, proc := range m.procs {
		switch {
		case opts.All:
			targets = append(targets, proc)
		case opts.PID != 0 && proc.info.PID == opts.PID:
			targets = append(targets, proc)
		case opts.Port != 0 && proc.info.Port == opts.Port:
			targets = append(targets, proc)
		}
	}
	m.mu.Unlock()

	if len(targets) == 0 && (opts.PID != 0 || opts.Port != 0) {
		// Not one of ours; fall back to pid-based kill when given a pid.
		if opts.PID != 0 {
			if err := m.alloc.Kill(opts.PID, opts.Force); err != nil {
				return nil, rcerrors.Wrap(err, rcerrors.KindStudio, "studio", "shutdown", "kill external process")
			}
			return []int{opts.PID}, nil
		}
		return nil, rcerrors.New(rcerrors.KindStudio, "studio", "shutdown",
			fmt.Sprintf("no managed studio matches port=%d pid=%d", opts.Port, opts.PID))
	}

	var stopped []int
	for _, proc := range targets {
		m.killManaged(proc.info.PID, opts.Force)
		stopped = append(stopped, proc.info.PID)
	}
	return stopped, nil
}

// killManaged terminates a child and removes its record.
func (m *Manager) killManaged(pid int, force bool) {
	if err := m.alloc.Kill(pid, force); err != nil {
		m.logger.Warn("kill pid %d failed: %v", pid, err)
	}
	m.mu.Lock()
	if proc, ok := m.procs[pid]; ok {
		m.scanner.Invalidate(proc.info.Port)
		delete(m.procs, pid)
	}
	m.mu.Unlock()
}

// Status reports managed children plus anything discovery can see.
func (m *Manager) Status(ctx context.Context) ([]discovery.StudioProcess, error) {
	m.mu.Lock()
	managed := make(map[int]discovery.StudioProcess, len(m.procs))
	for _, proc := range m.procs {
		info := proc.info
		info.Responsive = portalloc.Alive(info.PID)
		managed[info.Port] = info
	}
	m.mu.Unlock()

	scan, err := m.scanner.Discover(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]discovery.StudioProcess, 0, len(managed)+len(scan.Renderers))
	seen := make(map[int]bool)
	for port, info := range managed {
		out = append(out, info)
		seen[port] = true
	}
	for _, info := range scan.Renderers {
		if !seen[info.Port] {
			out = append(out, info)
		}
	}
	return out, nil
}

// Cleanup kills zombie children (dead or unresponsive) and prunes records.
// Returns the pids reaped.
func (m *Manager) Cleanup(ctx context.Context) []int {
	m.mu.Lock()
	snapshot := make([]*managedProcess, 0, len(m.procs))
	for _, proc := range m.procs {
		snapshot = append(snapshot, proc)
	}
	m.mu.Unlock()

	var reaped []int
	for _, proc := range snapshot {
		alive := portalloc.Alive(proc.info.PID)
		responsive := alive && m.responsive(ctx, proc.info.Port)
		if alive && responsive {
			continue
		}
		m.logger.Info("cleanup reaping pid=%d port=%d (alive=%v responsive=%v)",
			proc.info.PID, proc.info.Port, alive, responsive)
		m.killManaged(proc.info.PID, true)
		reaped = append(reaped, proc.info.PID)
	}
	return reaped
}

func (m *Manager) responsive(ctx context.Context, port int) bool {
	m.scanner.Invalidate(port)
	proc, err := m.scanner.DiscoverByPort(ctx, port)
	return err == nil && proc != nil && proc.Responsive
}

func containsAny(s string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}

var fatalMarkers = []string{"fatal", "cannot", "failed"}

// isFatalStderr reports whether a stderr line indicates an unrecoverable
// startup failure: "error" combined with any of the fatal markers.
func isFatalStderr(line string) bool {
	lower := strings.ToLower(line)
	if !strings.Contains(lower, "error") {
		return false
	}
	return containsAny(lower, fatalMarkers)
}
