// Package portalloc probes, reserves, and releases TCP ports for studio
// processes. Availability is tested by a zero-backlog loopback bind that is
// released before returning; callers may still lose the port to a concurrent
// bind and must handle failure at launch time.
package portalloc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"sort"
	"syscall"
	"time"

	"roughcut/internal/config"
	"roughcut/internal/logging"
)

var (
	// ErrRangeExhausted is returned when no port in the configured range is free.
	ErrRangeExhausted = errors.New("port range exhausted")
	// ErrReservedBySystem is returned for ports occupied by a known system service.
	ErrReservedBySystem = errors.New("port reserved by system service")
	// ErrKillDenied is returned when the owner process could not be signalled.
	ErrKillDenied = errors.New("kill denied")
)

// PortInfo describes the allocation state of a single port.
type PortInfo struct {
	Port      int    `json:"port"`
	Available bool   `json:"available"`
	Conflict  string `json:"conflict,omitempty"`
	// SystemService is set when the occupant is a known OS or infrastructure
	// service that must never be killed.
	SystemService bool `json:"systemService,omitempty"`
}

// knownSystemServices maps ports to the service believed to own them. The
// list is static; runtime OS-reservation probing is out of scope.
var knownSystemServices = map[int]string{
	3002: "local development proxy (commonly reserved)",
	5432: "postgresql",
	6379: "redis",
	8080: "http-alt",
}

// Allocator hands out studio ports inside a configured contiguous range.
type Allocator struct {
	start  int
	end    int
	deny   map[int]bool
	logger logging.Logger
}

// New creates an allocator for the configured range and deny-list.
func New(cfg config.PortRangeConfig, logger logging.Logger) *Allocator {
	deny := make(map[int]bool, len(cfg.Deny))
	for _, p := range cfg.Deny {
		deny[p] = true
	}
	return &Allocator{
		start:  cfg.Start,
		end:    cfg.End,
		deny:   deny,
		logger: logging.OrNop(logger),
	}
}

// FindAvailable returns the preferred port when it is free and safe, otherwise
// the lowest free port in the range. preferred == 0 means no preference.
func (a *Allocator) FindAvailable(preferred int) (PortInfo, error) {
	if preferred != 0 {
		info := a.probe(preferred)
		if info.Available {
			return info, nil
		}
		if info.SystemService {
			a.logger.Warn("preferred port %d is reserved: %s", preferred, info.Conflict)
		} else {
			a.logger.Debug("preferred port %d unavailable: %s", preferred, info.Conflict)
		}
	}

	for port := a.start; port <= a.end; port++ {
		if port == preferred {
			continue
		}
		if info := a.probe(port); info.Available {
			return info, nil
		}
	}
	return PortInfo{}, fmt.Errorf("%w: no free port in %d-%d", ErrRangeExhausted, a.start, a.end)
}

// ValidateSafety refuses deny-listed and privileged ports.
func (a *Allocator) ValidateSafety(port int) (bool, string) {
	if port < 1024 {
		return false, fmt.Sprintf("port %d is privileged (<1024)", port)
	}
	if a.deny[port] {
		reason := "deny-listed"
		if svc, ok := knownSystemServices[port]; ok {
			reason = fmt.Sprintf("reserved by system service: %s", svc)
		}
		return false, fmt.Sprintf("port %d is %s", port, reason)
	}
	return true, ""
}

// probe classifies a single port without holding it.
func (a *Allocator) probe(port int) PortInfo {
	if safe, reason := a.ValidateSafety(port); !safe {
		return PortInfo{
			Port:          port,
			Conflict:      reason,
			SystemService: a.deny[port] || knownSystemServices[port] != "",
		}
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		info := PortInfo{Port: port, Conflict: fmt.Sprintf("bind failed: %v", err)}
		if svc, ok := knownSystemServices[port]; ok {
			info.Conflict = fmt.Sprintf("occupied by %s", svc)
			info.SystemService = true
		}
		return info
	}
	_ = ln.Close()
	return PortInfo{Port: port, Available: true}
}

// ListInUse reports every non-free port in the range, lowest first.
func (a *Allocator) ListInUse() []PortInfo {
	var used []PortInfo
	for port := a.start; port <= a.end; port++ {
		if info := a.probe(port); !info.Available {
			used = append(used, info)
		}
	}
	sort.Slice(used, func(i, j int) bool { return used[i].Port < used[j].Port })
	return used
}

// Range returns the configured inclusive bounds.
func (a *Allocator) Range() (int, int) {
	return a.start, a.end
}

// Kill terminates the process with the given pid, best effort. A graceful
// signal is tried first; force escalates to SIGKILL after a short wait.
func (a *Allocator) Kill(pid int, force bool) error {
	if pid <= 0 {
		return fmt.Errorf("%w: invalid pid %d", ErrKillDenied, pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKillDenied, err)
	}

	if runtime.GOOS == "windows" {
		if err := proc.Kill(); err != nil {
			return fmt.Errorf("%w: %v", ErrKillDenied, err)
		}
		return nil
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrKillDenied, err)
	}
	if !force {
		return nil
	}

	// Give the process a moment to exit cleanly before escalating.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err := proc.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("%w: %v", ErrKillDenied, err)
	}
	return nil
}

// Alive reports process liveness via a signal-0 probe.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if runtime.GOOS == "windows" {
		// FindProcess succeeds only for live processes on Windows.
		return true
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
