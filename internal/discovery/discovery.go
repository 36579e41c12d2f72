// Package discovery locates running studio instances by probing the
// configured port range over loopback HTTP.
package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"roughcut/internal/config"
	"roughcut/internal/logging"
	"roughcut/internal/portalloc"
)

const (
	probeTimeout  = 2 * time.Second
	probeUA       = "RoughCut-MCP-Discovery"
	cacheCapacity = 64
	cacheTTL      = 3 * time.Second
)

// rendererSignatures identify a probe response body as a studio. Matching is
// case-insensitive substring search.
var rendererSignatures = []string{"remotion", "webpack", "__webpack", "composition"}

// StudioProcess describes a discovered or launched renderer instance.
type StudioProcess struct {
	PID             int       `json:"pid"` // 0 when discovered via HTTP only
	Port            int       `json:"port"`
	Responsive      bool      `json:"responsive"`
	ProjectPath     string    `json:"projectPath,omitempty"`
	ProjectName     string    `json:"projectName,omitempty"`
	StartTime       time.Time `json:"startTime,omitempty"`
	LastResponse    time.Time `json:"lastResponse,omitempty"`
	DiscoveryMethod string    `json:"discoveryMethod"`
}

// Result aggregates one full scan of the port range.
type Result struct {
	Total     int               `json:"total"`
	Renderers []StudioProcess   `json:"renderers"`
	Other     []StudioProcess   `json:"other"`
	Conflicts []portalloc.PortInfo `json:"conflicts"`
}

// Scanner probes the configured port range for live studios.
type Scanner struct {
	start  int
	end    int
	client *http.Client
	cache  *expirable.LRU[int, StudioProcess]
	logger logging.Logger
}

// NewScanner creates a scanner over the configured port range.
func NewScanner(cfg config.PortRangeConfig, logger logging.Logger) *Scanner {
	return &Scanner{
		start:  cfg.Start,
		end:    cfg.End,
		client: &http.Client{Timeout: probeTimeout},
		cache:  expirable.NewLRU[int, StudioProcess](cacheCapacity, nil, cacheTTL),
		logger: logging.OrNop(logger),
	}
}

// Discover scans the whole range. Fan-out is bounded by the range width, so
// worst-case wall time stays under range × probe timeout even when every port
// hangs until its deadline.
func (s *Scanner) Discover(ctx context.Context) (*Result, error) {
	width := s.end - s.start + 1
	if width <= 0 {
		return nil, fmt.Errorf("invalid port range %d-%d", s.start, s.end)
	}

	results := make([]*StudioProcess, width)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(width)

	for i := 0; i < width; i++ {
		port := s.start + i
		idx := i
		g.Go(func() error {
			proc, err := s.DiscoverByPort(gctx, port)
			if err == nil && proc != nil {
				results[idx] = proc
			}
			return nil // individual probe failures are not scan failures
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Result{}
	for _, proc := range results {
		if proc == nil {
			continue
		}
		out.Total++
		if proc.DiscoveryMethod == "http-renderer" {
			out.Renderers = append(out.Renderers, *proc)
		} else {
			out.Other = append(out.Other, *proc)
			out.Conflicts = append(out.Conflicts, portalloc.PortInfo{
				Port:     proc.Port,
				Conflict: "occupied by non-renderer HTTP service",
			})
		}
	}
	sort.Slice(out.Renderers, func(i, j int) bool { return out.Renderers[i].Port < out.Renderers[j].Port })
	sort.Slice(out.Other, func(i, j int) bool { return out.Other[i].Port < out.Other[j].Port })

	s.logger.Debug("discovery scan complete: %d responders, %d renderers", out.Total, len(out.Renderers))
	return out, nil
}

// DiscoverByPort probes a single port. Returns (nil, nil) when nothing
// answers; a non-renderer HTTP responder is reported with method "http-other".
func (s *Scanner) DiscoverByPort(ctx context.Context, port int) (*StudioProcess, error) {
	if cached, ok := s.cache.Get(port); ok {
		return &cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/", port), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", probeUA)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil //nolint:nilerr // closed port, not an error
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256<<10))
	if err != nil {
		return nil, nil //nolint:nilerr
	}

	proc := StudioProcess{
		Port:            port,
		Responsive:      true,
		LastResponse:    time.Now(),
		DiscoveryMethod: "http-other",
	}
	if isRendererBody(string(body)) {
		proc.DiscoveryMethod = "http-renderer"
		proc.ProjectName = extractProjectName(string(body))
	}

	s.cache.Add(port, proc)
	return &proc, nil
}

// Invalidate drops the cached probe for a port, forcing the next probe to hit
// the network. Called by the lifecycle after launches and shutdowns.
func (s *Scanner) Invalidate(port int) {
	s.cache.Remove(port)
}

// IsAlive reports process liveness via a signal-0 probe.
func (s *Scanner) IsAlive(pid int) bool {
	return portalloc.Alive(pid)
}

func isRendererBody(body string) bool {
	lower := strings.ToLower(body)
	for _, sig := range rendererSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

var (
	titlePattern       = regexp.MustCompile(`(?is)<title[^>]*>([^<]*)</title>`)
	compositionPattern = regexp.MustCompile(`(?i)data-composition(?:-name)?=["']([^"']+)["']`)
)

// extractProjectName scrapes a best-effort project identity out of the probe
// body. Absence is not an error.
func extractProjectName(body string) string {
	if m := compositionPattern.FindStringSubmatch(body); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	if m := titlePattern.FindStringSubmatch(body); len(m) == 2 {
		title := strings.TrimSpace(m[1])
		// Studio titles look like "projectName - Remotion Studio".
		if idx := strings.Index(title, " - "); idx > 0 {
			return title[:idx]
		}
		return title
	}
	return ""
}
