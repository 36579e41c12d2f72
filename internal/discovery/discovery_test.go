package discovery

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"roughcut/internal/config"
)

// serveOn starts an HTTP handler on a fresh loopback port and returns the port.
func serveOn(t *testing.T, handler http.Handler) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := httptest.NewUnstartedServer(handler)
	server.Listener.Close()
	server.Listener = ln
	server.Start()
	t.Cleanup(server.Close)
	return ln.Addr().(*net.TCPAddr).Port
}

func TestDiscoverByPortClassifiesResponders(t *testing.T) {
	studioPort := serveOn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><title>my-video - Remotion Studio</title><body>webpack</body></html>`)
	}))
	otherPort := serveOn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "just an api")
	}))

	s := NewScanner(config.PortRangeConfig{Start: studioPort, End: studioPort}, nil)

	proc, err := s.DiscoverByPort(context.Background(), studioPort)
	if err != nil || proc == nil {
		t.Fatalf("DiscoverByPort = %+v, %v", proc, err)
	}
	if proc.DiscoveryMethod != "http-renderer" {
		t.Fatalf("method = %s", proc.DiscoveryMethod)
	}
	if proc.ProjectName != "my-video" {
		t.Fatalf("project = %q, want the title prefix", proc.ProjectName)
	}
	if proc.PID != 0 {
		t.Fatalf("http-only discovery reported pid %d", proc.PID)
	}

	proc, err = s.DiscoverByPort(context.Background(), otherPort)
	if err != nil || proc == nil {
		t.Fatalf("DiscoverByPort = %+v, %v", proc, err)
	}
	if proc.DiscoveryMethod != "http-other" {
		t.Fatalf("non-renderer method = %s", proc.DiscoveryMethod)
	}
}

func TestDiscoverByPortSilentOnClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	closed := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := NewScanner(config.PortRangeConfig{Start: closed, End: closed}, nil)
	proc, err := s.DiscoverByPort(context.Background(), closed)
	if proc != nil || err != nil {
		t.Fatalf("closed port = %+v, %v; want silence", proc, err)
	}
}

func TestDiscoverAggregatesAndFlagsConflicts(t *testing.T) {
	port := serveOn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "plain service, nothing to render here")
	}))

	s := NewScanner(config.PortRangeConfig{Start: port, End: port}, nil)
	result, err := s.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if result.Total != 1 || len(result.Renderers) != 0 || len(result.Other) != 1 {
		t.Fatalf("result = %+v", result)
	}
	if len(result.Conflicts) != 1 || result.Conflicts[0].Port != port {
		t.Fatalf("conflicts = %+v", result.Conflicts)
	}
}

func TestDiscoverRejectsInvalidRange(t *testing.T) {
	s := NewScanner(config.PortRangeConfig{Start: 4000, End: 3000}, nil)
	if _, err := s.Discover(context.Background()); err == nil {
		t.Fatal("inverted range accepted")
	}
}

func TestProbeCacheAndInvalidate(t *testing.T) {
	var hits atomic.Int32
	port := serveOn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "remotion")
	}))

	s := NewScanner(config.PortRangeConfig{Start: port, End: port}, nil)
	for i := 0; i < 3; i++ {
		if _, err := s.DiscoverByPort(context.Background(), port); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want the cache to absorb repeats", hits.Load())
	}

	s.Invalidate(port)
	if _, err := s.DiscoverByPort(context.Background(), port); err != nil {
		t.Fatalf("probe after invalidate: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits = %d after invalidation", hits.Load())
	}
}

func TestExtractProjectName(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`<div data-composition-name="Intro"></div>`, "Intro"},
		{`<title>promo - Remotion Studio</title>`, "promo"},
		{`<title>JustATitle</title>`, "JustATitle"},
		{`no markup at all`, ""},
	}
	for _, tc := range cases {
		if got := extractProjectName(tc.body); got != tc.want {
			t.Errorf("extractProjectName(%q) = %q, want %q", tc.body, got, tc.want)
		}
	}
}

func TestIsAliveUsesSignalProbe(t *testing.T) {
	s := NewScanner(config.PortRangeConfig{Start: 3000, End: 3000}, nil)
	if !s.IsAlive(os.Getpid()) {
		t.Fatal("own process reported dead")
	}
}
