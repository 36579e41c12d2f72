package portalloc

import (
	"errors"
	"net"
	"os"
	"testing"

	"roughcut/internal/config"
)

func newTestAllocator(start, end int, deny ...int) *Allocator {
	return New(config.PortRangeConfig{Start: start, End: end, Deny: deny}, nil)
}

func TestFindAvailablePrefersRequestedPort(t *testing.T) {
	// Grab a free ephemeral port, release it, then ask for it by preference.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	preferred := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	a := newTestAllocator(3000, 3010)
	info, err := a.FindAvailable(preferred)
	if err != nil {
		t.Fatalf("FindAvailable: %v", err)
	}
	if info.Port != preferred || !info.Available {
		t.Fatalf("info = %+v, want free port %d", info, preferred)
	}
}

func TestFindAvailableFallsBackWhenPreferredIsBusy(t *testing.T) {
	a := newTestAllocator(3000, 3010)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	// The busy port sits outside the range; the allocator must fall back to
	// the lowest free in-range port rather than fail.
	info, err := a.FindAvailable(busy)
	if err != nil {
		t.Fatalf("FindAvailable: %v", err)
	}
	if info.Port == busy {
		t.Fatalf("allocator handed out the occupied port %d", busy)
	}
	if info.Port < 3000 || info.Port > 3010 {
		t.Fatalf("fallback port %d outside the range", info.Port)
	}
}

func TestValidateSafety(t *testing.T) {
	a := newTestAllocator(3000, 3010, 3002)

	if safe, _ := a.ValidateSafety(80); safe {
		t.Fatal("privileged port accepted")
	}
	if safe, reason := a.ValidateSafety(3002); safe {
		t.Fatal("deny-listed port accepted")
	} else if reason == "" {
		t.Fatal("denial carries no reason")
	}
	if safe, _ := a.ValidateSafety(3005); !safe {
		t.Fatal("ordinary port rejected")
	}
}

func TestProbeMarksDenyListedAsSystemService(t *testing.T) {
	a := newTestAllocator(3000, 3010, 3002)
	info := a.probe(3002)
	if info.Available {
		t.Fatal("deny-listed port reported available")
	}
	if !info.SystemService {
		t.Fatalf("deny-listed port not flagged: %+v", info)
	}
}

func TestListInUseFindsOccupiedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	a := newTestAllocator(busy, busy)
	used := a.ListInUse()
	if len(used) != 1 || used[0].Port != busy {
		t.Fatalf("ListInUse = %+v, want the occupied port %d", used, busy)
	}
}

func TestKillRejectsInvalidPid(t *testing.T) {
	a := newTestAllocator(3000, 3010)
	err := a.Kill(0, false)
	if !errors.Is(err, ErrKillDenied) {
		t.Fatalf("Kill(0) = %v, want ErrKillDenied", err)
	}
	if err := a.Kill(-7, true); !errors.Is(err, ErrKillDenied) {
		t.Fatalf("Kill(-7) = %v, want ErrKillDenied", err)
	}
}

func TestAliveDetectsOwnProcess(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Fatal("own process reported dead")
	}
	if Alive(0) {
		t.Fatal("pid 0 reported alive")
	}
}

func TestRangeExhausted(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	a := newTestAllocator(busy, busy)
	_, err = a.FindAvailable(0)
	if !errors.Is(err, ErrRangeExhausted) {
		t.Fatalf("err = %v, want ErrRangeExhausted", err)
	}
}

func TestRangeReportsBounds(t *testing.T) {
	a := newTestAllocator(3000, 3010)
	start, end := a.Range()
	if start != 3000 || end != 3010 {
		t.Fatalf("Range = %d-%d", start, end)
	}
}
