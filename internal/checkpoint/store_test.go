package checkpoint

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T, dir string, opts Options) *Store {
	t.Helper()
	store, err := NewStore(dir, nil, opts)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t, t.TempDir(), Options{})
	defer store.Close()

	cp := &Checkpoint{
		OperationID: "op-1",
		Stage:       StageJSXCleaning,
		Progress:    30,
		Original:    "const A = 1;",
		ChunkIndex:  2,
		Shards:      []string{"const ", "A = 1;"},
	}
	if err := store.Put(cp); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got := store.Get("op-1")
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Stage != StageJSXCleaning || got.ChunkIndex != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	// Get hands back a copy; mutating it must not leak into the store.
	got.Shards[0] = "mutated"
	if again := store.Get("op-1"); again.Shards[0] != "const " {
		t.Fatalf("stored shards aliased by the caller: %q", again.Shards[0])
	}
}

func TestPutRejectsStageRegression(t *testing.T) {
	store := newTestStore(t, t.TempDir(), Options{})
	defer store.Close()

	if err := store.Put(&Checkpoint{OperationID: "op-1", Stage: StageJSXExport, Progress: 85}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	err := store.Put(&Checkpoint{OperationID: "op-1", Stage: StageJSXCleaning, Progress: 10})
	if err == nil {
		t.Fatal("stage regression accepted")
	}
}

func TestPutValidatesProgressRange(t *testing.T) {
	store := newTestStore(t, t.TempDir(), Options{})
	defer store.Close()

	if err := store.Put(&Checkpoint{OperationID: "op-1", Progress: 101}); err == nil {
		t.Fatal("out-of-range progress accepted")
	}
	if err := store.Put(&Checkpoint{Progress: 10}); err == nil {
		t.Fatal("missing operation id accepted")
	}
}

func TestRemoveAndList(t *testing.T) {
	store := newTestStore(t, t.TempDir(), Options{})
	defer store.Close()

	_ = store.Put(&Checkpoint{OperationID: "a", Stage: StageBackup})
	_ = store.Put(&Checkpoint{OperationID: "b", Stage: StageBackup})
	if got := len(store.List()); got != 2 {
		t.Fatalf("List = %d, want 2", got)
	}
	if err := store.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := store.Get("a"); got != nil {
		t.Fatalf("removed checkpoint still readable: %+v", got)
	}
}

func TestRetentionExpiresEntries(t *testing.T) {
	store := newTestStore(t, t.TempDir(), Options{Retention: time.Nanosecond})
	defer store.Close()

	_ = store.Put(&Checkpoint{OperationID: "stale", Stage: StageBackup})
	time.Sleep(time.Millisecond)

	if got := store.Get("stale"); got != nil {
		t.Fatalf("expired checkpoint still readable: %+v", got)
	}
	_ = store.Put(&Checkpoint{OperationID: "stale2", Stage: StageBackup})
	time.Sleep(time.Millisecond)
	if purged := store.PurgeExpired(); purged != 1 {
		t.Fatalf("PurgeExpired = %d, want 1", purged)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store := newTestStore(t, dir, Options{})
	_ = store.Put(&Checkpoint{
		OperationID: "op-durable",
		Stage:       StageJSXValidation,
		Progress:    70,
		Output:      "const A = () => null;",
	})
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := newTestStore(t, dir, Options{})
	defer reopened.Close()
	got := reopened.Get("op-durable")
	if got == nil {
		t.Fatal("checkpoint lost across reopen")
	}
	if got.Stage != StageJSXValidation || got.Output == "" {
		t.Fatalf("reopened checkpoint mismatch: %+v", got)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	store := newTestStore(t, t.TempDir(), Options{Capacity: 2})
	defer store.Close()

	_ = store.Put(&Checkpoint{OperationID: "one", Stage: StageBackup})
	_ = store.Put(&Checkpoint{OperationID: "two", Stage: StageBackup})
	_ = store.Put(&Checkpoint{OperationID: "three", Stage: StageBackup})

	if got := store.Get("one"); got != nil {
		t.Fatal("oldest entry not evicted at capacity")
	}
	if store.Get("two") == nil || store.Get("three") == nil {
		t.Fatal("recent entries evicted")
	}
}

func TestStageOrdering(t *testing.T) {
	if !StageBackup.Before(StageJSXCleaning) {
		t.Fatal("backup must precede cleaning")
	}
	if StageCompleted.Before(StageFileWriting) {
		t.Fatal("completed ordered before writing")
	}
}
