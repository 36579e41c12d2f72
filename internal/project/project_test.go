package project

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	rcerrors "roughcut/internal/errors"
)

// scaffold creates a minimal renderer project under root.
func scaffold(t *testing.T, root, name, composition string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"`+name+`"}`), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if composition != "" {
		if err := os.WriteFile(filepath.Join(dir, "src", "VideoComposition.tsx"), []byte(composition), 0o644); err != nil {
			t.Fatalf("write composition: %v", err)
		}
	}
	return dir
}

func TestValidate(t *testing.T) {
	root := t.TempDir()
	dir := scaffold(t, root, "demo", "")

	if err := Validate(dir); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	err := Validate(filepath.Join(root, "missing"))
	var be *rcerrors.BrokerError
	if !errors.As(err, &be) || be.Kind != rcerrors.KindFilesystem {
		t.Fatalf("missing project error = %v", err)
	}

	bare := filepath.Join(root, "bare")
	_ = os.MkdirAll(bare, 0o755)
	err = Validate(bare)
	if !errors.As(err, &be) || be.Kind != rcerrors.KindDependency {
		t.Fatalf("manifest-less project error = %v", err)
	}
	if len(be.Suggestions) == 0 {
		t.Fatal("dependency error carries no remediation")
	}
}

func TestListSkipsInvalidAndHiddenEntries(t *testing.T) {
	root := t.TempDir()
	scaffold(t, root, "alpha", "")
	scaffold(t, root, "beta", "")
	_ = os.MkdirAll(filepath.Join(root, ".hidden"), 0o755)
	_ = os.MkdirAll(filepath.Join(root, "no-manifest"), 0o755)
	_ = os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644)

	store := NewStore(root)
	names, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Fatalf("List = %v, want [alpha beta]", names)
	}
}

func TestListOnMissingRootIsEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope"))
	names, err := store.List()
	if err != nil || names != nil {
		t.Fatalf("List = %v, %v; want empty, nil", names, err)
	}
}

func TestCompositionPathChecksCandidatesInOrder(t *testing.T) {
	root := t.TempDir()
	dir := scaffold(t, root, "demo", "const A = 1;")
	_ = os.WriteFile(filepath.Join(dir, "src", "VideoComposition.jsx"), []byte("x"), 0o644)

	got, err := CompositionPath(dir)
	if err != nil {
		t.Fatalf("CompositionPath: %v", err)
	}
	if !strings.HasSuffix(got, "VideoComposition.tsx") {
		t.Fatalf("picked %s, want the tsx candidate", got)
	}

	if _, err := CompositionPath(filepath.Join(root, "void")); err == nil {
		t.Fatal("missing composition accepted")
	}
}

func TestBackupAndRestore(t *testing.T) {
	root := t.TempDir()
	dir := scaffold(t, root, "demo", "const V1 = 1;")

	backup, err := Backup(dir, 0)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if backup == "" {
		t.Fatal("no backup path returned")
	}

	comp, _ := CompositionPath(dir)
	if err := os.WriteFile(comp, []byte("const V2 = 2;"), 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := Restore(dir, ""); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	data, _ := os.ReadFile(comp)
	if string(data) != "const V1 = 1;" {
		t.Fatalf("restored %q, want the backed-up source", data)
	}
}

func TestBackupWithoutCompositionIsNotAnError(t *testing.T) {
	root := t.TempDir()
	dir := scaffold(t, root, "empty", "")
	path, err := Backup(dir, 3)
	if err != nil || path != "" {
		t.Fatalf("Backup = %q, %v; want empty, nil", path, err)
	}
}

func TestPruneBackupsKeepsNewest(t *testing.T) {
	root := t.TempDir()
	dir := scaffold(t, root, "demo", "const A = 1;")
	backups := filepath.Join(dir, backupDir)
	_ = os.MkdirAll(backups, 0o755)

	// Stamps sort lexicographically; the two oldest must go.
	names := []string{
		backupPrefix + "2026-01-01T00-00-00Z.tsx",
		backupPrefix + "2026-01-02T00-00-00Z.tsx",
		backupPrefix + "2026-01-03T00-00-00Z.tsx",
		backupPrefix + "2026-01-04T00-00-00Z.tsx",
	}
	for _, name := range names {
		_ = os.WriteFile(filepath.Join(backups, name), []byte("x"), 0o644)
	}

	if err := PruneBackups(dir, 2); err != nil {
		t.Fatalf("PruneBackups: %v", err)
	}
	kept, err := ListBackups(dir)
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(kept) != 2 || kept[0] != names[2] || kept[1] != names[3] {
		t.Fatalf("kept %v, want the two newest", kept)
	}
}

func TestRestoreWithoutBackupsFails(t *testing.T) {
	root := t.TempDir()
	dir := scaffold(t, root, "demo", "const A = 1;")
	if err := Restore(dir, ""); err == nil {
		t.Fatal("restore without backups accepted")
	}
}
