// Package project resolves on-disk renderer projects: a directory under the
// configured projects root containing a package manifest and a composition
// source file.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	rcerrors "roughcut/internal/errors"
)

const (
	manifestName = "package.json"
	backupDir    = ".backups"
	backupPrefix = "VideoComposition-backup-"
)

// compositionCandidates are checked in order under src/.
var compositionCandidates = []string{
	"VideoComposition.tsx",
	"VideoComposition.jsx",
	"VideoComposition.ts",
	"VideoComposition.js",
}

// Store resolves project names to paths under a fixed parent directory.
// The mapping is a pure join; no state is kept in memory.
type Store struct {
	root string
}

// NewStore creates a project store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the projects parent directory.
func (s *Store) Root() string {
	return s.root
}

// Path maps a project name to its directory.
func (s *Store) Path(name string) string {
	return filepath.Join(s.root, name)
}

// Validate checks that path is a directory holding a package manifest.
func Validate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return rcerrors.Wrap(err, rcerrors.KindFilesystem, "project", "validate",
			fmt.Sprintf("project path not found: %s", path)).
			WithSuggestion(rcerrors.Suggestion{
				Action:   "Create the project directory or fix the path",
				Priority: 1,
			})
	}
	if !info.IsDir() {
		return rcerrors.New(rcerrors.KindFilesystem, "project", "validate",
			fmt.Sprintf("project path is not a directory: %s", path))
	}
	manifest := filepath.Join(path, manifestName)
	if _, err := os.Stat(manifest); err != nil {
		return rcerrors.New(rcerrors.KindDependency, "project", "validate",
			fmt.Sprintf("no %s in %s", manifestName, path)).
			WithSuggestion(rcerrors.Suggestion{
				Action:   "Initialize the renderer project",
				Command:  "npm create video@latest",
				Priority: 1,
			})
	}
	return nil
}

// List returns the names of valid projects under the root, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rcerrors.Wrap(err, rcerrors.KindFilesystem, "project", "list", "read projects directory")
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if Validate(s.Path(entry.Name())) == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// CompositionPath finds the composition source file inside a project.
func CompositionPath(projectPath string) (string, error) {
	for _, name := range compositionCandidates {
		candidate := filepath.Join(projectPath, "src", name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", rcerrors.New(rcerrors.KindFilesystem, "project", "composition",
		fmt.Sprintf("no composition source under %s", filepath.Join(projectPath, "src")))
}

// Backup copies the current composition file into the project's backup
// directory with an ISO-8601 suffix. Returns the backup path; a missing
// composition is not an error (nothing to back up yet).
func Backup(projectPath string, retain int) (string, error) {
	src, err := CompositionPath(projectPath)
	if err != nil {
		return "", nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", rcerrors.Wrap(err, rcerrors.KindFilesystem, "project", "backup", "read composition")
	}

	dir := filepath.Join(projectPath, backupDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", rcerrors.Wrap(err, rcerrors.KindFilesystem, "project", "backup", "create backup directory")
	}

	stamp := time.Now().UTC().Format("2006-01-02T15-04-05Z")
	dest := filepath.Join(dir, backupPrefix+stamp+filepath.Ext(src))
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", rcerrors.Wrap(err, rcerrors.KindFilesystem, "project", "backup", "write backup")
	}

	if retain > 0 {
		if err := PruneBackups(projectPath, retain); err != nil {
			return dest, err
		}
	}
	return dest, nil
}

// PruneBackups keeps only the newest retain backups.
func PruneBackups(projectPath string, retain int) error {
	dir := filepath.Join(projectPath, backupDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return rcerrors.Wrap(err, rcerrors.KindFilesystem, "project", "prune", "read backup directory")
	}

	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), backupPrefix) {
			backups = append(backups, entry.Name())
		}
	}
	// Timestamps sort lexicographically, newest last.
	sort.Strings(backups)
	for len(backups) > retain {
		victim := backups[0]
		backups = backups[1:]
		if err := os.Remove(filepath.Join(dir, victim)); err != nil {
			return rcerrors.Wrap(err, rcerrors.KindFilesystem, "project", "prune", "remove old backup")
		}
	}
	return nil
}

// ListBackups returns backup file names for a project, oldest first.
func ListBackups(projectPath string) ([]string, error) {
	dir := filepath.Join(projectPath, backupDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), backupPrefix) {
			backups = append(backups, entry.Name())
		}
	}
	sort.Strings(backups)
	return backups, nil
}

// Restore replaces the composition with the named backup (or the newest one
// when name is empty).
func Restore(projectPath, name string) error {
	backups, err := ListBackups(projectPath)
	if err != nil || len(backups) == 0 {
		return rcerrors.New(rcerrors.KindFilesystem, "project", "restore", "no backups available")
	}
	if name == "" {
		name = backups[len(backups)-1]
	}
	src := filepath.Join(projectPath, backupDir, name)
	data, err := os.ReadFile(src)
	if err != nil {
		return rcerrors.Wrap(err, rcerrors.KindFilesystem, "project", "restore", "read backup")
	}

	dest, err := CompositionPath(projectPath)
	if err != nil {
		// Project has no composition yet; restore with the backup's extension.
		dest = filepath.Join(projectPath, "src", "VideoComposition"+filepath.Ext(name))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return rcerrors.Wrap(err, rcerrors.KindFilesystem, "project", "restore", "create src directory")
		}
	}
	return os.WriteFile(dest, data, 0o644)
}
