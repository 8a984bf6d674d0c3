// Package backup snapshots artifact files before they are mutated and
// restores them on rollback.
//
// A backup bundle is a directory holding a copy of every captured file plus
// a manifest.json. The manifest is written last, so a directory without one
// is an interrupted snapshot and is ignored (and collected by GC).
package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/tierlearn/internal/docstore"
	"github.com/ShayCichocki/tierlearn/internal/logging"
)

// Manifest kinds.
const (
	KindApply       = "apply"
	KindPreRollback = "pre-rollback"
	KindPreRestore  = "pre-restore"
	KindRules       = "rules"
)

const (
	manifestFile = "manifest.json"
	filesDir     = "files"
	legacySuffix = ".bak"
)

// ErrNoBackup is returned when no usable backup exists.
var ErrNoBackup = errors.New("no backup found")

// FileEntry is one captured file. Name is relative to the manifest's Root.
type FileEntry struct {
	Name     string      `json:"name"`
	Captured string      `json:"captured_path,omitempty"`
	Existed  bool        `json:"existed"`
	Size     int64       `json:"size"`
	Mode     os.FileMode `json:"mode,omitempty"`
}

// Manifest describes exactly which files a bundle captured and where.
type Manifest struct {
	ID         string      `json:"id"`
	LearningID string      `json:"learning_id"`
	Kind       string      `json:"kind"`
	Timestamp  time.Time   `json:"timestamp"`
	Root       string      `json:"root"`
	Files      []FileEntry `json:"files"`
	BackupPath string      `json:"backup_path"`
}

// FileNames returns the logical names of every captured file.
func (m *Manifest) FileNames() []string {
	names := make([]string, len(m.Files))
	for i, f := range m.Files {
		names[i] = f.Name
	}
	return names
}

// Manager owns the backups directory.
type Manager struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time // For testing
}

// NewManager creates a Manager over dir.
func NewManager(dir string, logger *zap.Logger) *Manager {
	logger = logging.OrNop(logger)
	return &Manager{dir: dir, logger: logger, now: time.Now}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Dir returns the backups directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Snapshot captures the current bytes of each named file under root.
// Files that do not exist are recorded with Existed=false. On any failure
// the partial bundle is removed and no manifest is left behind.
func (m *Manager) Snapshot(learningID, kind, root string, files []string) (*Manifest, error) {
	ts := m.now().UTC()
	id := fmt.Sprintf("%s-%s-%s", learningID, ts.Format("20060102T150405.000000000"), uuid.New().String()[:8])
	bundle := filepath.Join(m.dir, id)

	if err := os.MkdirAll(filepath.Join(bundle, filesDir), 0755); err != nil {
		return nil, fmt.Errorf("create backup bundle: %w", err)
	}

	manifest := &Manifest{
		ID:         id,
		LearningID: learningID,
		Kind:       kind,
		Timestamp:  ts,
		Root:       root,
		BackupPath: bundle,
	}

	ok := false
	defer func() {
		if !ok {
			os.RemoveAll(bundle)
		}
	}()

	for i, name := range files {
		entry := FileEntry{Name: name}
		src := filepath.Join(root, name)

		info, err := os.Stat(src)
		switch {
		case errors.Is(err, os.ErrNotExist):
			manifest.Files = append(manifest.Files, entry)
			continue
		case err != nil:
			return nil, fmt.Errorf("stat %s: %w", src, err)
		}

		data, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("capture %s: %w", src, err)
		}
		entry.Existed = true
		entry.Size = int64(len(data))
		entry.Mode = info.Mode().Perm()
		entry.Captured = filepath.Join(filesDir, fmt.Sprintf("%03d-%s", i, filepath.Base(name)))

		if err := docstore.WriteFileAtomic(filepath.Join(bundle, entry.Captured), data, 0644); err != nil {
			return nil, fmt.Errorf("capture %s: %w", src, err)
		}
		manifest.Files = append(manifest.Files, entry)
	}

	if err := docstore.WriteJSON(filepath.Join(bundle, manifestFile), manifest); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	ok = true

	m.logger.Info("backup created",
		zap.String("learning_id", learningID),
		zap.String("backup_id", id),
		zap.String("kind", kind),
		zap.Int("files", len(files)),
	)
	return manifest, nil
}

// Restore puts every captured file back to its recorded content. Files that
// did not exist at capture time are removed. Restoring twice is harmless.
func (m *Manager) Restore(manifest *Manifest) error {
	for _, f := range manifest.Files {
		target := filepath.Join(manifest.Root, f.Name)
		if !f.Existed {
			if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove %s: %w", target, err)
			}
			continue
		}

		data, err := os.ReadFile(filepath.Join(manifest.BackupPath, f.Captured))
		if err != nil {
			return fmt.Errorf("read captured %s: %w", f.Name, err)
		}
		mode := f.Mode
		if mode == 0 {
			mode = 0644
		}
		if err := docstore.WriteFileAtomic(target, data, mode); err != nil {
			return fmt.Errorf("restore %s: %w", target, err)
		}
	}

	m.logger.Info("backup restored",
		zap.String("learning_id", manifest.LearningID),
		zap.String("backup_id", manifest.ID),
	)
	return nil
}

// List returns every complete bundle, oldest first.
func (m *Manager) List() ([]*Manifest, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backups: %w", err)
	}

	var manifests []*Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var mf Manifest
		path := filepath.Join(m.dir, e.Name(), manifestFile)
		found, err := docstore.ReadJSON(path, &mf)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		// The bundle may have been moved since capture.
		mf.BackupPath = filepath.Join(m.dir, e.Name())
		manifests = append(manifests, &mf)
	}

	sort.Slice(manifests, func(i, j int) bool {
		if manifests[i].Timestamp.Equal(manifests[j].Timestamp) {
			return manifests[i].ID < manifests[j].ID
		}
		return manifests[i].Timestamp.Before(manifests[j].Timestamp)
	})
	return manifests, nil
}

// Get returns the bundle with the given ID.
func (m *Manager) Get(id string) (*Manifest, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrNoBackup, id)
	}
	var mf Manifest
	bundle := filepath.Join(m.dir, id)
	found, err := docstore.ReadJSON(filepath.Join(bundle, manifestFile), &mf)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNoBackup, id)
	}
	mf.BackupPath = bundle
	return &mf, nil
}

// Latest returns the newest bundle for learningID of the given kind.
// An empty kind matches any bundle.
func (m *Manager) Latest(learningID, kind string) (*Manifest, error) {
	all, err := m.List()
	if err != nil {
		return nil, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].LearningID == learningID && (kind == "" || all[i].Kind == kind) {
			return all[i], nil
		}
	}
	return nil, fmt.Errorf("%w for %s", ErrNoBackup, learningID)
}

// ForLearning returns every bundle for learningID, oldest first.
func (m *Manager) ForLearning(learningID string) ([]*Manifest, error) {
	all, err := m.List()
	if err != nil {
		return nil, err
	}
	var out []*Manifest
	for _, mf := range all {
		if mf.LearningID == learningID {
			out = append(out, mf)
		}
	}
	return out, nil
}

// LegacyPath is where older installations kept a single-file backup.
func (m *Manager) LegacyPath(learningID string) string {
	return filepath.Join(m.dir, learningID+legacySuffix)
}

// RestoreLegacy copies a legacy single-file backup over target.
func (m *Manager) RestoreLegacy(learningID, target string) error {
	data, err := os.ReadFile(m.LegacyPath(learningID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: no legacy backup for %s", ErrNoBackup, learningID)
		}
		return fmt.Errorf("read legacy backup: %w", err)
	}
	if err := docstore.WriteFileAtomic(target, data, 0644); err != nil {
		return fmt.Errorf("restore %s: %w", target, err)
	}
	m.logger.Info("legacy backup restored",
		zap.String("learning_id", learningID),
		zap.String("target", target),
	)
	return nil
}
