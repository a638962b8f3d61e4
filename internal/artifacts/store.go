// Package artifacts stores the files a drill run leaves behind: reports,
// iteration records, and a snapshot of the effective configuration.
package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned by Get for a missing artifact.
var ErrNotFound = errors.New("artifact not found")

// ArtifactType groups the artifacts of a run into subdirectories.
type ArtifactType string

const (
	ArtifactTypeReport  ArtifactType = "reports"
	ArtifactTypeRecords ArtifactType = "records"
	ArtifactTypeConfig  ArtifactType = "config"
)

// Key addresses one artifact.
type Key struct {
	RunID string
	Type  ArtifactType
	Name  string
}

func (k Key) String() string {
	return k.RunID + "/" + string(k.Type) + "/" + k.Name
}

// Each component becomes one path element, so none may contain a separator.
func (k Key) validate() error {
	for label, v := range map[string]string{"run ID": k.RunID, "artifact type": string(k.Type), "name": k.Name} {
		if v == "" {
			return fmt.Errorf("%s cannot be empty", label)
		}
		if v == "." || v == ".." || filepath.Base(v) != v {
			return fmt.Errorf("invalid %s %q", label, v)
		}
	}
	return nil
}

// ArtifactInfo describes a stored artifact.
type ArtifactInfo struct {
	Key       Key    `json:"-"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// RunBundle is the set of files written when a run ends. Nil entries are skipped.
type RunBundle struct {
	ReportJSON []byte
	ReportHTML []byte
	SummaryTXT []byte
	Records    []byte
	Config     []byte
}

// FilesystemStore lays artifacts out as {baseDir}/{runID}/{type}/{name}.
type FilesystemStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFilesystemStore creates baseDir if needed.
func NewFilesystemStore(baseDir string) (*FilesystemStore, error) {
	if baseDir == "" {
		return nil, errors.New("base directory cannot be empty")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &FilesystemStore{baseDir: baseDir}, nil
}

func (s *FilesystemStore) BaseDir() string { return s.baseDir }

func (s *FilesystemStore) path(k Key) string {
	return filepath.Join(s.baseDir, k.RunID, string(k.Type), k.Name)
}

// Put writes data under k, replacing any previous content.
func (s *FilesystemStore) Put(k Key, data []byte) (*ArtifactInfo, error) {
	if err := k.validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.path(k)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, fmt.Errorf("put %s: %w", k, err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return nil, fmt.Errorf("put %s: %w", k, err)
	}
	return &ArtifactInfo{Key: k, Path: p, SizeBytes: int64(len(data))}, nil
}

// Get reads the artifact under k.
func (s *FilesystemStore) Get(k Key) ([]byte, error) {
	if err := k.validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(k))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", k, err)
	}
	return data, nil
}

// SaveRun writes every non-empty file of b. It stops at the first error and
// returns what was already written.
func (s *FilesystemStore) SaveRun(runID string, b RunBundle) ([]ArtifactInfo, error) {
	files := []struct {
		key  Key
		data []byte
	}{
		{Key{runID, ArtifactTypeReport, "report.json"}, b.ReportJSON},
		{Key{runID, ArtifactTypeReport, "report.html"}, b.ReportHTML},
		{Key{runID, ArtifactTypeReport, "summary.txt"}, b.SummaryTXT},
		{Key{runID, ArtifactTypeRecords, "records.json"}, b.Records},
		{Key{runID, ArtifactTypeConfig, "config.yaml"}, b.Config},
	}

	var saved []ArtifactInfo
	for _, f := range files {
		if len(f.data) == 0 {
			continue
		}
		info, err := s.Put(f.key, f.data)
		if err != nil {
			return saved, err
		}
		saved = append(saved, *info)
	}
	return saved, nil
}

// List returns the artifacts of a run sorted by path. An unknown run has none.
func (s *FilesystemStore) List(runID string) ([]ArtifactInfo, error) {
	if err := (Key{RunID: runID, Type: "-", Name: "-"}).validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	root := filepath.Join(s.baseDir, runID)
	out := []ArtifactInfo{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		typ, name := filepath.Split(rel)
		typ = filepath.Clean(typ)
		if typ == "." || filepath.Dir(typ) != "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, ArtifactInfo{
			Key:       Key{RunID: runID, Type: ArtifactType(typ), Name: name},
			Path:      p,
			SizeBytes: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", runID, err)
	}
	return out, nil
}

// Delete removes a run and its artifacts. Deleting an unknown run succeeds.
func (s *FilesystemStore) Delete(runID string) error {
	if err := (Key{RunID: runID, Type: "-", Name: "-"}).validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(s.baseDir, runID)); err != nil {
		return fmt.Errorf("delete %s: %w", runID, err)
	}
	return nil
}

// Prune deletes run directories last modified before cutoff and returns
// their run IDs in sorted order. Plain files in the base directory are kept.
func (s *FilesystemStore) Prune(cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read base directory: %w", err)
	}

	var pruned []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.baseDir, e.Name())); err != nil {
			return pruned, fmt.Errorf("prune %s: %w", e.Name(), err)
		}
		pruned = append(pruned, e.Name())
	}
	sort.Strings(pruned)
	return pruned, nil
}
