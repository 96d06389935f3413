package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tutor/internal/common/fsutil"
	"tutor/pkg/types"
)

// LoadDir scans a directory for *.gguf files and builds a registry from filenames.
// ID is the full filename, Name the filename without extension, Path the
// absolute file path. Results are sorted by ID.
func LoadDir(dir string) ([]types.Model, error) {
	abs, err := fsutil.ResolveDir(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() || !IsWeightsFile(e.Name()) {
			continue
		}
		m := types.Model{ID: e.Name(), Name: fsutil.Stem(e.Name()), Path: filepath.Join(abs, e.Name())}
		if info, err := e.Info(); err == nil {
			m.SizeBytes = info.Size()
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// IsWeightsFile reports whether name carries the .gguf extension (any case).
func IsWeightsFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".gguf")
}

// Resolve finds ref among models by ID or by name, case-insensitively.
func Resolve(models []types.Model, ref string) (types.Model, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return types.Model{}, false
	}
	for _, m := range models {
		if strings.EqualFold(m.ID, ref) || strings.EqualFold(m.Name, ref) {
			return m, true
		}
	}
	return types.Model{}, false
}
