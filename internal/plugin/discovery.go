package plugin

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Discover scans plugin roots for manifest.yaml files. Malformed manifests
// are returned as errors alongside the valid manifests; discovery never
// aborts because one plugin is broken. Duplicate plugin names keep the
// first discovered manifest.
func Discover(roots []string, logger *slog.Logger) ([]*Manifest, []error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		manifests []*Manifest
		errs      []error
		byName    = make(map[string]*Manifest)
	)

	for _, root := range dedupeRoots(roots) {
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || d.Name() != manifestFilename {
				return nil
			}

			m, merr := loadManifestFile(path)
			if merr != nil {
				logger.Warn("skipping invalid plugin manifest", "path", path, "error", merr)
				errs = append(errs, merr)
				return nil
			}

			if existing, dup := byName[m.Name]; dup {
				logger.Warn("duplicate plugin ignored (keeping first discovered)",
					"plugin", m.Name,
					"ignored_path", m.Path,
					"kept_path", existing.Path,
				)
				return nil
			}
			byName[m.Name] = m
			manifests = append(manifests, m)
			logger.Info("discovered plugin", "plugin", m.Name, "version", m.Version, "path", m.Path)
			return nil
		})
		if walkErr != nil {
			errs = append(errs, fmt.Errorf("scan plugin root %s: %w", root, walkErr))
		}
	}

	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Name < manifests[j].Name })
	return manifests, errs
}

func loadManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestError{Path: path, Reason: fmt.Sprintf("read: %v", err)}
	}
	m, err := ParseManifest(data)
	if err != nil {
		if me, ok := err.(*ManifestError); ok {
			me.Path = path
			return nil, me
		}
		return nil, err
	}
	m.Path = filepath.Dir(path)
	return m, nil
}

func dedupeRoots(roots []string) []string {
	seen := make(map[string]struct{}, len(roots))
	out := make([]string, 0, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			abs = root
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out
}
