package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// jailParamKeys lists the parameter names that name a filesystem path and
// must therefore be confined to one of the configured allowed roots before
// an action runs. Any action that takes a path under a different key needs
// to add it here, or its paths sail through unchecked.
var jailParamKeys = []string{"working_dir", "file", "dest"}

// ErrPathOutsideJail is returned (wrapped) by checkPathJail when a path
// parameter resolves outside every configured allowed root.
var ErrPathOutsideJail = errors.New("path_outside_jail")

// checkPathJail validates every path-shaped parameter in params against
// allowedRoots. An empty allowedRoots list is treated as "jail disabled" —
// useful for local development, never for a deployed agent.
func checkPathJail(params map[string]any, allowedRoots []string) error {
	if len(allowedRoots) == 0 {
		return nil
	}

	for _, key := range jailParamKeys {
		raw, ok := params[key]
		if !ok {
			continue
		}
		path, ok := raw.(string)
		if !ok || path == "" {
			continue
		}
		if err := requirePathInRoots(path, allowedRoots); err != nil {
			return fmt.Errorf("parameter %q: %w", key, err)
		}
	}
	return nil
}

// requirePathInRoots resolves path to an absolute, symlink-free form and
// checks it falls under one of roots. Resolving symlinks closes the
// classic jail bypass where a path walks through a symlink that points
// outside the allowed tree.
func requirePathInRoots(path string, roots []string) error {
	abs, err := resolveSymlinks(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	for _, root := range roots {
		rootAbs, err := resolveSymlinks(root)
		if err != nil {
			continue
		}
		if withinRoot(abs, rootAbs) {
			return nil
		}
	}
	return fmt.Errorf("path %q escapes the allowed roots: %w", path, ErrPathOutsideJail)
}

// resolveSymlinks returns an absolute, symlink-free form of path.
// filepath.EvalSymlinks requires every path component to exist, which a
// file_write target typically doesn't yet — in that case it walks up to
// the nearest existing ancestor, resolves that, and rejoins the missing
// suffix lexically.
func resolveSymlinks(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	dir := filepath.Dir(abs)
	suffix := filepath.Base(abs)
	for {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil // nothing along the path exists; fall back lexically
		}
		suffix = filepath.Join(filepath.Base(dir), suffix)
		dir = parent
	}
}

func withinRoot(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
