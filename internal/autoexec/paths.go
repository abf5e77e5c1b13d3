package autoexec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolvePath canonicalizes a tool-supplied path inside the workspace root.
// It returns the absolute path and the workspace-relative posix form, refusing
// anything that escapes the root.
func resolvePath(workspace, raw string) (abs string, rel string, err error) {
	if strings.TrimSpace(raw) == "" {
		return "", "", fmt.Errorf("file_path is empty")
	}
	root, err := filepath.Abs(workspace)
	if err != nil {
		return "", "", fmt.Errorf("resolve workspace: %w", err)
	}

	target := raw
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = filepath.Clean(target)

	relPath, err := filepath.Rel(root, target)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("path %q escapes the workspace", raw)
	}
	return target, filepath.ToSlash(relPath), nil
}

// missingParents lists the parent directories of abs that do not exist yet,
// outermost first, as workspace-relative posix paths.
func missingParents(workspace, abs string) []string {
	root, err := filepath.Abs(workspace)
	if err != nil {
		return nil
	}

	var missing []string
	dir := filepath.Dir(abs)
	for dir != root && len(dir) > len(root) {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		rel, err := filepath.Rel(root, dir)
		if err != nil {
			break
		}
		missing = append(missing, filepath.ToSlash(rel))
		dir = filepath.Dir(dir)
	}

	// Reverse to outermost-first.
	for i, j := 0, len(missing)-1; i < j; i, j = i+1, j-1 {
		missing[i], missing[j] = missing[j], missing[i]
	}
	return missing
}

// mergeCreatedDirs unions newly created dirs into an existing list.
func mergeCreatedDirs(existing, created []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, d := range existing {
		seen[d] = true
	}
	for _, d := range created {
		if !seen[d] {
			existing = append(existing, d)
			seen[d] = true
		}
	}
	return existing
}
