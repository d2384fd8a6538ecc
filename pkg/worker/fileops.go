package worker

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sheratan/mesh/pkg/errs"
)

// resolveBounded joins root and rel, refusing any path that escapes root
// after cleaning. All file-op kinds go through this before touching disk.
func resolveBounded(root, rel string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("worker: resolve root %s: %w", root, err)
	}
	joined := filepath.Join(absRoot, rel)
	cleaned := filepath.Clean(joined)
	if cleaned != absRoot && !isWithin(absRoot, cleaned) {
		return "", fmt.Errorf("worker: path %q: %w", rel, errs.ErrPathEscape)
	}
	return cleaned, nil
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[:2] == ".." && (len(rel) == 2 || rel[2] == filepath.Separator)
}

func listFiles(root, rel string) (map[string]any, error) {
	dir, err := resolveBounded(root, rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("worker: list_files %s: %w", rel, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return map[string]any{"action": "list_files_result", "path": rel, "entries": names}, nil
}

func readFile(root, rel string) (map[string]any, error) {
	path, err := resolveBounded(root, rel)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("worker: read_file %s: %w", rel, err)
	}
	return map[string]any{"action": "read_file_result", "path": rel, "content": string(raw)}, nil
}

func writeFile(root, rel, content string) (map[string]any, error) {
	path, err := resolveBounded(root, rel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("worker: write_file mkdir %s: %w", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("worker: write_file %s: %w", rel, err)
	}
	return map[string]any{"action": "write_file", "path": rel, "bytes_written": len(content)}, nil
}
