package tools

import (
	"bufio"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"syscall"
)

// RegisterFilesystemTools adds the built-in file read/write/edit/glob/grep/
// mkdir handlers named in spec.md §4.B to reg. Path resolution reuses the
// teacher's symlink/hardlink/TOCTOU defenses (resolvePath and friends,
// below) unchanged — the workspace-confinement threat model doesn't change
// between a gateway agent and a CLI agent. Only the surrounding
// Definition/Handler wiring and the handlers themselves are new.
func RegisterFilesystemTools(reg *Registry, workspace string, restrict bool) {
	reg.Register(&Definition{
		Name:        "read_file",
		Description: "Read a file's contents, optionally a line range, with line numbers",
		Category:    CategoryFile,
		Permission:  PermissionSafe,
		Params: []ParamSpec{
			{Name: "path", Type: ParamString, Required: true},
			{Name: "start_line", Type: ParamNumber},
			{Name: "end_line", Type: ParamNumber},
		},
		Handler: readFileHandler(workspace, restrict),
	})

	reg.Register(&Definition{
		Name:        "write_file",
		Description: "Write contents to a file, creating or atomically replacing it",
		Category:    CategoryFile,
		Permission:  PermissionLocalModify,
		Params: []ParamSpec{
			{Name: "path", Type: ParamString, Required: true},
			{Name: "content", Type: ParamString, Required: true},
		},
		Handler: writeFileHandler(workspace, restrict),
	})

	reg.Register(&Definition{
		Name:        "edit_file",
		Description: "Replace an exact string match in a file; the match must be unique unless replace_all is set",
		Category:    CategoryFile,
		Permission:  PermissionLocalModify,
		Params: []ParamSpec{
			{Name: "path", Type: ParamString, Required: true},
			{Name: "old_string", Type: ParamString, Required: true},
			{Name: "new_string", Type: ParamString, Required: true},
			{Name: "replace_all", Type: ParamBool, Default: false},
		},
		Handler: editFileHandler(workspace, restrict),
	})

	reg.Register(&Definition{
		Name:        "glob",
		Description: "Find files matching a glob pattern under the workspace",
		Category:    CategorySearch,
		Permission:  PermissionSafe,
		Params: []ParamSpec{
			{Name: "pattern", Type: ParamString, Required: true},
		},
		Handler: globHandler(workspace, restrict),
	})

	reg.Register(&Definition{
		Name:        "grep",
		Description: "Recursively search file contents for a regular expression",
		Category:    CategorySearch,
		Permission:  PermissionSafe,
		Params: []ParamSpec{
			{Name: "pattern", Type: ParamString, Required: true},
			{Name: "path", Type: ParamString, Default: "."},
			{Name: "case_insensitive", Type: ParamBool, Default: false},
		},
		Handler: grepHandler(workspace, restrict),
	})

	reg.Register(&Definition{
		Name:        "mkdir",
		Description: "Create a directory and any missing parents (idempotent)",
		Category:    CategoryFile,
		Permission:  PermissionLocalModify,
		Params: []ParamSpec{
			{Name: "path", Type: ParamString, Required: true},
		},
		Handler: mkdirHandler(workspace, restrict),
	})
}

func readFileHandler(workspace string, restrict bool) Handler {
	return func(ec *ExecContext, params map[string]interface{}) *Result {
		path, _ := params["path"].(string)
		resolved, err := resolvePath(path, workingDir(ec, workspace), restrict)
		if err != nil {
			return ErrorResult(err.Error())
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return ErrorResult(fmt.Sprintf("failed to read file: %v", err))
		}

		start, hasStart := numParam(params, "start_line")
		end, hasEnd := numParam(params, "end_line")
		if !hasStart && !hasEnd {
			return NewResult(numberLines(string(data), 1))
		}

		lines := strings.Split(string(data), "\n")
		lo := 1
		hi := len(lines)
		if hasStart {
			lo = start
		}
		if hasEnd {
			hi = end
		}
		if lo < 1 {
			lo = 1
		}
		if hi > len(lines) {
			hi = len(lines)
		}
		if lo > hi {
			return NewResult("")
		}
		return NewResult(numberLines(strings.Join(lines[lo-1:hi], "\n"), lo))
	}
}

func numberLines(text string, start int) string {
	lines := strings.Split(text, "\n")
	var sb strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&sb, "%6d\t%s\n", start+i, l)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func writeFileHandler(workspace string, restrict bool) Handler {
	return func(ec *ExecContext, params map[string]interface{}) *Result {
		path, _ := params["path"].(string)
		content, _ := params["content"].(string)
		resolved, err := resolvePath(path, workingDir(ec, workspace), restrict)
		if err != nil {
			return ErrorResult(err.Error())
		}

		if existing, err := os.ReadFile(resolved); err == nil {
			_ = os.WriteFile(resolved+".backup", existing, 0o644)
		}

		dir := filepath.Dir(resolved)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ErrorResult(fmt.Sprintf("failed to create parent directory: %v", err))
		}

		tmp, err := os.CreateTemp(dir, ".ggcode-write-*")
		if err != nil {
			return ErrorResult(fmt.Sprintf("failed to create temp file: %v", err))
		}
		tmpName := tmp.Name()
		if _, err := tmp.WriteString(content); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return ErrorResult(fmt.Sprintf("failed to write temp file: %v", err))
		}
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return ErrorResult(fmt.Sprintf("failed to sync temp file: %v", err))
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpName)
			return ErrorResult(fmt.Sprintf("failed to close temp file: %v", err))
		}
		if err := os.Rename(tmpName, resolved); err != nil {
			os.Remove(tmpName)
			return ErrorResult(fmt.Sprintf("failed to replace file: %v", err))
		}

		return NewResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
	}
}

func editFileHandler(workspace string, restrict bool) Handler {
	return func(ec *ExecContext, params map[string]interface{}) *Result {
		path, _ := params["path"].(string)
		oldStr, _ := params["old_string"].(string)
		newStr, _ := params["new_string"].(string)
		replaceAll, _ := params["replace_all"].(bool)

		resolved, err := resolvePath(path, workingDir(ec, workspace), restrict)
		if err != nil {
			return ErrorResult(err.Error())
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return ErrorResult(fmt.Sprintf("failed to read file: %v", err))
		}
		content := string(data)

		count := strings.Count(content, oldStr)
		if count == 0 {
			return ErrorResult("old_string not found in file")
		}
		if !replaceAll && count > 1 {
			return ErrorResult(fmt.Sprintf("old_string matches %d times; pass replace_all or make it unique", count))
		}

		var updated string
		if replaceAll {
			updated = strings.ReplaceAll(content, oldStr, newStr)
		} else {
			updated = strings.Replace(content, oldStr, newStr, 1)
		}

		tmp, err := os.CreateTemp(filepath.Dir(resolved), ".ggcode-edit-*")
		if err != nil {
			return ErrorResult(fmt.Sprintf("failed to create temp file: %v", err))
		}
		tmpName := tmp.Name()
		if _, err := tmp.WriteString(updated); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return ErrorResult(fmt.Sprintf("failed to write temp file: %v", err))
		}
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return ErrorResult(fmt.Sprintf("failed to sync temp file: %v", err))
		}
		tmp.Close()
		if err := os.Rename(tmpName, resolved); err != nil {
			os.Remove(tmpName)
			return ErrorResult(fmt.Sprintf("failed to replace file: %v", err))
		}

		replacements := 1
		if replaceAll {
			replacements = count
		}
		return NewResult(fmt.Sprintf("replaced %d occurrence(s) in %s", replacements, path))
	}
}

func globHandler(workspace string, restrict bool) Handler {
	return func(ec *ExecContext, params map[string]interface{}) *Result {
		pattern, _ := params["pattern"].(string)
		base := workingDir(ec, workspace)

		full := pattern
		if !filepath.IsAbs(pattern) {
			full = filepath.Join(base, pattern)
		}
		matches, err := filepath.Glob(full)
		if err != nil {
			return ErrorResult(fmt.Sprintf("invalid glob pattern: %v", err))
		}
		sort.Strings(matches)

		var out []string
		for _, m := range matches {
			if restrict {
				if _, err := resolvePath(m, base, restrict); err != nil {
					continue
				}
			}
			rel, err := filepath.Rel(base, m)
			if err != nil {
				rel = m
			}
			out = append(out, rel)
		}
		return NewResult(strings.Join(out, "\n"))
	}
}

func grepHandler(workspace string, restrict bool) Handler {
	return func(ec *ExecContext, params map[string]interface{}) *Result {
		pattern, _ := params["pattern"].(string)
		relPath, _ := params["path"].(string)
		if relPath == "" {
			relPath = "."
		}
		caseInsensitive, _ := params["case_insensitive"].(bool)

		base := workingDir(ec, workspace)
		root, err := resolvePath(relPath, base, restrict)
		if err != nil {
			return ErrorResult(err.Error())
		}

		expr := pattern
		if caseInsensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return ErrorResult(fmt.Sprintf("invalid pattern: %v", err))
		}

		var hits []string
		walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if d.Name() == ".git" || d.Name() == "node_modules" {
					return filepath.SkipDir
				}
				return nil
			}
			f, err := os.Open(p)
			if err != nil {
				return nil
			}
			defer f.Close()

			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			lineNo := 0
			for scanner.Scan() {
				lineNo++
				line := scanner.Text()
				if re.MatchString(line) {
					rel, relErr := filepath.Rel(base, p)
					if relErr != nil {
						rel = p
					}
					hits = append(hits, fmt.Sprintf("%s:%d:%s", rel, lineNo, line))
				}
			}
			return nil
		})
		if walkErr != nil {
			return ErrorResult(fmt.Sprintf("walk failed: %v", walkErr))
		}
		return NewResult(strings.Join(hits, "\n"))
	}
}

func mkdirHandler(workspace string, restrict bool) Handler {
	return func(ec *ExecContext, params map[string]interface{}) *Result {
		path, _ := params["path"].(string)
		base := workingDir(ec, workspace)

		var target string
		if filepath.IsAbs(path) {
			target = filepath.Clean(path)
		} else {
			target = filepath.Clean(filepath.Join(base, path))
		}
		if restrict {
			absBase, _ := filepath.Abs(base)
			if !isPathInside(target, absBase) {
				return ErrorResult("access denied: path outside workspace")
			}
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return ErrorResult(fmt.Sprintf("failed to create directory: %v", err))
		}
		return NewResult(fmt.Sprintf("created directory %s", path))
	}
}

func workingDir(ec *ExecContext, fallback string) string {
	if ec != nil && ec.WorkingDir != "" {
		return ec.WorkingDir
	}
	return fallback
}

func numParam(params map[string]interface{}, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

// resolvePath resolves a path relative to the workspace and validates it.
// When restrict=true, resolves symlinks to canonical paths and rejects
// paths that escape the workspace boundary (symlink/hardlink attacks).
func resolvePath(path, workspace string, restrict bool) (string, error) {
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(workspace, path))
	}

	if !restrict {
		return resolved, nil
	}

	// Resolve workspace to canonical path (follow symlinks in workspace path itself).
	absWorkspace, _ := filepath.Abs(workspace)
	wsReal, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		wsReal = absWorkspace // workspace doesn't exist yet — use as-is
	}

	// Resolve the target path to canonical form (follows all symlinks).
	absResolved, _ := filepath.Abs(resolved)
	real, err := filepath.EvalSymlinks(absResolved)
	if err != nil {
		if os.IsNotExist(err) {
			// Check if the path itself is a symlink (broken/dangling).
			// Lstat doesn't follow symlinks, so it succeeds even for broken ones.
			if linfo, lerr := os.Lstat(absResolved); lerr == nil && linfo.Mode()&os.ModeSymlink != 0 {
				// It's a broken symlink — read target and validate.
				target, readErr := os.Readlink(absResolved)
				if readErr != nil {
					return "", fmt.Errorf("access denied: cannot resolve symlink")
				}
				if !filepath.IsAbs(target) {
					target = filepath.Join(filepath.Dir(absResolved), target)
				}
				target = filepath.Clean(target)

				// Resolve through existing ancestors to catch chained symlinks
				// (e.g. link1 → link2 → /outside) where intermediate targets escape.
				resolved, resolveErr := resolveThroughExistingAncestors(target)
				if resolveErr != nil {
					slog.Warn("security.broken_symlink_resolve_failed", "path", path, "target", target)
					return "", fmt.Errorf("access denied: cannot resolve broken symlink target")
				}
				if !isPathInside(resolved, wsReal) {
					slog.Warn("security.broken_symlink_escape", "path", path, "target", resolved, "workspace", wsReal)
					return "", fmt.Errorf("access denied: broken symlink target outside workspace")
				}
				real = resolved
			} else {
				// Truly non-existent file (not a symlink): resolve parent and re-validate.
				parentReal, parentErr := filepath.EvalSymlinks(filepath.Dir(absResolved))
				if parentErr != nil {
					return "", fmt.Errorf("access denied: cannot resolve path")
				}
				real = filepath.Join(parentReal, filepath.Base(absResolved))
			}
		} else {
			// Permission error or other — reject.
			slog.Warn("security.path_resolve_failed", "path", path, "error", err)
			return "", fmt.Errorf("access denied: cannot resolve path")
		}
	}

	// Validate canonical path stays within canonical workspace.
	if !isPathInside(real, wsReal) {
		slog.Warn("security.path_escape", "path", path, "resolved", real, "workspace", wsReal)
		return "", fmt.Errorf("access denied: path outside workspace")
	}

	// Reject paths with mutable symlink components (TOCTOU symlink rebind risk).
	// A symlink in the path whose parent directory is writable could be replaced
	// between resolution time and actual file operation.
	if hasMutableSymlinkParent(real) {
		slog.Warn("security.mutable_symlink_parent", "path", path, "resolved", real)
		return "", fmt.Errorf("access denied: path contains mutable symlink component")
	}

	// Reject hardlinked files (nlink > 1) to prevent hardlink-based escapes.
	if err := checkHardlink(real); err != nil {
		return "", err
	}

	return real, nil
}

// isPathInside checks whether child is inside or equal to parent directory.
func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// resolveThroughExistingAncestors resolves a path by finding the deepest
// existing ancestor, canonicalizing it with EvalSymlinks, then appending
// the remaining non-existent components. This handles broken symlinks
// whose targets contain intermediate symlinks that escape the workspace.
func resolveThroughExistingAncestors(target string) (string, error) {
	// Try full resolution first (target exists and all symlinks resolve)
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	}

	// Walk up to find the deepest existing ancestor
	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			// Reached filesystem root without finding existing dir
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent

		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			// Found existing ancestor — canonicalize and rebuild
			result := realParent
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result, nil
		}
	}
	return filepath.Clean(target), nil
}

// hasMutableSymlinkParent checks if any component of the resolved path is a symlink
// whose parent directory is writable by the current process. A writable parent means
// the symlink could be replaced between path resolution and actual file operation
// (TOCTOU symlink rebind attack).
func hasMutableSymlinkParent(path string) bool {
	clean := filepath.Clean(path)
	components := strings.Split(clean, string(filepath.Separator))
	current := string(filepath.Separator)
	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)
		info, err := os.Lstat(current)
		if err != nil {
			break // non-existent — stop checking
		}
		if info.Mode()&os.ModeSymlink != 0 {
			// Symlink found — check if its parent dir is writable
			parentDir := filepath.Dir(current)
			if syscall.Access(parentDir, 0x2 /* W_OK */) == nil {
				return true
			}
		}
	}
	return false
}

// checkHardlink rejects regular files with nlink > 1 (hardlink attack prevention).
// Directories naturally have nlink > 1 and are exempt.
func checkHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil // non-existent files are OK — will fail at read/write
	}
	if info.IsDir() {
		return nil
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Nlink > 1 {
			slog.Warn("security.hardlink_rejected", "path", path, "nlink", stat.Nlink)
			return fmt.Errorf("access denied: hardlinked file not allowed")
		}
	}
	return nil
}
