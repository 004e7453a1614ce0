package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"crmpilot/internal/tool"
)

const maxReadBytes = 1 << 20

// Workspace confines the sys_* file capabilities to one directory so a plan
// can never touch paths outside it.
type Workspace struct {
	root string
}

func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Workspace{root: abs}, nil
}

// RegisterSys wires the sys_* capabilities.
func RegisterSys(r *tool.Runner, w *Workspace) error {
	handlers := map[string]tool.Handler{
		"sys_read_file":  w.readFile,
		"sys_write_file": w.writeFile,
		"sys_list_files": w.listFiles,
	}
	for name, h := range handlers {
		if err := r.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}

// resolve maps a user-supplied relative path into the workspace and rejects
// anything that escapes it.
func (w *Workspace) resolve(raw string) (string, error) {
	clean := filepath.Clean("/" + raw)
	full := filepath.Join(w.root, clean)
	if full != w.root && !strings.HasPrefix(full, w.root+string(filepath.Separator)) {
		return "", tool.NonRetryable(fmt.Errorf("path %q escapes the workspace", raw))
	}
	return full, nil
}

func (w *Workspace) readFile(ctx context.Context, args map[string]any) (any, error) {
	raw, err := tool.StringArg(args, "path")
	if err != nil {
		return nil, err
	}
	full, err := w.resolve(raw)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, tool.NonRetryable(fmt.Errorf("file %q does not exist", raw))
		}
		return nil, fmt.Errorf("read %q: %w", raw, err)
	}
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
	}
	return map[string]any{"path": raw, "content": string(data)}, nil
}

func (w *Workspace) writeFile(ctx context.Context, args map[string]any) (any, error) {
	raw, err := tool.StringArg(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := tool.StringArg(args, "content")
	if err != nil {
		return nil, err
	}
	full, err := w.resolve(raw)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("create parent dirs for %q: %w", raw, err)
	}

	// Write to a sibling temp file, then rename into place.
	tmp, err := os.CreateTemp(filepath.Dir(full), ".crmpilot-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("write %q: %w", raw, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("replace %q: %w", raw, err)
	}
	return map[string]any{"path": raw, "bytes": len(content)}, nil
}

func (w *Workspace) listFiles(ctx context.Context, args map[string]any) (any, error) {
	raw := tool.OptionalStringArg(args, "path")
	if raw == "" {
		raw = "."
	}
	full, err := w.resolve(raw)
	if err != nil {
		return nil, err
	}

	var names []string
	err = filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != full {
				return filepath.SkipDir
			}
			return nil
		}
		rel, rerr := filepath.Rel(w.root, p)
		if rerr != nil {
			return rerr
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, tool.NonRetryable(fmt.Errorf("directory %q does not exist", raw))
		}
		return nil, fmt.Errorf("list %q: %w", raw, err)
	}
	return map[string]any{"path": raw, "files": names, "count": len(names)}, nil
}
