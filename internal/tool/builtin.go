package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mfalcier/conclave/internal/provider"
)

// MapRegistry is the default Registry: a name-keyed tool map.
type MapRegistry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates a registry over the given tools. Later tools under
// the same name win.
func NewRegistry(tools ...Tool) *MapRegistry {
	r := &MapRegistry{tools: make(map[string]Tool)}
	for _, t := range tools {
		if _, exists := r.tools[t.Name()]; !exists {
			r.order = append(r.order, t.Name())
		}
		r.tools[t.Name()] = t
	}
	return r
}

// GetTool resolves a tool by name.
func (r *MapRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Schemas returns the tool schemas in registration order.
func (r *MapRegistry) Schemas() []provider.ToolSchema {
	schemas := make([]provider.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		schemas = append(schemas, provider.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return schemas
}

// Builtins returns the standard file tools rooted at dir.
func Builtins(dir string) []Tool {
	return []Tool{
		&readFileTool{root: dir},
		&writeFileTool{root: dir},
		&listDirTool{root: dir},
	}
}

// resolvePath confines a tool path to the workspace root. Escaping the
// root is a tool error, not a halt.
func resolvePath(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	abs := filepath.Join(root, filepath.Clean("/"+rel))
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return abs, nil
}

type pathArgs struct {
	Path string `json:"path"`
}

type readFileTool struct {
	root string
}

func (t *readFileTool) Name() string        { return "read_file" }
func (t *readFileTool) Description() string { return "Read a file from the workspace." }
func (t *readFileTool) Writes() bool        { return false }
func (t *readFileTool) AutoApproved() bool  { return true }

func (t *readFileTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
}

func (t *readFileTool) ResolveTarget(input json.RawMessage) string {
	return ResolveTargetOrGlobal(input)
}

func (t *readFileTool) Execute(ctx context.Context, input json.RawMessage) (Result, error) {
	var args pathArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return Result{}, fmt.Errorf("read_file arguments: %w", err)
	}
	abs, err := resolvePath(t.root, args.Path)
	if err != nil {
		return Result{}, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: string(data)}, nil
}

type writeArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type writeFileTool struct {
	root string
}

func (t *writeFileTool) Name() string        { return "write_file" }
func (t *writeFileTool) Description() string { return "Create or overwrite a file in the workspace." }
func (t *writeFileTool) Writes() bool        { return true }
func (t *writeFileTool) AutoApproved() bool  { return false }

func (t *writeFileTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`)
}

func (t *writeFileTool) ResolveTarget(input json.RawMessage) string {
	return ResolveTargetOrGlobal(input)
}

func (t *writeFileTool) Execute(ctx context.Context, input json.RawMessage) (Result, error) {
	var args writeArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return Result{}, fmt.Errorf("write_file arguments: %w", err)
	}
	abs, err := resolvePath(t.root, args.Path)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Result{}, err
	}
	if err := os.WriteFile(abs, []byte(args.Content), 0o644); err != nil {
		return Result{}, err
	}
	return Result{Text: fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path)}, nil
}

type listDirTool struct {
	root string
}

func (t *listDirTool) Name() string        { return "list_dir" }
func (t *listDirTool) Description() string { return "List a workspace directory." }
func (t *listDirTool) Writes() bool        { return false }
func (t *listDirTool) AutoApproved() bool  { return true }

func (t *listDirTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`)
}

func (t *listDirTool) ResolveTarget(input json.RawMessage) string {
	return ResolveTargetOrGlobal(input)
}

func (t *listDirTool) Execute(ctx context.Context, input json.RawMessage) (Result, error) {
	var args pathArgs
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return Result{}, fmt.Errorf("list_dir arguments: %w", err)
		}
	}
	if args.Path == "" {
		args.Path = "."
	}
	abs, err := resolvePath(t.root, args.Path)
	if err != nil {
		return Result{}, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return Result{}, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return Result{Text: strings.Join(names, "\n"), Structured: names}, nil
}
