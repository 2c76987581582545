package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FilesSkill exposes file operations. Writes are dangerous and go
// through the confirmation gate.
func FilesSkill() *Skill {
	return &Skill{
		ID:          "files",
		Name:        "Files",
		Description: "Read, write and list files on the local filesystem",
		Icon:        "📁",
		Category:    "system",
		Builtin:     true,
		Enabled:     true,
		Tools: []Tool{
			{
				Name:        "read_file",
				Description: "Read a text file with line numbers. Long files are windowed with offset/limit.",
				Params: []Param{
					{Name: "path", Type: "string", Description: "File path (~ expands to the home directory)", Required: true},
					{Name: "offset", Type: "number", Description: "First line to show, 1-based (default 1)"},
					{Name: "limit", Type: "number", Description: "Maximum lines to show (default 2000)"},
				},
				Run: runReadFile,
			},
			{
				Name:        "write_file",
				Description: "Write content to a file, creating parent directories. Overwrites unless append is set.",
				Dangerous:   true,
				Params: []Param{
					{Name: "path", Type: "string", Description: "Destination file path", Required: true},
					{Name: "content", Type: "string", Description: "Content to write", Required: true},
					{Name: "append", Type: "boolean", Description: "Append instead of overwriting"},
				},
				Run: runWriteFile,
			},
			{
				Name:        "list_dir",
				Description: "List a directory's entries, directories first.",
				Params: []Param{
					{Name: "path", Type: "string", Description: "Directory path (default current directory)"},
				},
				Run: runListDir,
			},
		},
	}
}

const (
	readLineLimit = 2000
	maxLineLen    = 2000
)

func runReadFile(ctx context.Context, args map[string]any) (string, error) {
	path := StringArg(args, "path")
	if err := validateFilePath(path, "read"); err != nil {
		return "", err
	}
	path = expandPath(path)

	offset := 1
	if v, ok := NumberArg(args, "offset"); ok && v > 0 {
		offset = int(v)
	}
	limit := readLineLimit
	if v, ok := NumberArg(args, "limit"); ok && v > 0 {
		limit = int(v)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory, use list_dir", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var out strings.Builder
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	lineNum := 0
	shown := 0
	for scanner.Scan() {
		lineNum++
		if lineNum < offset {
			continue
		}
		if shown >= limit {
			out.WriteString(fmt.Sprintf("\n... (showing lines %d-%d of %d+)", offset, lineNum-1, lineNum))
			break
		}
		line := scanner.Text()
		if len(line) > maxLineLen {
			line = line[:maxLineLen] + "..."
		}
		out.WriteString(fmt.Sprintf("%6d\t%s\n", lineNum, line))
		shown++
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	if out.Len() == 0 {
		if offset > 1 {
			return fmt.Sprintf("(file has fewer than %d lines)", offset), nil
		}
		return "(file is empty)", nil
	}
	return out.String(), nil
}

func runWriteFile(ctx context.Context, args map[string]any) (string, error) {
	path := StringArg(args, "path")
	if err := validateFilePath(path, "write"); err != nil {
		return "", err
	}
	path = expandPath(path)
	content := StringArg(args, "content")
	appendMode := BoolArg(args, "append")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}

	flags := os.O_WRONLY | os.O_CREATE
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return "", err
	}
	defer file.Close()

	n, err := file.WriteString(content)
	if err != nil {
		return "", err
	}
	verb := "Wrote"
	if appendMode {
		verb = "Appended"
	}
	return fmt.Sprintf("%s %d bytes to %s", verb, n, path), nil
}

func runListDir(ctx context.Context, args map[string]any) (string, error) {
	path := StringArg(args, "path")
	if path == "" {
		path = "."
	}
	if err := validateFilePath(path, "read"); err != nil {
		return "", err
	}
	path = expandPath(path)

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	var out strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			out.WriteString(e.Name() + "/\n")
		} else {
			out.WriteString(e.Name() + "\n")
		}
	}
	if out.Len() == 0 {
		return "(empty directory)", nil
	}
	return strings.TrimRight(out.String(), "\n"), nil
}

// sensitivePaths are never readable or writable through file tools.
// Resolved to absolute paths at init for reliable matching.
var sensitivePaths = func() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".ssh"),
		filepath.Join(home, ".aws"),
		filepath.Join(home, ".config", "gcloud"),
		filepath.Join(home, ".gnupg"),
		filepath.Join(home, ".kube", "config"),
		filepath.Join(home, ".npmrc"),
		filepath.Join(home, ".password-store"),
		// Shell init files: write protection against persistence tricks
		filepath.Join(home, ".bashrc"),
		filepath.Join(home, ".bash_profile"),
		filepath.Join(home, ".zshrc"),
		filepath.Join(home, ".zprofile"),
		filepath.Join(home, ".profile"),
		"/etc/shadow",
		"/etc/passwd",
		"/etc/sudoers",
	}
}()

// validateFilePath blocks access to credential stores and shell rc
// files, resolving symlinks so links into those paths are caught too.
func validateFilePath(rawPath, action string) error {
	if rawPath == "" {
		return fmt.Errorf("path is required")
	}
	absPath, err := filepath.Abs(expandPath(rawPath))
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	realPath := absPath
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		realPath = resolved
	}

	for _, sensitive := range sensitivePaths {
		if pathIsInside(absPath, sensitive) || pathIsInside(realPath, sensitive) {
			return fmt.Errorf("%s access to %q is restricted (sensitive path)", action, rawPath)
		}
	}
	return nil
}

func pathIsInside(path, target string) bool {
	if path == target {
		return true
	}
	return strings.HasPrefix(path, target+string(filepath.Separator))
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
