// Package validate checks generated rule files and imports with an external
// rule compiler.
package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrCompilerNotFound is returned by Detect when no compiler binary is available.
var ErrCompilerNotFound = errors.New("rule compiler not found")

// Validator checks rule sources.
type Validator interface {
	// CompileCheck reports whether src compiles.
	CompileCheck(ctx context.Context, src string) error
	// ImportResolves reports whether the import statement names a module the
	// compiler knows.
	ImportResolves(ctx context.Context, imp string) bool
}

// CompileError carries the compiler's diagnostic output.
type CompileError struct {
	Output string
	Err    error
}

func (e *CompileError) Error() string {
	if e.Output == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Output)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// Yarac runs the yarac binary against temporary source files.
type Yarac struct {
	path string
}

// NewYarac returns a validator using the binary at path.
func NewYarac(path string) *Yarac {
	return &Yarac{path: path}
}

// Detect locates a yarac binary. An explicit path is used as is when it
// exists; otherwise PATH is searched.
func Detect(explicit string) (*Yarac, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCompilerNotFound, err)
		}
		return NewYarac(explicit), nil
	}
	path, err := exec.LookPath("yarac")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompilerNotFound, err)
	}
	return NewYarac(path), nil
}

// Path returns the compiler binary path.
func (y *Yarac) Path() string {
	return y.path
}

// CompileCheck compiles src into a throwaway output file.
func (y *Yarac) CompileCheck(ctx context.Context, src string) error {
	dir, err := os.MkdirTemp("", "yaradedupe-check-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "check.yar")
	if err := os.WriteFile(in, []byte(src), 0o600); err != nil {
		return fmt.Errorf("write temp source: %w", err)
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, y.path, in, filepath.Join(dir, "check.yarc"))
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return &CompileError{Output: strings.TrimSpace(out.String()), Err: err}
	}
	return nil
}

// ImportResolves compiles a source holding only imp and a trivial rule.
func (y *Yarac) ImportResolves(ctx context.Context, imp string) bool {
	src := imp + "\n\nrule import_probe { condition: true }\n"
	return y.CompileCheck(ctx, src) == nil
}
