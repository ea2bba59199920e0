// Package dedupe processes one rule file end to end: extraction, name
// registration and per-file output artifacts.
package dedupe

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/leapstack-labs/yaradedupe/internal/artifact"
	"github.com/leapstack-labs/yaradedupe/internal/extract"
	"github.com/leapstack-labs/yaradedupe/internal/registry"
)

// ErrorKind classifies a non-fatal per-file error.
type ErrorKind string

// Error kinds.
const (
	KindRead   ErrorKind = "read"
	KindDecode ErrorKind = "decode"
	KindWrite  ErrorKind = "write"
)

// FileError is a non-fatal problem with one file or artifact.
type FileError struct {
	Path string
	Kind ErrorKind
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// FileResult summarises the processing of one file.
type FileResult struct {
	Path       string
	Imports    int
	Kept       int
	Duplicates int
	Commented  int
	// WroteOutput is true when at least one artifact was written.
	WroteOutput bool
	// Skipped is true when the file could not be read or decoded.
	Skipped bool
	Errors  []*FileError
}

// Config configures a Deduplicator.
type Config struct {
	// OutputDir is the output root holding deduped_rules/ and commented_rules/.
	OutputDir string
	// Encodings are tried in order when decoding a file.
	Encodings []string
	// Registry is the run-wide name registry shared by all workers.
	Registry *registry.Registry
	// Writer writes generated artifacts.
	Writer artifact.Writer
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Deduplicator is safe for concurrent use as long as the Registry is.
type Deduplicator struct {
	outputDir string
	encodings []string
	registry  *registry.Registry
	writer    artifact.Writer
	logger    *slog.Logger

	mu sync.Mutex
	// targets maps each artifact path written so far to its source file.
	targets map[string]string
}

// New creates a Deduplicator.
func New(cfg Config) *Deduplicator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}
	return &Deduplicator{
		outputDir: cfg.OutputDir,
		encodings: cfg.Encodings,
		registry:  reg,
		writer:    cfg.Writer,
		logger:    logger,
		targets:   make(map[string]string),
	}
}

// Registry returns the registry the deduplicator registers into.
func (d *Deduplicator) Registry() *registry.Registry {
	return d.registry
}

// ProcessFile extracts path, registers each live rule and writes the per-file
// kept and commented artifacts. It never fails: problems are logged and
// returned in FileResult.Errors.
func (d *Deduplicator) ProcessFile(path string) FileResult {
	result := FileResult{Path: path}

	res, text, err := extract.ExtractFile(path, d.encodings)
	if err != nil {
		kind := KindRead
		if errors.Is(err, extract.ErrUndecodable) {
			kind = KindDecode
		}
		d.logger.Warn("skipping unreadable file", "path", path, "error", err.Error())
		result.Skipped = true
		result.Errors = append(result.Errors, &FileError{Path: path, Kind: kind, Err: err})
		return result
	}
	if res.Empty() {
		d.logger.Debug("no rules in file", "path", path)
		return result
	}

	result.Imports = len(res.Imports)
	d.registry.MergeImports(res.Imports)

	if len(res.Commented) > 0 {
		result.Commented = len(res.Commented)
		entries := append(append([]string{}, res.Imports...), res.CommentedText(text)...)
		target := artifact.MirrorPath(d.outputDir, artifact.CommentedDir, path)
		if d.write(&result, path, target, func() error { return d.writer.WriteList(target, entries) }) {
			result.WroteOutput = true
		}
	}

	var kept []string
	for _, block := range res.Rules {
		body := strings.TrimSpace(block.Text)
		if d.registry.Register(block.Name(), body, path) == registry.Accepted {
			kept = append(kept, body)
			result.Kept++
			continue
		}
		d.logger.Debug("duplicate rule", "rule", block.Name(), "path", path)
		result.Duplicates++
	}

	if len(kept) > 0 {
		target := artifact.MirrorPath(d.outputDir, artifact.DedupedDir, path)
		content := keptContent(res.Imports, kept)
		if d.write(&result, path, target, func() error { return d.writer.Write(target, content) }) {
			result.WroteOutput = true
		}
	}

	d.logger.Debug("processed file",
		"path", path,
		"encoding", res.Encoding,
		"rules", len(res.Rules),
		"kept", result.Kept,
		"duplicates", result.Duplicates,
		"commented", result.Commented)

	return result
}

func (d *Deduplicator) write(result *FileResult, source, target string, fn func() error) bool {
	if prev := d.claim(source, target); prev != "" {
		d.logger.Warn("output path already written by another file, overwriting",
			"path", target, "source", source, "previous", prev)
	}
	if err := fn(); err != nil {
		d.logger.Warn("failed to write artifact", "path", target, "error", err.Error())
		result.Errors = append(result.Errors, &FileError{Path: target, Kind: KindWrite, Err: err})
		return false
	}
	return true
}

// claim records source as the writer of target and returns the previous
// source when a different file already wrote it during this pass.
func (d *Deduplicator) claim(source, target string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, ok := d.targets[target]
	d.targets[target] = source
	if ok && prev != source {
		return prev
	}
	return ""
}

// keptContent lays out a per-file artifact: imports, two blank lines, then
// the kept rules separated by blank lines.
func keptContent(imports, rules []string) string {
	var b strings.Builder
	if len(imports) > 0 {
		b.WriteString(strings.Join(imports, "\n"))
		b.WriteString("\n\n\n")
	}
	b.WriteString(strings.Join(rules, "\n\n"))
	b.WriteString("\n")
	return b.String()
}
