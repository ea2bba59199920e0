// Package artifact writes generated rule files under the output root.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Output layout below the output root.
const (
	DedupedDir   = "deduped_rules"
	CommentedDir = "commented_rules"
	MergedFile   = "all_in_one.yar"
	IndexFile    = "index.yar"
	IndexSuffix  = "_index.yar"
)

// HeaderTimeFormat is the timestamp layout used in generated headers.
const HeaderTimeFormat = "Jan 02, 2006 03:04:05 PM MST"

// Writer writes files prefixed with a generated header comment.
type Writer struct {
	Tool    string
	Version string
	// Now is the clock used for the header timestamp (time.Now if nil).
	Now func() time.Time
}

// Header returns the generated header comment line.
func (w Writer) Header() string {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	return fmt.Sprintf("/* file generated by %s %s @ %s */", w.Tool, w.Version, now().Format(HeaderTimeFormat))
}

// Write creates the parent directory of path and writes the header followed by content.
func (w Writer) Write(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	data := w.Header() + "\n\n" + content
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// WriteList trims each entry, drops empty ones and writes them separated by blank lines.
func (w Writer) WriteList(path string, entries []string) error {
	return w.Write(path, JoinEntries(entries))
}

// JoinEntries trims entries, drops empty ones and joins the rest with blank lines.
func JoinEntries(entries []string) string {
	kept := make([]string, 0, len(entries))
	for _, e := range entries {
		if e = strings.TrimSpace(e); e != "" {
			kept = append(kept, e)
		}
	}
	return strings.Join(kept, "\n\n")
}

// MirrorPath returns <root>/<tree>/<parent dir name of src>/<file name of src>.
func MirrorPath(root, tree, src string) string {
	parent := filepath.Base(filepath.Dir(filepath.Clean(src)))
	return filepath.Join(root, tree, parent, filepath.Base(src))
}

// EnsureRoot creates the output root and both rule trees.
func EnsureRoot(root string) error {
	for _, dir := range []string{root, filepath.Join(root, DedupedDir), filepath.Join(root, CommentedDir)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
