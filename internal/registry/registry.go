// Package registry provides the run-wide rule name registry.
// It decides first-seen-wins uniqueness by rule name, records which files
// declared each name and accumulates the kept rule set and imports.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Outcome is the result of registering a rule.
type Outcome int

const (
	// Accepted means the name was new and the body was kept.
	Accepted Outcome = iota
	// Rejected means the name was already registered; only provenance was recorded.
	Rejected
)

func (o Outcome) String() string {
	if o == Accepted {
		return "accepted"
	}
	return "rejected"
}

// KeptRule is one entry of the kept rule set.
type KeptRule struct {
	Name string
	File string
	Body string
}

// Annotated returns the body prefixed with a provenance comment.
func (k KeptRule) Annotated() string {
	return fmt.Sprintf("\n// rule from: %s\n%s\n", k.File, strings.TrimSpace(k.Body))
}

// Duplicate is a rule name declared by more than one file.
type Duplicate struct {
	Name  string   `json:"name" yaml:"name"`
	Files []string `json:"files" yaml:"files"`
}

// Stats holds the running counters. Seen always equals Kept + Duplicates.
type Stats struct {
	Seen       int `json:"seen" yaml:"seen"`
	Kept       int `json:"kept" yaml:"kept"`
	Duplicates int `json:"duplicates" yaml:"duplicates"`
}

// Registry is safe for concurrent use. Every mutation happens under one
// exclusive lock held only for the duration of a single call.
type Registry struct {
	mu sync.Mutex

	// declared maps a rule name to the files that declared it, in discovery order.
	declared map[string][]string

	// order lists names in first-registration order.
	order []string

	kept    []KeptRule
	imports map[string]struct{}
	stats   Stats
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		declared: make(map[string][]string),
		imports:  make(map[string]struct{}),
	}
}

// Register records that file declares name. The first registration of a
// name is Accepted and its body joins the kept set; every later one is
// Rejected and only its file is appended to the name's provenance.
func (r *Registry) Register(name, body, file string) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	files, seen := r.declared[name]
	r.declared[name] = append(files, file)
	r.stats.Seen++

	if seen {
		r.stats.Duplicates++
		return Rejected
	}

	r.order = append(r.order, name)
	r.kept = append(r.kept, KeptRule{Name: name, File: file, Body: body})
	r.stats.Kept++
	return Accepted
}

// MergeImports adds import declarations to the run-wide import set.
func (r *Registry) MergeImports(imports []string) {
	if len(imports) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, imp := range imports {
		r.imports[imp] = struct{}{}
	}
}

// Stats returns a snapshot of the counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Imports returns the import set sorted lexically.
func (r *Registry) Imports() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.imports))
	for imp := range r.imports {
		out = append(out, imp)
	}
	sort.Strings(out)
	return out
}

// Kept returns a copy of the kept rule set in registration order.
func (r *Registry) Kept() []KeptRule {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]KeptRule, len(r.kept))
	copy(out, r.kept)
	return out
}

// Names returns every registered name in first-registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// DeclaredBy returns the files that declared name, in discovery order.
func (r *Registry) DeclaredBy(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	files := r.declared[name]
	out := make([]string, len(files))
	copy(out, files)
	return out
}

// Duplicates returns every name declared more than once, sorted by name.
func (r *Registry) Duplicates() []Duplicate {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dups []Duplicate
	for name, files := range r.declared {
		if len(files) < 2 {
			continue
		}
		dup := Duplicate{Name: name, Files: make([]string, len(files))}
		copy(dup.Files, files)
		dups = append(dups, dup)
	}
	sort.Slice(dups, func(i, j int) bool { return dups[i].Name < dups[j].Name })
	return dups
}
