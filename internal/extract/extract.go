// Package extract turns the text of one rule file into its import
// declarations, live rule blocks and comment spans.
//
// Extraction is pure: ExtractFile performs the single read and everything
// after that works on the decoded string.
package extract

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var importRe = regexp.MustCompile(`(?m)^[ \t]*import[ \t]+[^\r\n]*`)

// Result holds everything found in one file.
type Result struct {
	// Encoding is the name of the encoding that decoded the file.
	Encoding string
	// Imports are the import declarations in file order.
	Imports []string
	// Rules are the live rule blocks in file order.
	Rules []Block
	// Comments are all comment spans that start with a comment opener.
	Comments []Span
	// Commented are rule blocks that only exist inside comments.
	Commented []Block
}

// Empty reports whether nothing useful was found.
func (r *Result) Empty() bool {
	return r == nil || (len(r.Imports) == 0 && len(r.Rules) == 0 && len(r.Comments) == 0)
}

// CommentedText returns the comment text holding each commented-out rule.
// Overlapping ranges are merged and returned in file order.
func (r *Result) CommentedText(input string) []string {
	if r == nil || len(r.Commented) == 0 {
		return nil
	}

	type rng struct{ lo, hi int }
	var ranges []rng
	for _, b := range r.Commented {
		for _, c := range r.Comments {
			switch {
			case c.contains(b.Start):
				// Line comments end before the block does.
				ranges = append(ranges, rng{min(b.Start, c.Start), max(b.End, c.End)})
			case strings.Contains(c.Text, b.Text):
				ranges = append(ranges, rng{c.Start, c.End})
			}
		}
	}
	if len(ranges) == 0 {
		return nil
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].lo < ranges[j].lo })

	merged := ranges[:1]
	for _, cur := range ranges[1:] {
		last := &merged[len(merged)-1]
		if cur.lo <= last.hi {
			last.hi = max(last.hi, cur.hi)
			continue
		}
		merged = append(merged, cur)
	}

	out := make([]string, 0, len(merged))
	for _, m := range merged {
		out = append(out, input[m.lo:m.hi])
	}
	return out
}

// Extract runs import, comment and rule matching over decoded text.
func Extract(text string) *Result {
	res := &Result{}

	for _, c := range scanComments(text) {
		trimmed := strings.TrimSpace(c.Text)
		if !strings.HasPrefix(trimmed, "/*") && !strings.HasPrefix(trimmed, "//") {
			continue
		}
		res.Comments = append(res.Comments, c)
	}

	for _, loc := range importRe.FindAllStringIndex(text, -1) {
		if insideAny(res.Comments, loc[0]) {
			continue
		}
		res.Imports = append(res.Imports, strings.TrimSpace(text[loc[0]:loc[1]]))
	}

	for _, b := range scanRules(text, res.Comments) {
		if isCommented(b, res.Comments) {
			res.Commented = append(res.Commented, b)
			continue
		}
		res.Rules = append(res.Rules, b)
	}

	return res
}

// ExtractFile reads path once, decodes it with the first matching encoding
// and extracts it. An undecodable file returns ErrUndecodable.
func ExtractFile(path string, encodings []string) (*Result, string, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // G304: paths come from the input file list
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	text, enc, err := Decode(raw, encodings)
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", path, err)
	}
	res := Extract(text)
	res.Encoding = enc
	return res, text, nil
}

func isCommented(b Block, comments []Span) bool {
	for _, c := range comments {
		if c.contains(b.Start) || strings.Contains(c.Text, b.Text) {
			return true
		}
	}
	return false
}

func insideAny(spans []Span, offset int) bool {
	for _, s := range spans {
		if s.contains(offset) {
			return true
		}
	}
	return false
}
