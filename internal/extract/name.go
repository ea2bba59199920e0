package extract

import "strings"

// RuleName returns the identifier of a rule block: modifiers and the rule
// keyword are dropped, then the header is cut at the first '{' or, when the
// rule carries tags, at the first ':'.
func RuleName(block string) string {
	header := strings.TrimSpace(block)
	if i := strings.IndexByte(header, '{'); i >= 0 {
		header = header[:i]
	}
	if i := strings.IndexByte(header, ':'); i >= 0 {
		header = header[:i]
	}

	fields := strings.Fields(header)
	for len(fields) > 0 && isModifier(fields[0]) {
		fields = fields[1:]
	}
	if len(fields) > 0 && fields[0] == ruleKeyword {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

func isModifier(word string) bool {
	for _, m := range ruleModifiers {
		if word == m {
			return true
		}
	}
	return false
}
