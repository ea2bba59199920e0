package extract

import "strings"

// The block scanner recognises a rule header and follows brace depth to the
// matching close. A block without a condition section is not a rule.

const (
	ruleKeyword      = "rule"
	conditionKeyword = "condition"
	matchesKeyword   = "matches"
)

var ruleModifiers = []string{"private", "global"}

// Block is one rule definition, header keyword through matching closing brace.
type Block struct {
	// Header is everything before the opening brace, modifiers included.
	Header string
	// Text is the full block text.
	Text string
	// Start and End are byte offsets of Text in the decoded file.
	Start, End int
}

// Name returns the rule name parsed from the block header.
func (b Block) Name() string {
	return RuleName(b.Text)
}

// Span is a byte range of a comment in the decoded file.
type Span struct {
	Text       string
	Start, End int
}

func (s Span) contains(offset int) bool {
	return offset >= s.Start && offset < s.End
}

// scanComments returns every block comment in input and every line comment
// that starts a line, leading whitespace allowed. Double-quoted strings are
// skipped so a comment opener inside a string is not treated as a comment.
func scanComments(input string) []Span {
	var spans []Span
	for i := 0; i < len(input); i++ {
		switch input[i] {
		case '\\':
			i++
		case '"':
			i = skipString(input, i)
		case '/':
			if i+1 >= len(input) {
				continue
			}
			switch input[i+1] {
			case '*':
				end := strings.Index(input[i+2:], "*/")
				if end < 0 {
					// Unterminated comments are left to the rule scanner.
					continue
				}
				end += i + 4
				spans = append(spans, Span{Text: input[i:end], Start: i, End: end})
				i = end - 1
			case '/':
				if !atLineStart(input, i) {
					continue
				}
				end := lineEnd(input, i)
				spans = append(spans, Span{Text: input[i:end], Start: i, End: end})
				i = end - 1
			}
		}
	}
	return spans
}

// scanRules finds candidate rule blocks in input. Blocks whose header starts
// inside one of comments are scanned without comment skipping so that a
// commented-out rule is still recognised as a block.
func scanRules(input string, comments []Span) []Block {
	var blocks []Block
	from := 0
	for from < len(input) {
		kw := indexKeyword(input, ruleKeyword, from)
		if kw < 0 {
			break
		}
		inComment := false
		for _, c := range comments {
			if c.contains(kw) {
				inComment = true
				break
			}
		}
		block, ok := parseRuleAt(input, kw, !inComment)
		if !ok {
			from = kw + len(ruleKeyword)
			continue
		}
		blocks = append(blocks, block)
		from = block.End
	}
	return blocks
}

// parseRuleAt parses a rule whose keyword starts at kw.
func parseRuleAt(input string, kw int, skipComments bool) (Block, bool) {
	start := modifierStart(input, kw)

	p := skipSpace(input, kw+len(ruleKeyword))
	nameStart := p
	for p < len(input) && isIdentByte(input[p]) {
		p++
	}
	if p == nameStart {
		return Block{}, false
	}

	p = skipSpace(input, p)
	if p < len(input) && input[p] == ':' {
		p = skipSpace(input, p+1)
		for p < len(input) && input[p] != '{' {
			if !isIdentByte(input[p]) && !isSpace(input[p]) {
				return Block{}, false
			}
			p++
		}
	}
	if p >= len(input) || input[p] != '{' {
		return Block{}, false
	}

	closing, sawCondition := matchBrace(input, p, skipComments)
	if closing < 0 || !sawCondition {
		return Block{}, false
	}

	return Block{
		Header: strings.TrimSpace(input[start:p]),
		Text:   input[start : closing+1],
		Start:  start,
		End:    closing + 1,
	}, true
}

// matchBrace returns the offset of the brace closing the one at open and
// whether a condition section was seen at the top level of the body.
func matchBrace(input string, open int, skipComments bool) (int, bool) {
	depth := 0
	sawCondition := false
	lastSignificant := byte(0)

	for i := open; i < len(input); i++ {
		ch := input[i]
		switch {
		case ch == '"':
			i = skipString(input, i)
		case ch == '/' && skipComments && i+1 < len(input) && input[i+1] == '/':
			i = lineEnd(input, i) - 1
			continue
		case ch == '/' && skipComments && i+1 < len(input) && input[i+1] == '*':
			end := strings.Index(input[i+2:], "*/")
			if end < 0 {
				return -1, false
			}
			i += end + 3
			continue
		case ch == '/' && (lastSignificant == '=' || followsKeyword(input, matchesKeyword, i)):
			i = skipRegex(input, i)
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return i, sawCondition
			}
		case depth == 1 && !sawCondition && hasKeywordAt(input, conditionKeyword, i):
			sawCondition = true
		}
		if !isSpace(ch) {
			lastSignificant = ch
		}
	}
	return -1, false
}

// modifierStart walks back from the rule keyword over private/global modifiers.
func modifierStart(input string, kw int) int {
	start := kw
	for {
		j := start
		for j > 0 && isSpace(input[j-1]) {
			j--
		}
		matched := false
		for _, mod := range ruleModifiers {
			ms := j - len(mod)
			if ms < 0 || input[ms:j] != mod {
				continue
			}
			if ms > 0 && isIdentByte(input[ms-1]) {
				continue
			}
			start = ms
			matched = true
			break
		}
		if !matched {
			return start
		}
	}
}

// indexKeyword finds word at or after from, bounded by non-identifier bytes
// on the left and whitespace on the right.
func indexKeyword(input, word string, from int) int {
	for from < len(input) {
		idx := strings.Index(input[from:], word)
		if idx < 0 {
			return -1
		}
		idx += from
		end := idx + len(word)
		if (idx == 0 || !isIdentByte(input[idx-1])) && end < len(input) && isSpace(input[end]) {
			return idx
		}
		from = end
	}
	return -1
}

// followsKeyword reports whether word, as a whole word, is the last token
// before offset i.
func followsKeyword(input, word string, i int) bool {
	j := i
	for j > 0 && isSpace(input[j-1]) {
		j--
	}
	start := j - len(word)
	if start < 0 || input[start:j] != word {
		return false
	}
	return start == 0 || !isIdentByte(input[start-1])
}

func hasKeywordAt(input, word string, i int) bool {
	if !strings.HasPrefix(input[i:], word) {
		return false
	}
	if i > 0 && isIdentByte(input[i-1]) {
		return false
	}
	end := i + len(word)
	return end >= len(input) || !isIdentByte(input[end])
}

// skipString returns the offset of the quote closing the string opened at i.
// Strings never span lines.
func skipString(input string, i int) int {
	for j := i + 1; j < len(input); j++ {
		switch input[j] {
		case '\\':
			j++
		case '"', '\n':
			return j
		}
	}
	return len(input) - 1
}

// skipRegex returns the offset of the slash closing the regex opened at i.
func skipRegex(input string, i int) int {
	for j := i + 1; j < len(input); j++ {
		switch input[j] {
		case '\\':
			j++
		case '/', '\n':
			return j
		}
	}
	return len(input) - 1
}

// atLineStart reports whether only spaces or tabs precede offset i on its line.
func atLineStart(input string, i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch input[j] {
		case '\n':
			return true
		case ' ', '\t':
			continue
		default:
			return false
		}
	}
	return true
}

func lineEnd(input string, i int) int {
	if n := strings.IndexByte(input[i:], '\n'); n >= 0 {
		return i + n
	}
	return len(input)
}

func skipSpace(input string, i int) int {
	for i < len(input) && isSpace(input[i]) {
		i++
	}
	return i
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f' || ch == '\v'
}

func isIdentByte(ch byte) bool {
	return ch == '_' || ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ('0' <= ch && ch <= '9')
}
