package extract

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleNames(blocks []Block) []string {
	names := make([]string, 0, len(blocks))
	for _, b := range blocks {
		names = append(names, b.Name())
	}
	return names
}

func TestExtract_Rules(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantRules []string
		wantLast  string // expected suffix of the last rule text
	}{
		{
			name:      "single line rule",
			input:     "rule Foo { condition: true }",
			wantRules: []string{"Foo"},
			wantLast:  "condition: true }",
		},
		{
			name: "private rule with tags and brace in string",
			input: `private rule Bar : tag1 tag2 {
    strings:
        $a = "}"
    condition:
        $a
}`,
			wantRules: []string{"Bar"},
			wantLast:  "$a\n}",
		},
		{
			name: "hex string braces",
			input: `rule Hex {
    strings:
        $h = { 4D 5A [2-4] 90 }
    condition:
        $h at 0
}`,
			wantRules: []string{"Hex"},
			wantLast:  "$h at 0\n}",
		},
		{
			name: "regex with escaped brace",
			input: `rule Re {
    strings:
        $r = /a{2}\}/ nocase
    condition:
        $r
}`,
			wantRules: []string{"Re"},
			wantLast:  "$r\n}",
		},
		{
			name: "regex after matches holds a close brace",
			input: `rule R {
    strings:
        $a = "x"
    condition:
        $a and pe.pdb_path matches /a}b/
}
rule S { condition: true }`,
			wantRules: []string{"R", "S"},
			wantLast:  "rule S { condition: true }",
		},
		{
			name:      "escaped open brace after matches",
			input:     "rule T { condition: pe.pdb_path matches /\\{x/ }\nrule U { condition: true }",
			wantRules: []string{"T", "U"},
			wantLast:  "rule U { condition: true }",
		},
		{
			name: "brace inside body comment",
			input: `rule C {
    // } is not a close
    condition: true
}`,
			wantRules: []string{"C"},
			wantLast:  "true\n}",
		},
		{
			name:      "missing condition is dropped",
			input:     `rule Nope { strings: $a = "condition: x" }`,
			wantRules: nil,
		},
		{
			name:      "keyword must be a whole word",
			input:     "myrule Foo { condition: true }",
			wantRules: nil,
		},
		{
			name:      "unbalanced body is dropped",
			input:     "rule Open { condition: true\nrule Next { condition: false }",
			wantRules: []string{"Next"},
			wantLast:  "condition: false }",
		},
		{
			name:      "several rules keep file order",
			input:     "rule B { condition: true }\n\nglobal rule A { condition: false }\nrule C : t { condition: true }",
			wantRules: []string{"B", "A", "C"},
			wantLast:  "rule C : t { condition: true }",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Extract(tt.input)
			if tt.wantRules == nil {
				assert.Empty(t, res.Rules)
				return
			}
			require.Equal(t, tt.wantRules, ruleNames(res.Rules))
			assert.Contains(t, res.Rules[len(res.Rules)-1].Text, tt.wantLast)
		})
	}
}

func TestExtract_ModifiersKeptInText(t *testing.T) {
	res := Extract("import \"pe\"\n\nprivate rule Helper { condition: true }\n")

	require.Len(t, res.Rules, 1)
	assert.Equal(t, "private rule Helper { condition: true }", res.Rules[0].Text)
	assert.Equal(t, "private rule Helper", res.Rules[0].Header)
}

func TestExtract_Imports(t *testing.T) {
	input := `import "pe"
import "math"
// import "cuckoo"
/*
import "dotnet"
*/
rule A {
    condition: pe.is_pe
}`
	res := Extract(input)

	assert.Equal(t, []string{`import "pe"`, `import "math"`}, res.Imports)
	assert.Equal(t, []string{"A"}, ruleNames(res.Rules))
}

func TestExtract_BlockCommentedRule(t *testing.T) {
	input := "/*\nrule Old { condition: true }\n*/\nrule New { condition: true }\n"
	res := Extract(input)

	assert.Equal(t, []string{"New"}, ruleNames(res.Rules))
	assert.Equal(t, []string{"Old"}, ruleNames(res.Commented))
	assert.Equal(t, []string{"/*\nrule Old { condition: true }\n*/"}, res.CommentedText(input))
}

func TestExtract_LineCommentedRule(t *testing.T) {
	input := "// rule Old {\n//   condition: true\n// }\nrule New { condition: true }\n"
	res := Extract(input)

	assert.Equal(t, []string{"New"}, ruleNames(res.Rules))
	assert.Equal(t, []string{"Old"}, ruleNames(res.Commented))
	assert.Equal(t, []string{"// rule Old {\n//   condition: true\n// }"}, res.CommentedText(input))
}

func TestExtract_MatchesRegexKeepsWholeRule(t *testing.T) {
	input := "rule R {\n    condition: pe.pdb_path matches /a}b/\n}\n"
	res := Extract(input)

	require.Len(t, res.Rules, 1)
	assert.Equal(t, strings.TrimSpace(input), res.Rules[0].Text)
}

func TestExtract_CommentedCopyOfLiveRule(t *testing.T) {
	input := "rule A { condition: true }\n\nrule B { condition: false }\n\n/* old copy:\nrule A { condition: true }\n*/\n"
	res := Extract(input)

	assert.Equal(t, []string{"B"}, ruleNames(res.Rules))
	texts := res.CommentedText(input)
	assert.Equal(t, []string{"/* old copy:\nrule A { condition: true }\n*/"}, texts)
	for _, text := range texts {
		assert.NotContains(t, text, "rule B")
	}
}

func TestExtract_LineCommentsStartLines(t *testing.T) {
	input := "rule A { condition: true } // trailing note\n   // indented note\n"
	res := Extract(input)

	require.Len(t, res.Comments, 1)
	assert.Equal(t, "// indented note", res.Comments[0].Text)
	assert.Equal(t, []string{"A"}, ruleNames(res.Rules))
}

func TestExtract_OnlyCommentedRule(t *testing.T) {
	input := "/* rule Gone { condition: true } */\n"
	res := Extract(input)

	assert.Empty(t, res.Rules)
	assert.Len(t, res.Commented, 1)
	assert.Len(t, res.Comments, 1)
	assert.False(t, res.Empty())
}

func TestExtract_CommentOpenerInString(t *testing.T) {
	input := `rule Url {
    strings:
        $u = "http://example.com/*"
    condition:
        $u
}
rule After { condition: true }`
	res := Extract(input)

	assert.Empty(t, res.Comments)
	assert.Equal(t, []string{"Url", "After"}, ruleNames(res.Rules))
}

func TestExtract_Empty(t *testing.T) {
	res := Extract("nothing to see here\n")
	assert.True(t, res.Empty())
	assert.Nil(t, res.CommentedText("nothing to see here\n"))
}

func TestRuleName(t *testing.T) {
	tests := []struct {
		block string
		want  string
	}{
		{"rule Foo { condition: true }", "Foo"},
		{"private rule Foo : tag1 tag2 { condition: true }", "Foo"},
		{"global private rule X{ condition: true }", "X"},
		{"rule Foo\n{\n    condition: true\n}", "Foo"},
		{"  rule Spaced   {condition: a}", "Spaced"},
		{`rule Colon { strings: $a = "x:y" condition: $a }`, "Colon"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, RuleName(tt.block))
		})
	}
}

func TestDecode(t *testing.T) {
	t.Run("utf-8 first", func(t *testing.T) {
		text, enc, err := Decode([]byte("rule é { condition: true }"), nil)
		require.NoError(t, err)
		assert.Equal(t, "utf-8", enc)
		assert.Contains(t, text, "é")
	})

	t.Run("falls back to cp1252", func(t *testing.T) {
		// 0xE9 is é in cp1252 and an invalid utf-8 lead byte on its own.
		text, enc, err := Decode([]byte("rule A { condition: true } // caf\xe9"), nil)
		require.NoError(t, err)
		assert.Equal(t, "cp1252", enc)
		assert.Contains(t, text, "café")
	})

	t.Run("no encoding matches", func(t *testing.T) {
		_, _, err := Decode([]byte("caf\xe9"), []string{"utf-8", "ascii"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUndecodable))
	})

	t.Run("unknown encoding is a failure", func(t *testing.T) {
		_, _, err := Decode([]byte("plain"), []string{"ebcdic"})
		assert.ErrorIs(t, err, ErrUndecodable)
	})
}

func TestKnownEncoding(t *testing.T) {
	for _, name := range DefaultEncodings {
		assert.True(t, KnownEncoding(name), name)
	}
	assert.True(t, KnownEncoding("UTF8"))
	assert.False(t, KnownEncoding("ebcdic"))
}

func TestExtractFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yar")
	require.NoError(t, os.WriteFile(good, []byte("import \"pe\"\nrule Foo { condition: true }\n"), 0o600))

	res, text, err := ExtractFile(good, nil)
	require.NoError(t, err)
	assert.Equal(t, "utf-8", res.Encoding)
	assert.Contains(t, text, "rule Foo")
	assert.Equal(t, []string{"Foo"}, ruleNames(res.Rules))

	bad := filepath.Join(dir, "bad.yar")
	require.NoError(t, os.WriteFile(bad, []byte("rule \xff { condition: true }"), 0o600))

	_, _, err = ExtractFile(bad, []string{"utf-8", "ascii"})
	assert.ErrorIs(t, err, ErrUndecodable)

	_, _, err = ExtractFile(filepath.Join(dir, "missing.yar"), nil)
	assert.Error(t, err)
}
