package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// ErrUndecodable is returned when none of the configured encodings can decode a file.
var ErrUndecodable = errors.New("no encoding matched")

// DefaultEncodings is the order in which encodings are tried when a file is read.
var DefaultEncodings = []string{"utf-8", "cp1252", "windows-1250", "windows-1252", "ascii"}

var replacementChar = []byte(string(utf8.RuneError))

// codePages maps single-byte encoding names to their charmap.
var codePages = map[string]encoding.Encoding{
	"cp1252":       charmap.Windows1252,
	"windows-1252": charmap.Windows1252,
	"cp1250":       charmap.Windows1250,
	"windows-1250": charmap.Windows1250,
	"latin-1":      charmap.ISO8859_1,
	"iso-8859-1":   charmap.ISO8859_1,
}

// KnownEncoding reports whether name is an encoding Decode understands.
func KnownEncoding(name string) bool {
	switch normalizeEncoding(name) {
	case "utf-8", "ascii":
		return true
	}
	_, ok := codePages[normalizeEncoding(name)]
	return ok
}

func normalizeEncoding(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "utf8":
		return "utf-8"
	case "us-ascii":
		return "ascii"
	}
	return name
}

// Decode tries each encoding in order and returns the text produced by the
// first one that decodes raw without error, together with the encoding name.
func Decode(raw []byte, encodings []string) (string, string, error) {
	if len(encodings) == 0 {
		encodings = DefaultEncodings
	}

	var errs []error
	for _, name := range encodings {
		text, err := decodeAs(raw, normalizeEncoding(name))
		if err == nil {
			return text, name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return "", "", fmt.Errorf("%w: %w", ErrUndecodable, errors.Join(errs...))
}

func decodeAs(raw []byte, name string) (string, error) {
	switch name {
	case "utf-8":
		if !utf8.Valid(raw) {
			return "", errors.New("invalid utf-8 sequence")
		}
		return string(raw), nil
	case "ascii":
		for i, b := range raw {
			if b > 0x7f {
				return "", fmt.Errorf("byte 0x%02x at offset %d is not ascii", b, i)
			}
		}
		return string(raw), nil
	}

	enc, ok := codePages[name]
	if !ok {
		return "", fmt.Errorf("unknown encoding %q", name)
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	// Undefined code points decode to U+FFFD.
	if bytes.Contains(out, replacementChar) && !bytes.Contains(raw, replacementChar) {
		return "", errors.New("byte outside code page")
	}
	return string(out), nil
}
