package decode

import (
	"bytes"
	"fmt"
)

var naToken = []byte("N/A")

// QuoteBareNA replaces every N/A that appears outside a string literal with
// "N/A". Occurrences inside string literals are left untouched.
func QuoteBareNA(data []byte) []byte {
	if !bytes.Contains(data, naToken) {
		return data
	}

	out := make([]byte, 0, len(data)+64)
	inString := false
	escaped := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}
		if c == 'N' && bytes.HasPrefix(data[i:], naToken) {
			out = append(out, `"N/A"`...)
			i += len(naToken) - 1
			continue
		}
		out = append(out, c)
	}
	return out
}

// escapeControlChars escapes raw control characters found inside string
// literals, which some exporters emit for non-ASCII or binary names.
func escapeControlChars(data []byte) []byte {
	out := make([]byte, 0, len(data))
	inString := false
	escaped := false
	for _, c := range data {
		if !inString {
			if c == '"' {
				inString = true
			}
			out = append(out, c)
			continue
		}
		switch {
		case escaped:
			escaped = false
			out = append(out, c)
		case c == '\\':
			escaped = true
			out = append(out, c)
		case c == '"':
			inString = false
			out = append(out, c)
		case c < 0x20:
			out = append(out, controlEscape(c)...)
		default:
			out = append(out, c)
		}
	}
	return out
}

func controlEscape(c byte) []byte {
	switch c {
	case '\n':
		return []byte(`\n`)
	case '\r':
		return []byte(`\r`)
	case '\t':
		return []byte(`\t`)
	}
	return []byte(fmt.Sprintf(`\u%04x`, c))
}
