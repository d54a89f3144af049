package interp

import (
	"strings"
)

// ParseList splits a Tcl list into its elements, honoring braces,
// quotes and backslash escapes.
func ParseList(s string) ([]string, error) {
	var elems []string
	i := 0
	for {
		for i < len(s) && isListSpace(s[i]) {
			i++
		}
		if i >= len(s) {
			return elems, nil
		}
		switch s[i] {
		case '{':
			depth := 1
			i++
			start := i
			for i < len(s) && depth > 0 {
				switch s[i] {
				case '\\':
					i++
				case '{':
					depth++
				case '}':
					depth--
				}
				i++
			}
			if depth > 0 {
				return nil, &ParseError{Line: 1, Message: "unmatched open brace in list"}
			}
			elems = append(elems, s[start:i-1])
		case '"':
			i++
			var sb strings.Builder
			for i < len(s) && s[i] != '"' {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				sb.WriteByte(s[i])
				i++
			}
			if i >= len(s) {
				return nil, &ParseError{Line: 1, Message: "unmatched open quote in list"}
			}
			i++
			elems = append(elems, sb.String())
		default:
			var sb strings.Builder
			for i < len(s) && !isListSpace(s[i]) {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				sb.WriteByte(s[i])
				i++
			}
			elems = append(elems, sb.String())
		}
	}
}

// FormatList joins elements into a Tcl list, quoting elements that
// contain whitespace or list metacharacters.
func FormatList(elems []string) string {
	quoted := make([]string, len(elems))
	for i, e := range elems {
		quoted[i] = quoteListElement(e)
	}
	return strings.Join(quoted, " ")
}

func quoteListElement(e string) string {
	if e == "" {
		return "{}"
	}
	if !strings.ContainsAny(e, " \t\r\n{}[]$\"\\;") {
		return e
	}
	if bracesBalanced(e) {
		return "{" + e + "}"
	}
	var sb strings.Builder
	for i := 0; i < len(e); i++ {
		switch e[i] {
		case ' ', '\t', '{', '}', '[', ']', '$', '"', '\\', ';':
			sb.WriteByte('\\')
		}
		sb.WriteByte(e[i])
	}
	return sb.String()
}

func bracesBalanced(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

func isListSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
