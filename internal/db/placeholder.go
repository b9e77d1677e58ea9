package db

import (
	"strconv"
	"strings"
)

// PlaceholderStyle is the concrete positional-parameter syntax of a backend.
type PlaceholderStyle int

const (
	// PlaceholderQuestion keeps "?" markers (SQLite).
	PlaceholderQuestion PlaceholderStyle = iota
	// PlaceholderDollar numbers markers as $1, $2, ... (PostgreSQL).
	PlaceholderDollar
)

// Rebind rewrites the "?" markers of query into the given style.
// Markers inside single-quoted literals, double-quoted identifiers and
// line comments are left alone. In E'...' literals a backslash escapes the
// next byte, so \' does not end the literal.
func Rebind(style PlaceholderStyle, query string) string {
	if style == PlaceholderQuestion || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	var quote byte
	inComment, escapes := false, false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case inComment:
			if c == '\n' {
				inComment = false
			}
		case quote != 0:
			if escapes && c == '\\' && i+1 < len(query) {
				b.WriteByte(c)
				i++
				c = query[i]
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
			escapes = c == '\'' && isEscapePrefix(query, i)
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			inComment = true
		case c == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// isEscapePrefix reports whether the quote at i opens an E'...' literal.
func isEscapePrefix(query string, i int) bool {
	if i == 0 || (query[i-1] != 'E' && query[i-1] != 'e') {
		return false
	}
	if i == 1 {
		return true
	}
	p := query[i-2]
	return !(p == '_' || p >= '0' && p <= '9' || p >= 'a' && p <= 'z' || p >= 'A' && p <= 'Z')
}
