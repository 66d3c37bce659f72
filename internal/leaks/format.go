package leaks

import (
	"fmt"
	"strings"
	"unicode"
)

// FormatWaves renders per-wave unit lists the way existing match_data rows store
// them, as a Python list literal: [['U001:4.5|0', 'U002:6|1'], [], ['Crab']].
func FormatWaves(waves [][]string) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, wave := range waves {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('[')
		for j, unit := range wave {
			if j > 0 {
				b.WriteString(", ")
			}
			writeQuoted(&b, unit)
		}
		b.WriteByte(']')
	}
	b.WriteByte(']')
	return b.String()
}

// writeQuoted follows Python's repr for str: single quotes unless the value holds a
// single quote and no double quote. The chosen quote and backslashes are escaped,
// tab, newline and carriage return get their short forms, and any other
// non-printable rune is written as \xhh, \uhhhh or \Uhhhhhhhh.
func writeQuoted(b *strings.Builder, s string) {
	quote := '\''
	if strings.IndexByte(s, '\'') >= 0 && strings.IndexByte(s, '"') < 0 {
		quote = '"'
	}
	b.WriteRune(quote)
	for _, r := range s {
		switch {
		case r == quote || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case unicode.IsPrint(r):
			b.WriteRune(r)
		case r < 0x100:
			fmt.Fprintf(b, `\x%02x`, r)
		case r < 0x10000:
			fmt.Fprintf(b, `\u%04x`, r)
		default:
			fmt.Fprintf(b, `\U%08x`, r)
		}
	}
	b.WriteRune(quote)
}
