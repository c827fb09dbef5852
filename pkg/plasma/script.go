package plasma

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// NullToken is what the shell prints for a panel with no hiding mode.
const NullToken = "null"

// Value is a hiding mode as it appears on the right of an assignment.
type Value struct {
	null bool
	s    string
}

// Null is the script's null literal.
func Null() Value { return Value{null: true} }

// String is a quoted script string.
func String(s string) Value { return Value{s: s} }

// ModeValue converts a token read back from the shell into the Value that
// writes it again. NullToken becomes Null; everything else is a string.
func ModeValue(token string) Value {
	if token == NullToken {
		return Null()
	}
	return String(token)
}

func (v Value) IsNull() bool { return v.null }

// Literal renders v as script source.
func (v Value) Literal() string {
	if v.null {
		return "null"
	}
	return quote(v.s)
}

// CountScript prints the number of panels.
func CountScript() string {
	return "print(panels().length)"
}

// ReadHidingScript prints the hiding mode of panel index.
func ReadHidingScript(index int) (string, error) {
	if index < 0 {
		return "", fmt.Errorf("panel index %d out of range", index)
	}
	return fmt.Sprintf("print(panels()[%d].hiding)", index), nil
}

// WriteHidingScript assigns v to the hiding mode of panel index.
func WriteHidingScript(index int, v Value) (string, error) {
	if index < 0 {
		return "", fmt.Errorf("panel index %d out of range", index)
	}
	return fmt.Sprintf("panels()[%d].hiding = %s", index, v.Literal()), nil
}

// quote renders s as a single-quoted string literal that cannot terminate
// early or span lines. Bytes that are not valid UTF-8 are written as \xNN so
// distinct tokens stay distinct.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			fmt.Fprintf(&b, `\x%02x`, s[i])
			i++
			continue
		}
		i += size
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\u2028', '\u2029':
			fmt.Fprintf(&b, `\u%04x`, r)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\x%02x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}
