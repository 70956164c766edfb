package astm

import (
	"strconv"
	"strings"
)

// Escape sequences, delimited by the escape character
const (
	escapeField     = 'F'
	escapeComponent = 'S'
	escapeRepeat    = 'R'
	escapeEscape    = 'E'
	escapeHex       = 'X'
)

const reserved = `|^\&`

// Escape replaces every reserved delimiter in s with its escape sequence:
// | as &F&, ^ as &S&, \ as &R& and & as &E&. It fails when s contains a
// carriage return or line feed.
func Escape(s string) (string, error) {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return "", &EscapingError{Text: s, Offset: i}
	}
	if !strings.ContainsAny(s, reserved) {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		var code byte
		switch c {
		case FieldDelimiter:
			code = escapeField
		case ComponentDelimiter:
			code = escapeComponent
		case RepeatDelimiter:
			code = escapeRepeat
		case EscapeDelimiter:
			code = escapeEscape
		default:
			b.WriteByte(c)
			continue
		}
		b.WriteByte(EscapeDelimiter)
		b.WriteByte(code)
		b.WriteByte(EscapeDelimiter)
	}
	return b.String(), nil
}

// Unescape reverses Escape. Hexadecimal sequences (&Xhhhh&) are decoded as
// well; any other escape character is kept as it is.
func Unescape(s string) string {
	if strings.IndexByte(s, EscapeDelimiter) < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != EscapeDelimiter || i+2 >= len(s) {
			b.WriteByte(c)
			continue
		}

		if s[i+2] == EscapeDelimiter {
			var r byte
			switch s[i+1] {
			case escapeField:
				r = FieldDelimiter
			case escapeComponent:
				r = ComponentDelimiter
			case escapeRepeat:
				r = RepeatDelimiter
			case escapeEscape:
				r = EscapeDelimiter
			}
			if r != 0 {
				b.WriteByte(r)
				i += 2
				continue
			}
		}

		if s[i+1] == escapeHex {
			if decoded, n, ok := unescapeHex(s[i+2:]); ok {
				b.WriteString(decoded)
				i += 1 + n
				continue
			}
		}

		b.WriteByte(c)
	}
	return b.String()
}

// unescapeHex decodes pairs of hex digits up to the closing escape character.
// n counts the consumed bytes including the terminator.
func unescapeHex(s string) (decoded string, n int, ok bool) {
	end := strings.IndexByte(s, EscapeDelimiter)
	if end <= 0 || end%2 != 0 {
		return "", 0, false
	}
	out := make([]byte, 0, end/2)
	for j := 0; j < end; j += 2 {
		v, err := strconv.ParseUint(s[j:j+2], 16, 8)
		if err != nil {
			return "", 0, false
		}
		out = append(out, byte(v))
	}
	return string(out), end + 1, true
}
