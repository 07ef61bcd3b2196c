// Package export writes the C headers consumed by the microcontroller
// firmware: scaler parameters, class labels, categorical lookup functions
// and the quantized model bytes.
package export

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// SanitizeASCII replaces every non-ASCII rune, and every byte that is not
// valid UTF-8, with '?'.
func SanitizeASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r >= utf8.RuneSelf {
			b.WriteByte('?')
		} else {
			b.WriteByte(byte(r))
		}
		i += size
	}
	return b.String()
}

// CString returns s as a quoted C string literal. The input is sanitized to
// ASCII first; quotes, backslashes and control characters are escaped.
func CString(s string) string {
	s = SanitizeASCII(s)
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '?' && ((i+1 < len(s) && s[i+1] == '?') || (i > 0 && s[i-1] == '?')):
			// no two adjacent '?' in the source, so no trigraphs
			b.WriteString(`\?`)
		case c < 0x20 || c == 0x7f:
			b.WriteString(`\`)
			b.WriteString(leftPad(strconv.FormatInt(int64(c), 8), 3))
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func leftPad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat("0", n-len(s)) + s
}

// CIdentifier maps a column name to a valid C identifier: every character
// outside [A-Za-z0-9_] becomes '_' and a leading digit gets a '_' prefix.
func CIdentifier(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	id := b.String()
	if id == "" || (id[0] >= '0' && id[0] <= '9') {
		id = "_" + id
	}
	return id
}

// FormatFloat renders v the way Python's repr does: the shortest string
// that round-trips, always with a decimal point or exponent.
func FormatFloat(v float64) string {
	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
