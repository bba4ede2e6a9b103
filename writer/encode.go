package writer

import (
	"bufio"
	"math"
	"slices"
	"strconv"

	"github.com/lvillar/pdfmark/reader"
)

// encoder writes PDF object syntax. The first write error sticks.
type encoder struct {
	w   *bufio.Writer
	err error
}

func (e *encoder) raw(s string) {
	if e.err == nil {
		_, e.err = e.w.WriteString(s)
	}
}

func (e *encoder) bytes(b []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(b)
	}
}

func (e *encoder) object(obj reader.Object) {
	switch v := obj.(type) {
	case nil, reader.Null:
		e.raw("null")
	case reader.Boolean:
		e.raw(v.String())
	case reader.Integer:
		e.raw(strconv.FormatInt(int64(v), 10))
	case reader.Real:
		e.raw(formatReal(float64(v)))
	case reader.Name:
		e.raw(EncodeName(v))
	case reader.String:
		e.str(v)
	case reader.Reference:
		e.raw(v.String())
	case reader.Array:
		e.raw("[")
		for i, item := range v {
			if i > 0 {
				e.raw(" ")
			}
			e.object(item)
		}
		e.raw("]")
	case reader.Dict:
		e.dict(v)
	case reader.Stream:
		d := v.Dict.Clone()
		d["Length"] = reader.Integer(len(v.Data))
		e.dict(d)
		e.raw("\nstream\n")
		e.bytes(v.Data)
		e.raw("\nendstream")
	case reader.IndirectObject:
		e.object(v.Value)
	default:
		e.raw("null")
	}
}

// dict writes a dictionary with its keys in sorted order.
func (e *encoder) dict(d reader.Dict) {
	keys := make([]reader.Name, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	e.raw("<<")
	for _, k := range keys {
		e.raw(EncodeName(k))
		e.raw(" ")
		e.object(d[k])
	}
	e.raw(">>")
}

// str writes a string as a literal when it is printable, as hex otherwise.
func (e *encoder) str(s reader.String) {
	if s.IsHex || !printable(s.Value) {
		const digits = "0123456789ABCDEF"
		buf := make([]byte, 0, 2*len(s.Value)+2)
		buf = append(buf, '<')
		for _, b := range s.Value {
			buf = append(buf, digits[b>>4], digits[b&0x0f])
		}
		buf = append(buf, '>')
		e.bytes(buf)
		return
	}
	buf := make([]byte, 0, len(s.Value)+2)
	buf = append(buf, '(')
	for _, b := range s.Value {
		switch b {
		case '(', ')', '\\':
			buf = append(buf, '\\', b)
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\n':
			buf = append(buf, '\\', 'n')
		default:
			buf = append(buf, b)
		}
	}
	buf = append(buf, ')')
	e.bytes(buf)
}

func printable(b []byte) bool {
	for _, c := range b {
		if (c < 0x20 || c > 0x7e) && c != '\r' && c != '\n' && c != '\t' {
			return false
		}
	}
	return true
}

// EncodeName returns the PDF syntax of a name, escaping delimiters,
// whitespace and non-ASCII bytes as #xx.
func EncodeName(n reader.Name) string {
	const digits = "0123456789ABCDEF"
	buf := make([]byte, 0, len(n)+1)
	buf = append(buf, '/')
	for i := 0; i < len(n); i++ {
		c := n[i]
		switch {
		case c < 0x21 || c > 0x7e || c == '#' ||
			c == '(' || c == ')' || c == '<' || c == '>' ||
			c == '[' || c == ']' || c == '{' || c == '}' ||
			c == '/' || c == '%':
			buf = append(buf, '#', digits[c>>4], digits[c&0x0f])
		default:
			buf = append(buf, c)
		}
	}
	return string(buf)
}

// formatReal formats a real without exponent, trimmed to 6 decimals.
func formatReal(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	s := strconv.FormatFloat(f, 'f', 6, 64)
	for len(s) > 1 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	if s == "-0" {
		s = "0"
	}
	return s
}
