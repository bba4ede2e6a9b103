package reader

import (
	"bytes"
	"crypto/rc4"
	"fmt"
	"io"
	"strconv"
)

// Character classes of PDF lexical syntax (ISO 32000-1 7.2.2).
const (
	classRegular = iota
	classSpace
	classDelim
)

var charClass = func() (t [256]uint8) {
	for _, c := range []byte{0, '\t', '\n', '\f', '\r', ' '} {
		t[c] = classSpace
	}
	for _, c := range []byte("()<>[]{}/%") {
		t[c] = classDelim
	}
	return t
}()

func isSpace(b byte) bool   { return charClass[b] == classSpace }
func isDelim(b byte) bool   { return charClass[b] == classDelim }
func isRegular(b byte) bool { return charClass[b] == classRegular }

func startsNumber(b byte) bool {
	return b >= '0' && b <= '9' || b == '+' || b == '-' || b == '.'
}

// parser reads PDF objects from a byte slice. It is used both for the file
// body and, with content set, for page content streams, where bare keywords
// are operators and "N G R" is never a reference.
type parser struct {
	data    []byte
	pos     int
	content bool

	// cipher decrypts strings and stream data in the order they are read.
	cipher *rc4.Cipher
	// length resolves an indirect /Length value; nil disables it.
	length func(Reference) (int, bool)
}

func newParser(data []byte) *parser {
	return &parser{data: data}
}

func (p *parser) eof() bool { return p.pos >= len(p.data) }

// skipSpace advances past whitespace and comments.
func (p *parser) skipSpace() {
	for !p.eof() {
		switch c := p.data[p.pos]; {
		case isSpace(c):
			p.pos++
		case c == '%':
			for !p.eof() && p.data[p.pos] != '\n' && p.data[p.pos] != '\r' {
				p.pos++
			}
		default:
			return
		}
	}
}

// token returns the next run of regular characters.
func (p *parser) token() string {
	p.skipSpace()
	start := p.pos
	for !p.eof() && isRegular(p.data[p.pos]) {
		p.pos++
	}
	return string(p.data[start:p.pos])
}

// hasKeyword reports whether kw follows at the current position as a whole
// token, consuming it if so.
func (p *parser) hasKeyword(kw string) bool {
	end := p.pos + len(kw)
	if end > len(p.data) || string(p.data[p.pos:end]) != kw {
		return false
	}
	if end < len(p.data) && isRegular(p.data[end]) {
		return false
	}
	p.pos = end
	return true
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("reader: offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

// object parses the next direct object.
func (p *parser) object() (Object, error) {
	p.skipSpace()
	if p.eof() {
		return nil, io.ErrUnexpectedEOF
	}
	switch c := p.data[p.pos]; {
	case c == '<' && p.pos+1 < len(p.data) && p.data[p.pos+1] == '<':
		return p.dict()
	case c == '<':
		return p.hexString()
	case c == '(':
		return p.literalString()
	case c == '/':
		return p.name(), nil
	case c == '[':
		return p.array()
	case startsNumber(c):
		return p.number()
	case isRegular(c):
		start := p.pos
		switch kw := p.token(); kw {
		case "true", "false":
			return Boolean(kw == "true"), nil
		case "null":
			return Null{}, nil
		default:
			p.pos = start
			return nil, p.errorf("unexpected keyword %q", kw)
		}
	default:
		return nil, p.errorf("unexpected character %q", c)
	}
}

// name parses "/Name", decoding #xx escapes. The parser is positioned on
// the slash.
func (p *parser) name() Name {
	p.pos++
	var b []byte
	for !p.eof() && isRegular(p.data[p.pos]) {
		c := p.data[p.pos]
		if c == '#' && p.pos+2 < len(p.data) {
			if hi, lo := unhex(p.data[p.pos+1]), unhex(p.data[p.pos+2]); hi >= 0 && lo >= 0 {
				b = append(b, byte(hi<<4|lo))
				p.pos += 3
				continue
			}
		}
		b = append(b, c)
		p.pos++
	}
	return Name(b)
}

// number parses an integer or real, or in body syntax an "N G R" reference.
func (p *parser) number() (Object, error) {
	tok := p.token()
	n, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", tok)
		}
		return Real(f), nil
	}
	if !p.content && n >= 0 {
		if gen, ok := p.refTail(); ok {
			return Reference{Number: int(n), Generation: gen}, nil
		}
	}
	return Integer(n), nil
}

// refTail consumes "G R" after an object number if present.
func (p *parser) refTail() (int, bool) {
	save := p.pos
	p.skipSpace()
	if p.eof() || p.data[p.pos] < '0' || p.data[p.pos] > '9' {
		p.pos = save
		return 0, false
	}
	gen, err := strconv.Atoi(p.token())
	p.skipSpace()
	if err != nil || !p.hasKeyword("R") {
		p.pos = save
		return 0, false
	}
	return gen, true
}

// decrypt applies the object cipher to string or stream data in place.
func (p *parser) decrypt(b []byte) []byte {
	if p.cipher != nil {
		p.cipher.XORKeyStream(b, b)
	}
	return b
}

var literalEscapes = map[byte]byte{
	'n': '\n', 'r': '\r', 't': '\t', 'b': '\b', 'f': '\f',
	'(': '(', ')': ')', '\\': '\\',
}

// literalString parses "(text)" with balanced parentheses and escapes.
func (p *parser) literalString() (String, error) {
	p.pos++
	var b []byte
	for depth := 1; ; {
		if p.eof() {
			return String{}, p.errorf("unterminated literal string")
		}
		c := p.data[p.pos]
		p.pos++
		switch c {
		case '(':
			depth++
		case ')':
			if depth--; depth == 0 {
				return String{Value: p.decrypt(b)}, nil
			}
		case '\\':
			if p.eof() {
				continue
			}
			e := p.data[p.pos]
			p.pos++
			switch {
			case literalEscapes[e] != 0:
				c = literalEscapes[e]
			case e >= '0' && e <= '7':
				v := int(e - '0')
				for i := 0; i < 2 && !p.eof() && p.data[p.pos] >= '0' && p.data[p.pos] <= '7'; i++ {
					v = v<<3 | int(p.data[p.pos]-'0')
					p.pos++
				}
				c = byte(v)
			case e == '\r':
				// Line continuation, with an optional LF.
				if !p.eof() && p.data[p.pos] == '\n' {
					p.pos++
				}
				continue
			case e == '\n':
				continue
			default:
				c = e
			}
		}
		b = append(b, c)
	}
}

// hexString parses "<hex digits>". An odd final digit is padded with zero.
func (p *parser) hexString() (String, error) {
	p.pos++
	var b []byte
	hi := -1
	for !p.eof() {
		c := p.data[p.pos]
		p.pos++
		if c == '>' {
			if hi >= 0 {
				b = append(b, byte(hi<<4))
			}
			return String{Value: p.decrypt(b), IsHex: true}, nil
		}
		if isSpace(c) {
			continue
		}
		v := unhex(c)
		if v < 0 {
			return String{}, p.errorf("invalid hex digit %q", c)
		}
		if hi < 0 {
			hi = v
		} else {
			b = append(b, byte(hi<<4|v))
			hi = -1
		}
	}
	return String{}, p.errorf("unterminated hex string")
}

func (p *parser) array() (Array, error) {
	p.pos++
	arr := Array{}
	for {
		p.skipSpace()
		if p.eof() {
			return nil, p.errorf("unterminated array")
		}
		if p.data[p.pos] == ']' {
			p.pos++
			return arr, nil
		}
		obj, err := p.object()
		if err != nil {
			return nil, fmt.Errorf("in array: %w", err)
		}
		arr = append(arr, obj)
	}
}

func (p *parser) dict() (Dict, error) {
	p.pos += 2
	d := Dict{}
	for {
		p.skipSpace()
		if p.eof() {
			return nil, p.errorf("unterminated dictionary")
		}
		if p.hasPrefix(">>") {
			p.pos += 2
			return d, nil
		}
		if p.data[p.pos] != '/' {
			return nil, p.errorf("dictionary key is not a name")
		}
		key := p.name()
		val, err := p.object()
		if err != nil {
			return nil, fmt.Errorf("value of /%s: %w", key, err)
		}
		d[key] = val
	}
}

func (p *parser) hasPrefix(s string) bool {
	return bytes.HasPrefix(p.data[p.pos:], []byte(s))
}

// indirectObject parses "N G obj <object> [stream ... endstream] endobj".
func (p *parser) indirectObject() (*IndirectObject, error) {
	var ref Reference
	for _, dst := range []*int{&ref.Number, &ref.Generation} {
		tok := p.token()
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, p.errorf("expected object header, got %q", tok)
		}
		*dst = n
	}
	if kw := p.token(); kw != "obj" {
		return nil, p.errorf("expected obj, got %q", kw)
	}
	val, err := p.object()
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", ref, err)
	}

	p.skipSpace()
	if p.hasKeyword("stream") {
		dict, ok := val.(Dict)
		if !ok {
			return nil, fmt.Errorf("object %s: stream without dictionary", ref)
		}
		// The keyword is followed by CRLF or LF; a bare CR is tolerated.
		if !p.eof() && p.data[p.pos] == '\r' {
			p.pos++
		}
		if !p.eof() && p.data[p.pos] == '\n' {
			p.pos++
		}
		n := p.streamLength(dict)
		data := p.decrypt(bytes.Clone(p.data[p.pos : p.pos+n]))
		p.pos += n
		p.skipSpace()
		p.hasKeyword("endstream")
		val = Stream{Dict: dict, Data: data}
	}

	p.skipSpace()
	p.hasKeyword("endobj")
	return &IndirectObject{Reference: ref, Value: val}, nil
}

// streamLength returns the number of data bytes of the stream starting at
// p.pos. A missing, unresolvable or wrong /Length falls back to scanning for
// the endstream keyword.
func (p *parser) streamLength(dict Dict) int {
	n := -1
	switch v := dict["Length"].(type) {
	case Integer:
		n = int(v)
	case Reference:
		if p.length != nil {
			if l, ok := p.length(v); ok {
				n = l
			}
		}
	}
	rest := p.data[p.pos:]
	if n >= 0 && n <= len(rest) && bytes.HasPrefix(bytes.TrimLeft(rest[n:], "\x00\t\n\f\r "), []byte("endstream")) {
		return n
	}

	end := bytes.Index(rest, []byte("endstream"))
	if end < 0 {
		return len(rest)
	}
	// The EOL before endstream is not part of the data.
	end = len(bytes.TrimSuffix(bytes.TrimSuffix(rest[:end], []byte("\n")), []byte("\r")))
	return end
}

func unhex(b byte) int {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0')
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10
	case b >= 'A' && b <= 'F':
		return int(b-'A') + 10
	}
	return -1
}
