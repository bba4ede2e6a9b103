package reader

import (
	"bytes"
	"iter"
)

// Op is one operator of a content stream with the operands before it.
type Op struct {
	Operator string
	Operands []Object
}

// ContentOps returns the operators of a decoded content stream in order.
//
// Malformed tokens are skipped together with any operands collected before
// them, so a damaged stream yields what can still be read. Inline images are
// reported as a single "BI" operator whose operand is a Stream holding the
// image dictionary and data.
func ContentOps(data []byte) iter.Seq[Op] {
	return func(yield func(Op) bool) {
		p := newParser(data)
		p.content = true
		var operands []Object
		for {
			p.skipSpace()
			if p.eof() {
				return
			}
			start := p.pos
			c := p.data[p.pos]

			if isRegular(c) && !startsNumber(c) {
				kw := p.token()
				switch kw {
				case "true", "false":
					operands = append(operands, Boolean(kw == "true"))
					continue
				case "null":
					operands = append(operands, Null{})
					continue
				case "BI":
					operands = []Object{p.inlineImage()}
				}
				if !yield(Op{Operator: kw, Operands: operands}) {
					return
				}
				operands = nil
				continue
			}

			obj, err := p.object()
			if err != nil {
				p.pos = max(p.pos, start+1)
				operands = nil
				continue
			}
			operands = append(operands, obj)
		}
	}
}

// inlineImage reads the key/value pairs after BI up to ID, then the image
// data up to the EI operator.
func (p *parser) inlineImage() Stream {
	dict := Dict{}
	for {
		p.skipSpace()
		if p.eof() {
			return Stream{Dict: dict}
		}
		if p.data[p.pos] != '/' {
			tok := p.token()
			if tok == "ID" {
				break
			}
			if tok == "" {
				p.pos++
			}
			continue
		}
		key := p.name()
		val, err := p.object()
		if err != nil {
			continue
		}
		dict[key] = val
	}

	p.pos++ // single whitespace after ID
	start := min(p.pos, len(p.data))
	for i := start; i+1 < len(p.data); i++ {
		if p.data[i] != 'E' || p.data[i+1] != 'I' {
			continue
		}
		if i > start && !isSpace(p.data[i-1]) {
			continue
		}
		if i+2 < len(p.data) && isRegular(p.data[i+2]) {
			continue
		}
		p.pos = i + 2
		return Stream{Dict: dict, Data: bytes.TrimRight(p.data[start:i], "\x00\t\n\f\r ")}
	}
	p.pos = len(p.data)
	return Stream{Dict: dict, Data: p.data[start:]}
}
