package reader

import (
	"strings"
	"unicode/utf16"
)

// maxFormDepth bounds the nesting of form XObjects followed during text
// extraction.
const maxFormDepth = 8

// ExtractText returns the text shown on the page by the Tj, TJ, ' and "
// operators, in content order. Text painted by form XObjects, such as a
// stamped overlay, is included where the form is drawn.
//
// Strings are decoded as UTF-16BE when they carry a byte order mark and as
// Latin-1 otherwise; font encodings and ToUnicode maps are not applied.
func (p *Page) ExtractText() (string, error) {
	data, err := p.ContentStream()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	p.doc.writeText(&sb, data, p.Resources, 0)
	return strings.Join(strings.Fields(sb.String()), " "), nil
}

func (d *Document) writeText(sb *strings.Builder, data []byte, resources Dict, depth int) {
	for op := range ContentOps(data) {
		switch op.Operator {
		case "Tj", "'", `"`:
			if len(op.Operands) > 0 {
				writeString(sb, op.Operands[len(op.Operands)-1])
			}
		case "TJ":
			if len(op.Operands) > 0 {
				arr, _ := op.Operands[0].(Array)
				for _, el := range arr {
					writeString(sb, el)
				}
			}
		case "Td", "TD", "T*", "ET":
			sb.WriteByte(' ')
		case "Do":
			if depth < maxFormDepth && len(op.Operands) > 0 {
				name, _ := op.Operands[0].(Name)
				d.writeFormText(sb, name, resources, depth)
			}
		}
	}
}

// writeFormText writes the text of the form XObject registered under name.
func (d *Document) writeFormText(sb *strings.Builder, name Name, resources Dict, depth int) {
	xobjs, err := d.resolveIfRef(resources["XObject"])
	if err != nil {
		return
	}
	xdict, _ := xobjs.(Dict)
	obj, err := d.resolveIfRef(xdict[name])
	if err != nil {
		return
	}
	form, ok := obj.(Stream)
	if !ok || form.Dict.GetName("Subtype") != "Form" {
		return
	}
	content, err := decodeStream(form)
	if err != nil {
		return
	}
	res := resources
	if r, err := d.resolveIfRef(form.Dict["Resources"]); err == nil {
		if rd, ok := r.(Dict); ok {
			res = rd
		}
	}
	sb.WriteByte(' ')
	d.writeText(sb, content, res, depth+1)
	sb.WriteByte(' ')
}

func writeString(sb *strings.Builder, obj Object) {
	if s, ok := obj.(String); ok {
		sb.WriteString(decodePDFString(s.Value))
	}
}

// decodePDFString decodes a text string: UTF-16BE with a byte order mark,
// otherwise one rune per byte.
func decodePDFString(data []byte) string {
	if len(data) >= 2 && data[0] == 0xFE && data[1] == 0xFF {
		data = data[2:]
		u := make([]uint16, (len(data)+1)/2)
		for i := range u {
			hi := uint16(data[2*i]) << 8
			if 2*i+1 < len(data) {
				hi |= uint16(data[2*i+1])
			}
			u[i] = hi
		}
		return string(utf16.Decode(u))
	}
	r := make([]rune, len(data))
	for i, b := range data {
		r[i] = rune(b)
	}
	return string(r)
}
