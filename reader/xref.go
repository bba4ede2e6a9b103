package reader

import (
	"bytes"
	"fmt"
	"strconv"
)

// xrefEntry locates one object: at a byte offset, or as the Index-th object
// of object stream StreamNum when Compressed is set.
type xrefEntry struct {
	Offset     int64
	Generation int
	InUse      bool

	Compressed bool
	StreamNum  int
	Index      int
}

// xrefTable maps object numbers to their locations.
type xrefTable map[int]xrefEntry

// merge adds the entries of older that t does not define yet.
func (t xrefTable) merge(older xrefTable) {
	for num, e := range older {
		if _, ok := t[num]; !ok {
			t[num] = e
		}
	}
}

// tailWindow is how far from the end of the file startxref is searched for.
const tailWindow = 1024

// findStartXRef returns the offset named by the last startxref keyword.
func findStartXRef(data []byte) (int64, error) {
	tail := data[max(len(data)-tailWindow, 0):]
	idx := bytes.LastIndex(tail, []byte("startxref"))
	if idx < 0 {
		return 0, fmt.Errorf("reader: startxref not found")
	}
	tok := newParser(tail[idx+len("startxref"):]).token()
	off, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("reader: startxref offset %q: %w", tok, err)
	}
	return off, nil
}

// loadXRef reads the cross-reference section at offset and every older
// section reachable through /Prev. The returned trailer is the newest one.
func loadXRef(data []byte, offset int64) (xrefTable, Dict, error) {
	table := make(xrefTable)
	var trailer Dict
	seen := make(map[int64]bool)

	for next := offset; ; {
		if seen[next] {
			return nil, nil, fmt.Errorf("reader: xref /Prev loop at offset %d", next)
		}
		seen[next] = true

		section, dict, err := readXRefSection(data, next)
		if err != nil {
			if trailer != nil {
				err = fmt.Errorf("reader: previous xref: %w", err)
			}
			return nil, nil, err
		}
		table.merge(section)
		if trailer == nil {
			trailer = dict
		}

		// Hybrid files keep the compressed entries in a separate stream.
		if stm, ok := dict.GetInt("XRefStm"); ok && !seen[stm] {
			seen[stm] = true
			if hybrid, _, err := readXRefStream(data, stm); err == nil {
				table.merge(hybrid)
			}
		}

		prev, ok := dict.GetInt("Prev")
		if !ok {
			return table, trailer, nil
		}
		next = prev
	}
}

// readXRefSection reads a classic table or, failing that, a cross-reference
// stream at offset.
func readXRefSection(data []byte, offset int64) (xrefTable, Dict, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, nil, fmt.Errorf("reader: xref offset %d out of bounds", offset)
	}
	p := newParser(data[offset:])
	if p.token() != "xref" {
		return readXRefStream(data, offset)
	}

	table := make(xrefTable)
	for {
		p.skipSpace()
		if p.eof() {
			return nil, nil, fmt.Errorf("reader: xref table without trailer")
		}
		if p.hasKeyword("trailer") {
			break
		}
		first, count, err := p.ints2()
		if err != nil {
			return nil, nil, fmt.Errorf("reader: xref subsection header: %w", err)
		}
		for i := range count {
			off, gen, err := p.ints2()
			if err != nil {
				return nil, nil, fmt.Errorf("reader: xref entry %d: %w", first+i, err)
			}
			kind := p.token()
			if _, ok := table[first+i]; !ok {
				table[first+i] = xrefEntry{Offset: int64(off), Generation: gen, InUse: kind == "n"}
			}
		}
	}

	obj, err := p.object()
	if err != nil {
		return nil, nil, fmt.Errorf("reader: trailer: %w", err)
	}
	trailer, ok := obj.(Dict)
	if !ok {
		return nil, nil, fmt.Errorf("reader: trailer is %T, not a dictionary", obj)
	}
	return table, trailer, nil
}

// ints2 reads two integer tokens.
func (p *parser) ints2() (int, int, error) {
	var v [2]int
	for i := range v {
		tok := p.token()
		n, err := strconv.Atoi(tok)
		if err != nil {
			return 0, 0, fmt.Errorf("expected integer, got %q", tok)
		}
		v[i] = n
	}
	return v[0], v[1], nil
}

// readXRefStream reads a cross-reference stream (PDF 1.5).
func readXRefStream(data []byte, offset int64) (xrefTable, Dict, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, nil, fmt.Errorf("reader: xref stream offset %d out of bounds", offset)
	}
	obj, err := newParser(data[offset:]).indirectObject()
	if err != nil {
		return nil, nil, fmt.Errorf("reader: xref stream: %w", err)
	}
	stream, ok := obj.Value.(Stream)
	if !ok || stream.Dict.GetName("Type") != "XRef" {
		return nil, nil, fmt.Errorf("reader: no xref table or stream at offset %d", offset)
	}
	raw, err := decodeStream(stream)
	if err != nil {
		return nil, nil, fmt.Errorf("reader: xref stream: %w", err)
	}

	var w [3]int
	wArr := stream.Dict.GetArray("W")
	if len(wArr) != 3 {
		return nil, nil, fmt.Errorf("reader: xref stream /W has %d fields, want 3", len(wArr))
	}
	for i, v := range wArr {
		n, ok := v.(Integer)
		if !ok || n < 0 || n > 8 {
			return nil, nil, fmt.Errorf("reader: xref stream field width %v", v)
		}
		w[i] = int(n)
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return nil, nil, fmt.Errorf("reader: xref stream has zero-width entries")
	}

	// /Index defaults to [0 Size].
	var index []int
	for _, v := range stream.Dict.GetArray("Index") {
		if n, ok := v.(Integer); ok {
			index = append(index, int(n))
		}
	}
	if index == nil {
		size, _ := stream.Dict.GetInt("Size")
		index = []int{0, int(size)}
	}

	table := make(xrefTable)
	for i := 0; i+1 < len(index); i += 2 {
		first, count := index[i], index[i+1]
		for j := 0; j < count && len(raw) >= rowLen; j++ {
			row := raw[:rowLen]
			raw = raw[rowLen:]
			kind := field(row[:w[0]], 1) // type defaults to 1 when absent
			f2 := field(row[w[0]:w[0]+w[1]], 0)
			f3 := field(row[w[0]+w[1]:], 0)
			switch kind {
			case 0:
				table[first+j] = xrefEntry{Generation: int(f3)}
			case 1:
				table[first+j] = xrefEntry{Offset: f2, Generation: int(f3), InUse: true}
			case 2:
				table[first+j] = xrefEntry{InUse: true, Compressed: true, StreamNum: int(f2), Index: int(f3)}
			}
		}
	}
	return table, stream.Dict, nil
}

// field decodes a big-endian xref stream field; empty fields take def.
func field(b []byte, def int64) int64 {
	if len(b) == 0 {
		return def
	}
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}
