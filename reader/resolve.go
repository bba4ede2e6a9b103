package reader

import (
	"fmt"
)

// maxResolveDepth bounds chains of references to references.
const maxResolveDepth = 32

// ResolveReference returns the object ref points at. Missing and free
// objects resolve to Null.
func (d *Document) ResolveReference(ref Reference) (Object, error) {
	return d.resolve(ref)
}

// Resolve follows obj while it is a Reference. Direct objects are returned
// unchanged.
func (d *Document) Resolve(obj Object) (Object, error) {
	for range maxResolveDepth {
		ref, ok := obj.(Reference)
		if !ok {
			return obj, nil
		}
		var err error
		if obj, err = d.resolve(ref); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("reader: reference chain longer than %d", maxResolveDepth)
}

// resolveIfRef is Resolve with a missing entry (nil) read as Null.
func (d *Document) resolveIfRef(obj Object) (Object, error) {
	if obj == nil {
		return Null{}, nil
	}
	return d.Resolve(obj)
}

func (d *Document) resolve(ref Reference) (Object, error) {
	entry, ok := d.xref[ref.Number]
	switch {
	case !ok || !entry.InUse:
		return Null{}, nil
	case entry.Compressed:
		return d.resolveCompressed(ref.Number, entry)
	}
	obj, err := d.parseAt(ref.Number, entry)
	if err != nil {
		return nil, err
	}
	return obj.Value, nil
}

// parseAt parses the uncompressed object num at its xref offset, decrypting
// its strings and stream data when the file is encrypted.
func (d *Document) parseAt(num int, entry xrefEntry) (*IndirectObject, error) {
	if entry.Offset < 0 || entry.Offset >= int64(len(d.data)) {
		return nil, fmt.Errorf("reader: object %d offset %d out of bounds", num, entry.Offset)
	}
	p := newParser(d.data[entry.Offset:])
	p.length = d.streamLength
	// Strings are decrypted in byte order while parsing, since some
	// writers run one RC4 state across all strings of an object.
	if d.sec != nil {
		p.cipher = d.sec.objectCipher(num, entry.Generation)
	}
	obj, err := p.indirectObject()
	if err != nil {
		return nil, fmt.Errorf("reader: object %d: %w", num, err)
	}
	if obj.Number != num {
		return nil, fmt.Errorf("reader: xref points object %d at object %d", num, obj.Number)
	}
	return obj, nil
}

// streamLength resolves an indirect /Length stored as a plain object.
func (d *Document) streamLength(ref Reference) (int, bool) {
	entry, ok := d.xref[ref.Number]
	if !ok || !entry.InUse {
		return 0, false
	}
	// Decoding an object stream from here could re-enter objectStream while
	// it holds d.mu. The parser falls back to scanning for endstream.
	if entry.Compressed || entry.Offset < 0 || entry.Offset >= int64(len(d.data)) {
		return 0, false
	}
	ind, err := newParser(d.data[entry.Offset:]).indirectObject()
	if err != nil {
		return 0, false
	}
	n, ok := ind.Value.(Integer)
	return int(n), ok && n >= 0
}

// objectStream is a decoded /Type /ObjStm stream. Object i starts at
// first + offsets[i].
type objectStream struct {
	data    []byte
	first   int
	nums    []int
	offsets []int
}

func (d *Document) resolveCompressed(num int, entry xrefEntry) (Object, error) {
	stm, err := d.objectStream(entry.StreamNum)
	if err != nil {
		return nil, fmt.Errorf("reader: object %d: %w", num, err)
	}
	i := entry.Index
	if i < 0 || i >= len(stm.nums) || stm.nums[i] != num {
		return nil, fmt.Errorf("reader: object %d not found in object stream %d", num, entry.StreamNum)
	}
	start := stm.first + stm.offsets[i]
	if start < 0 || start >= len(stm.data) {
		return nil, fmt.Errorf("reader: object %d lies outside object stream %d", num, entry.StreamNum)
	}
	obj, err := newParser(stm.data[start:]).object()
	if err != nil {
		return nil, fmt.Errorf("reader: compressed object %d: %w", num, err)
	}
	return obj, nil
}

// objectStream returns object stream num, decoding it on first use.
func (d *Document) objectStream(num int) (*objectStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if stm, ok := d.objStms[num]; ok {
		return stm, nil
	}

	entry, ok := d.xref[num]
	if !ok || !entry.InUse || entry.Compressed {
		return nil, fmt.Errorf("object stream %d not found", num)
	}
	obj, err := d.parseAt(num, entry)
	if err != nil {
		return nil, err
	}
	s, ok := obj.Value.(Stream)
	if !ok || s.Dict.GetName("Type") != "ObjStm" {
		return nil, fmt.Errorf("object %d is not an object stream", num)
	}
	data, err := decodeStream(s)
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", num, err)
	}

	n, _ := s.Dict.GetInt("N")
	first, _ := s.Dict.GetInt("First")
	if first < 0 || first > int64(len(data)) || n < 0 {
		return nil, fmt.Errorf("object stream %d has /First %d, /N %d", num, first, n)
	}
	stm := &objectStream{data: data, first: int(first)}
	hp := newParser(data[:first])
	for range n {
		objNum, off, err := hp.ints2()
		if err != nil {
			return nil, fmt.Errorf("object stream %d header: %w", num, err)
		}
		stm.nums = append(stm.nums, objNum)
		stm.offsets = append(stm.offsets, off)
	}

	if d.objStms == nil {
		d.objStms = make(map[int]*objectStream)
	}
	d.objStms[num] = stm
	return stm, nil
}
