// Package writer serializes PDF object graphs and commits them to disk
// atomically.
//
// A Document is a numbered object table built by the caller (usually the
// compositor) from reader object values. WriteTo emits it with a classic
// cross-reference table; Commit materializes any io.WriterTo in memory and
// replaces the destination file only once every byte has been produced.
package writer

import (
	"bufio"
	"crypto/md5"
	"fmt"
	"io"
	"strconv"

	"github.com/lvillar/pdfmark/reader"
)

// Document is a PDF object table under construction.
// It is not safe for concurrent use.
type Document struct {
	Version string // header version, e.g. "1.7"

	objects []reader.Object // object n lives at index n-1; nil means reserved
	root    reader.Reference
	info    reader.Reference
}

// New returns an empty document with the given header version.
// An empty version means "1.4".
func New(version string) *Document {
	if version == "" {
		version = "1.4"
	}
	return &Document{Version: version}
}

// Add stores obj as a new indirect object and returns its reference.
func (d *Document) Add(obj reader.Object) reader.Reference {
	d.objects = append(d.objects, obj)
	return reader.Reference{Number: len(d.objects)}
}

// Reserve allocates an object number whose value is supplied later with Set.
// Reserved numbers let cyclic structures (page <-> parent) be built in one pass.
func (d *Document) Reserve() reader.Reference {
	d.objects = append(d.objects, nil)
	return reader.Reference{Number: len(d.objects)}
}

// Set stores the value of a reserved or existing object.
func (d *Document) Set(ref reader.Reference, obj reader.Object) {
	if ref.Number < 1 || ref.Number > len(d.objects) {
		panic(fmt.Sprintf("writer: Set of unknown object %d", ref.Number))
	}
	d.objects[ref.Number-1] = obj
}

// Object returns the value of an object, or nil if it is unknown or unset.
func (d *Document) Object(ref reader.Reference) reader.Object {
	if ref.Number < 1 || ref.Number > len(d.objects) {
		return nil
	}
	return d.objects[ref.Number-1]
}

// Len returns the number of allocated objects.
func (d *Document) Len() int { return len(d.objects) }

// SetRoot sets the catalog reference written to the trailer.
func (d *Document) SetRoot(ref reader.Reference) { d.root = ref }

// SetInfo sets the document information dictionary written to the trailer.
func (d *Document) SetInfo(ref reader.Reference) { d.info = ref }

// Root returns the catalog reference.
func (d *Document) Root() reader.Reference { return d.root }

// WriteTo serializes the document. The output is a pure function of the
// object table: the trailer /ID is derived from the body bytes.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	if d.root.Number == 0 {
		return 0, fmt.Errorf("writer: document has no root")
	}
	for i, obj := range d.objects {
		if obj == nil {
			return 0, fmt.Errorf("writer: object %d reserved but never set", i+1)
		}
	}

	cw := newCountWriter(w)
	hash := md5.New()
	bw := bufio.NewWriter(io.MultiWriter(cw, hash))
	enc := &encoder{w: bw}

	enc.raw("%PDF-" + d.Version + "\n%\xe2\xe3\xcf\xd3\n")

	offsets := make([]int64, len(d.objects))
	for i, obj := range d.objects {
		if err := bw.Flush(); err != nil {
			return cw.BytesWritten(), err
		}
		offsets[i] = cw.BytesWritten()
		enc.raw(strconv.Itoa(i+1) + " 0 obj\n")
		enc.object(obj)
		enc.raw("\nendobj\n")
		if enc.err != nil {
			return cw.BytesWritten(), enc.err
		}
	}
	if err := bw.Flush(); err != nil {
		return cw.BytesWritten(), err
	}
	xrefOffset := cw.BytesWritten()
	id := hash.Sum(nil)

	// The trailer is not part of the digest.
	bw = bufio.NewWriter(cw)
	enc = &encoder{w: bw}
	enc.raw(fmt.Sprintf("xref\n0 %d\n0000000000 65535 f \n", len(d.objects)+1))
	for _, off := range offsets {
		enc.raw(fmt.Sprintf("%010d 00000 n \n", off))
	}

	trailer := reader.Dict{
		"Size": reader.Integer(len(d.objects) + 1),
		"Root": d.root,
		"ID":   reader.Array{reader.String{Value: id, IsHex: true}, reader.String{Value: id, IsHex: true}},
	}
	if d.info.Number != 0 {
		trailer["Info"] = d.info
	}
	enc.raw("trailer\n")
	enc.object(trailer)
	enc.raw(fmt.Sprintf("\nstartxref\n%d\n%%%%EOF\n", xrefOffset))
	if enc.err != nil {
		return cw.BytesWritten(), enc.err
	}
	if err := bw.Flush(); err != nil {
		return cw.BytesWritten(), err
	}
	return cw.BytesWritten(), nil
}
