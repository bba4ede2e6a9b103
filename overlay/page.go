// Package overlay builds the watermark overlay: a single page holding the
// rotated, alpha-blended text, rendered once and shared by every composition.
package overlay

import (
	"bytes"
	"compress/zlib"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/lvillar/pdfmark"
	"github.com/lvillar/pdfmark/reader"
)

// Page is an immutable overlay page. It keeps the serialized single-page
// PDF it was read from, so resources can be copied into other documents.
// All methods are safe for concurrent use.
type Page struct {
	data     []byte
	doc      *reader.Document
	page     *reader.Page
	content  []byte // decoded content stream
	form     []byte // content stream, flate encoded
	mediaBox reader.Rectangle
	sum      [sha256.Size]byte

	spec     pdfmark.Spec
	fromSpec bool
}

// Load reads a prebuilt overlay PDF. Its first page becomes the overlay.
func Load(path string) (*Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pdfmark.NewError(pdfmark.ErrIO, "load overlay", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, pdfmark.WithPath(err, path)
	}
	return p, nil
}

// Parse reads an overlay from PDF bytes. The slice is retained and must not
// be modified afterwards.
func Parse(data []byte) (*Page, error) {
	fail := func(err error) (*Page, error) {
		return nil, pdfmark.NewError(pdfmark.ErrCorruptDocument, "load overlay", "", err)
	}
	doc, err := reader.Parse(data)
	if err != nil {
		return fail(err)
	}
	if doc.NumPages() == 0 {
		return fail(fmt.Errorf("overlay has no pages"))
	}
	page, _ := doc.Page(1)
	content, err := page.ContentStream()
	if err != nil {
		return fail(err)
	}

	var form bytes.Buffer
	zw := zlib.NewWriter(&form)
	if _, err := zw.Write(content); err != nil {
		return fail(err)
	}
	if err := zw.Close(); err != nil {
		return fail(err)
	}

	return &Page{
		data:     data,
		doc:      doc,
		page:     page,
		content:  content,
		form:     form.Bytes(),
		mediaBox: page.MediaBox.Normalize(),
		sum:      sha256.Sum256(data),
	}, nil
}

// Bytes returns a copy of the serialized overlay PDF.
func (p *Page) Bytes() []byte { return bytes.Clone(p.data) }

// WriteTo writes the serialized overlay PDF to w.
func (p *Page) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(p.data)
	return int64(n), err
}

// Content returns a copy of the decoded overlay content stream.
func (p *Page) Content() []byte { return bytes.Clone(p.content) }

// MediaBox returns the overlay canvas.
func (p *Page) MediaBox() reader.Rectangle { return p.mediaBox }

// Sum returns the SHA-256 digest of the serialized overlay.
func (p *Page) Sum() [sha256.Size]byte { return p.sum }

// Spec returns the spec the overlay was built from. ok is false for
// overlays loaded from a file.
func (p *Page) Spec() (spec pdfmark.Spec, ok bool) { return p.spec, p.fromSpec }

// Source returns the parsed overlay document and its page, for copying the
// overlay's resources. Both are read-only.
func (p *Page) Source() (*reader.Document, *reader.Page) { return p.doc, p.page }

// Form returns the overlay content as a Form XObject stream with its
// bounding box set. The caller adds /Resources.
func (p *Page) Form() reader.Stream {
	return reader.Stream{
		Dict: reader.Dict{
			"Type":     reader.Name("XObject"),
			"Subtype":  reader.Name("Form"),
			"BBox":     p.mediaBox.Array(),
			"FormType": reader.Integer(1),
			"Filter":   reader.Name("FlateDecode"),
		},
		Data: bytes.Clone(p.form),
	}
}
