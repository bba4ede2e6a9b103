// Package pageops provides the single-document watermark operations: building
// an overlay from a Spec and applying it to an existing PDF file.
//
// ApplyWatermark grafts the overlay onto the original object graph (see
// package compose), keeping every page's content, resources and annotations.
// ApplyWatermarkFlattened instead re-renders each page as an imported template
// with the gofpdi contrib package and paints the overlay over it.
package pageops

import (
	"fmt"
	"io"
	"os"

	"github.com/lvillar/pdfmark"
	"github.com/lvillar/pdfmark/compose"
	"github.com/lvillar/pdfmark/overlay"
	"github.com/lvillar/pdfmark/reader"
	"github.com/lvillar/pdfmark/writer"
)

// Result describes a written document.
type Result struct {
	Pages int   // pages in the output
	Bytes int64 // bytes written to the destination
}

type options struct {
	fit      compose.Fit
	producer string
	verify   bool
}

// Option configures the apply operations.
type Option func(*options)

// WithFit sets how the overlay is placed on pages whose size differs from the
// overlay canvas. Flattened output always scales the overlay to the page.
func WithFit(f compose.Fit) Option {
	return func(o *options) { o.fit = f }
}

// WithProducer sets the /Producer recorded when the input has none.
func WithProducer(p string) Option {
	return func(o *options) { o.producer = p }
}

// WithVerify reopens the output with an independent parser before it
// replaces the destination, and fails unless the page count matches.
func WithVerify(verify bool) Option {
	return func(o *options) { o.verify = verify }
}

func newOptions(opts []Option) options {
	o := options{producer: "pdfmark"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// CreateWatermark builds the overlay page for spec. It fails with
// ErrInvalidSpec or ErrFontLoad.
func CreateWatermark(spec pdfmark.Spec, opts ...overlay.Option) (*overlay.Page, error) {
	return overlay.NewBuilder(opts...).Build(spec)
}

// ApplyWatermark writes to outputPath a copy of the PDF at inputPath with ov
// painted over every page. The destination is replaced atomically; on error
// it is left as it was.
func ApplyWatermark(inputPath, outputPath string, ov *overlay.Page, opts ...Option) error {
	_, err := Apply(inputPath, outputPath, ov, opts...)
	return err
}

// Apply is ApplyWatermark reporting the pages and bytes written.
func Apply(inputPath, outputPath string, ov *overlay.Page, opts ...Option) (Result, error) {
	o := newOptions(opts)
	composed, err := composeFile(inputPath, ov, o)
	if err != nil {
		return Result{}, err
	}
	var wopts []writer.Option
	if o.verify {
		wopts = append(wopts, writer.WithVerify(composed.NumPages()))
	}
	n, err := writer.Commit(outputPath, composed, wopts...)
	if err != nil {
		return Result{}, err
	}
	return Result{Pages: composed.NumPages(), Bytes: n}, nil
}

// ApplyWatermarkTo writes the watermarked document to w.
func ApplyWatermarkTo(w io.Writer, inputPath string, ov *overlay.Page, opts ...Option) error {
	composed, err := composeFile(inputPath, ov, newOptions(opts))
	if err != nil {
		return err
	}
	if _, err := composed.WriteTo(w); err != nil {
		return pdfmark.NewError(pdfmark.ErrIO, "write", "", err)
	}
	return nil
}

func composeFile(inputPath string, ov *overlay.Page, o options) (*compose.Document, error) {
	if ov == nil {
		return nil, pdfmark.Errorf(pdfmark.ErrInvalidSpec, "apply", inputPath, "no overlay")
	}
	doc, err := openDocument(inputPath)
	if err != nil {
		return nil, err
	}
	composed, err := compose.Compose(doc, ov, compose.WithFit(o.fit), compose.WithProducer(o.producer))
	if err != nil {
		return nil, pdfmark.WithPath(err, inputPath)
	}
	return composed, nil
}

// openDocument reads and parses the PDF at path. Read failures are ErrIO,
// parse failures ErrCorruptDocument.
func openDocument(path string) (*reader.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pdfmark.NewError(pdfmark.ErrIO, "read", path, err)
	}
	doc, err := reader.Parse(data)
	if err != nil {
		return nil, pdfmark.NewError(pdfmark.ErrCorruptDocument, "read", path, err)
	}
	if doc.NumPages() == 0 {
		return nil, pdfmark.NewError(pdfmark.ErrCorruptDocument, "read", path, fmt.Errorf("document has no pages"))
	}
	return doc, nil
}
