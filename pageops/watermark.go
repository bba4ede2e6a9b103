package pageops

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"codeberg.org/go-pdf/fpdf"
	"codeberg.org/go-pdf/fpdf/contrib/gofpdi"

	"github.com/lvillar/pdfmark"
	"github.com/lvillar/pdfmark/overlay"
	"github.com/lvillar/pdfmark/writer"
)

// StageOverlay writes ov to a new temporary file in dir (os.TempDir when
// empty), for the flattened operations which import pages by path. The
// returned cleanup removes the file; it may be called any number of times.
func StageOverlay(ov *overlay.Page, dir string) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp(dir, "pdfmark-overlay-*.pdf")
	if err != nil {
		return "", func() {}, pdfmark.NewError(pdfmark.ErrIO, "stage overlay", dir, err)
	}
	path = f.Name()
	var once sync.Once
	cleanup = func() { once.Do(func() { os.Remove(path) }) }

	if _, err := ov.WriteTo(f); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, pdfmark.NewError(pdfmark.ErrIO, "stage overlay", path, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, pdfmark.NewError(pdfmark.ErrIO, "stage overlay", path, err)
	}
	return path, cleanup, nil
}

// ApplyWatermarkFlattened writes to outputPath a re-rendered copy of the PDF
// at inputPath: each page is imported as a template and ov is painted over
// it, scaled uniformly to the page and centred. Page rotation is baked into
// the imported content. Interactive features such as annotations and
// outlines are not carried over.
func ApplyWatermarkFlattened(inputPath, outputPath string, ov *overlay.Page, opts ...Option) error {
	if ov == nil {
		return pdfmark.Errorf(pdfmark.ErrInvalidSpec, "apply flattened", inputPath, "no overlay")
	}
	path, cleanup, err := StageOverlay(ov, "")
	if err != nil {
		return err
	}
	defer cleanup()
	_, err = ApplyFlattenedFile(inputPath, outputPath, path, opts...)
	return err
}

// ApplyFlattenedFile is ApplyWatermarkFlattened for an overlay already
// stored at overlayPath, reporting the pages and bytes written.
func ApplyFlattenedFile(inputPath, outputPath, overlayPath string, opts ...Option) (Result, error) {
	o := newOptions(opts)
	pdf, pages, err := buildFlattened(inputPath, overlayPath, o)
	if err != nil {
		return Result{}, err
	}
	var wopts []writer.Option
	if o.verify {
		wopts = append(wopts, writer.WithVerify(pages))
	}
	n, err := writer.Commit(outputPath, fpdfSource{pdf}, wopts...)
	if err != nil {
		return Result{}, err
	}
	return Result{Pages: pages, Bytes: n}, nil
}

// buildFlattened imports every page of inputPath and draws the first page of
// overlayPath on top. gofpdi panics on documents it cannot parse; those
// panics are returned as ErrCorruptDocument.
func buildFlattened(inputPath, overlayPath string, o options) (pdf *fpdf.Fpdf, pages int, err error) {
	doc, err := openDocument(inputPath)
	if err != nil {
		return nil, 0, err
	}
	pages = doc.NumPages()

	defer func() {
		if r := recover(); r != nil {
			pdf = nil
			err = pdfmark.Errorf(pdfmark.ErrCorruptDocument, "apply flattened", inputPath, "importing pages: %v", r)
		}
	}()

	pdf = fpdf.New("P", "pt", "A4", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetProducer(o.producer, false)
	imp := gofpdi.NewImporter()

	ovTpl, ow, oh := importPage(pdf, imp, overlayPath, 1)
	if ow == 0 || oh == 0 {
		ow, oh = overlay.DefaultWidth, overlay.DefaultHeight
	}

	for i := 1; i <= pages; i++ {
		tplID, pw, ph := importPage(pdf, imp, inputPath, i)
		if pw == 0 || ph == 0 {
			page, _ := doc.Page(i)
			pw, ph = page.MediaBox.Width(), page.MediaBox.Height()
		}

		pdf.AddPageFormat("P", fpdf.SizeType{Wd: pw, Ht: ph})
		imp.UseImportedTemplate(pdf, tplID, 0, 0, pw, ph)

		s := min(pw/ow, ph/oh)
		imp.UseImportedTemplate(pdf, ovTpl, (pw-ow*s)/2, (ph-oh*s)/2, ow*s, oh*s)
	}

	if pdf.Err() {
		return nil, 0, pdfmark.NewError(pdfmark.ErrCorruptDocument, "apply flattened", inputPath, pdf.Error())
	}
	return pdf, pages, nil
}

// importPage imports a single page from a source file into the target PDF.
// Returns the template ID and page dimensions.
func importPage(pdf *fpdf.Fpdf, imp *gofpdi.Importer, sourceFile string, pageNum int) (tplID int, w, h float64) {
	tplID = imp.ImportPage(pdf, sourceFile, pageNum, "/MediaBox")
	sizes := imp.GetPageSizes()
	if dims, ok := sizes[pageNum]; ok {
		if mb, ok := dims["/MediaBox"]; ok {
			w = mb["w"]
			h = mb["h"]
		}
	}
	return
}

// fpdfSource adapts an fpdf document to io.WriterTo for writer.Commit.
type fpdfSource struct {
	pdf *fpdf.Fpdf
}

func (s fpdfSource) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	if err := s.pdf.Output(&buf); err != nil {
		return 0, fmt.Errorf("rendering: %w", err)
	}
	return buf.WriteTo(w)
}
