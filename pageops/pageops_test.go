package pageops_test

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codeberg.org/go-pdf/fpdf"

	"github.com/lvillar/pdfmark"
	"github.com/lvillar/pdfmark/compose"
	"github.com/lvillar/pdfmark/overlay"
	"github.com/lvillar/pdfmark/pageops"
	"github.com/lvillar/pdfmark/reader"
)

// createTestPDF generates a simple test PDF file with the given number of pages.
func createTestPDF(t *testing.T, filename string, numPages int) {
	t.Helper()
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 14)
	for i := 1; i <= numPages; i++ {
		pdf.AddPage()
		pdf.Text(20, 30, fmt.Sprintf("Page %d of %d", i, numPages))
	}
	if err := pdf.OutputFileAndClose(filename); err != nil {
		t.Fatalf("creating test PDF: %v", err)
	}
}

func createWatermark(t *testing.T, text string) *overlay.Page {
	t.Helper()
	ov, err := pageops.CreateWatermark(pdfmark.DefaultSpec(text))
	if err != nil {
		t.Fatalf("creating watermark: %v", err)
	}
	return ov
}

func TestApplyWatermark(t *testing.T) {
	dir := t.TempDir()
	inputFile := filepath.Join(dir, "input.pdf")
	outputFile := filepath.Join(dir, "watermarked.pdf")
	createTestPDF(t, inputFile, 2)

	res, err := pageops.Apply(inputFile, outputFile, createWatermark(t, "CONFIDENTIAL"), pageops.WithVerify(true))
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if res.Pages != 2 {
		t.Errorf("Result.Pages = %d, want 2", res.Pages)
	}
	info, err := os.Stat(outputFile)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != res.Bytes {
		t.Errorf("Result.Bytes = %d, file has %d", res.Bytes, info.Size())
	}

	doc, err := reader.Open(outputFile)
	if err != nil {
		t.Fatalf("reading watermarked PDF: %v", err)
	}
	if doc.NumPages() != 2 {
		t.Fatalf("expected 2 pages, got %d", doc.NumPages())
	}
	for n, page := range doc.Pages() {
		text, err := page.ExtractText()
		if err != nil {
			t.Fatalf("page %d: %v", n, err)
		}
		for _, want := range []string{fmt.Sprintf("Page %d of 2", n), "CONFIDENTIAL"} {
			if !strings.Contains(text, want) {
				t.Errorf("page %d text %q does not contain %q", n, text, want)
			}
		}
	}
	if doc.Metadata()["Producer"] == "" {
		t.Error("output has no producer")
	}
}

func TestApplyWatermarkTo(t *testing.T) {
	dir := t.TempDir()
	inputFile := filepath.Join(dir, "input.pdf")
	createTestPDF(t, inputFile, 3)

	var buf bytes.Buffer
	if err := pageops.ApplyWatermarkTo(&buf, inputFile, createWatermark(t, "DRAFT")); err != nil {
		t.Fatalf("watermark: %v", err)
	}
	doc, err := reader.ReadFrom(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("reading PDF: %v", err)
	}
	if doc.NumPages() != 3 {
		t.Errorf("expected 3 pages, got %d", doc.NumPages())
	}
}

func TestApplyWatermarkReusesOverlay(t *testing.T) {
	dir := t.TempDir()
	ov := createWatermark(t, "COPY")
	sum := ov.Sum()
	for i := 1; i <= 3; i++ {
		in := filepath.Join(dir, fmt.Sprintf("in%d.pdf", i))
		createTestPDF(t, in, i)
		if err := pageops.ApplyWatermark(in, filepath.Join(dir, fmt.Sprintf("out%d.pdf", i)), ov); err != nil {
			t.Fatalf("document %d: %v", i, err)
		}
	}
	if ov.Sum() != sum {
		t.Error("overlay changed after use")
	}
}

func TestApplyWatermarkScaled(t *testing.T) {
	dir := t.TempDir()
	inputFile := filepath.Join(dir, "landscape.pdf")
	outputFile := filepath.Join(dir, "out.pdf")
	pdf := fpdf.New("L", "pt", "A3", "")
	pdf.SetFont("Helvetica", "", 14)
	pdf.AddPage()
	pdf.Text(40, 40, "wide")
	if err := pdf.OutputFileAndClose(inputFile); err != nil {
		t.Fatal(err)
	}

	err := pageops.ApplyWatermark(inputFile, outputFile, createWatermark(t, "SCALED"),
		pageops.WithFit(compose.FitScale))
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	doc, err := reader.Open(outputFile)
	if err != nil {
		t.Fatal(err)
	}
	page, _ := doc.Page(1)
	if page.MediaBox.Width() <= page.MediaBox.Height() {
		t.Errorf("page is no longer landscape: %+v", page.MediaBox)
	}
	content, err := page.ContentStream()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), " cm\n/Wm0 Do") {
		t.Errorf("scaled overlay has no placement matrix:\n%s", content)
	}
}

func TestApplyWatermarkMissingInput(t *testing.T) {
	dir := t.TempDir()
	outputFile := filepath.Join(dir, "out.pdf")
	err := pageops.ApplyWatermark(filepath.Join(dir, "nonexistent.pdf"), outputFile, createWatermark(t, "X"))
	if !errors.Is(err, pdfmark.ErrIO) || !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error = %v, want ErrIO wrapping fs.ErrNotExist", err)
	}
	if _, err := os.Stat(outputFile); !os.IsNotExist(err) {
		t.Error("output file was created")
	}
}

func TestApplyWatermarkCorruptInput(t *testing.T) {
	dir := t.TempDir()
	inputFile := filepath.Join(dir, "corrupt.pdf")
	outputFile := filepath.Join(dir, "out.pdf")
	if err := os.WriteFile(inputFile, []byte("%PDF-1.4\nthis is not a pdf body\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(outputFile, []byte("previous"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := pageops.ApplyWatermark(inputFile, outputFile, createWatermark(t, "X"))
	if !errors.Is(err, pdfmark.ErrCorruptDocument) {
		t.Fatalf("error = %v, want ErrCorruptDocument", err)
	}
	var pe *pdfmark.Error
	if !errors.As(err, &pe) || pe.Path != inputFile {
		t.Errorf("error %v does not name %s", err, inputFile)
	}
	if data, _ := os.ReadFile(outputFile); string(data) != "previous" {
		t.Errorf("existing output was modified: %q", data)
	}
}

func TestApplyWatermarkNilOverlay(t *testing.T) {
	var buf bytes.Buffer
	if err := pageops.ApplyWatermarkTo(&buf, "any.pdf", nil); !errors.Is(err, pdfmark.ErrInvalidSpec) {
		t.Errorf("error = %v, want ErrInvalidSpec", err)
	}
}

func TestCreateWatermarkInvalid(t *testing.T) {
	spec := pdfmark.DefaultSpec("X")
	spec.Opacity = 1.5
	if _, err := pageops.CreateWatermark(spec); !errors.Is(err, pdfmark.ErrInvalidSpec) {
		t.Errorf("error = %v, want ErrInvalidSpec", err)
	}
}

func TestApplyWatermarkFlattened(t *testing.T) {
	dir := t.TempDir()
	inputFile := filepath.Join(dir, "input.pdf")
	outputFile := filepath.Join(dir, "flattened.pdf")
	createTestPDF(t, inputFile, 3)

	if err := pageops.ApplyWatermarkFlattened(inputFile, outputFile, createWatermark(t, "CONFIDENTIAL"),
		pageops.WithVerify(true)); err != nil {
		t.Fatalf("flattened watermark: %v", err)
	}

	src, err := reader.Open(inputFile)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := reader.Open(outputFile)
	if err != nil {
		t.Fatalf("reading flattened PDF: %v", err)
	}
	if doc.NumPages() != 3 {
		t.Fatalf("expected 3 pages, got %d", doc.NumPages())
	}
	want, _ := src.Page(1)
	got, _ := doc.Page(1)
	if diff := got.MediaBox.Width() - want.MediaBox.Width(); diff > 0.01 || diff < -0.01 {
		t.Errorf("page width = %v, want %v", got.MediaBox.Width(), want.MediaBox.Width())
	}
}

func TestApplyFlattenedCorruptInput(t *testing.T) {
	dir := t.TempDir()
	inputFile := filepath.Join(dir, "corrupt.pdf")
	if err := os.WriteFile(inputFile, []byte("not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := pageops.ApplyWatermarkFlattened(inputFile, filepath.Join(dir, "out.pdf"), createWatermark(t, "X"))
	if !errors.Is(err, pdfmark.ErrCorruptDocument) {
		t.Errorf("error = %v, want ErrCorruptDocument", err)
	}
}

func TestStageOverlay(t *testing.T) {
	dir := t.TempDir()
	ov := createWatermark(t, "STAGED")
	path, cleanup, err := pageops.StageOverlay(ov, dir)
	if err != nil {
		t.Fatalf("staging: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, ov.Bytes()) {
		t.Error("staged file differs from overlay bytes")
	}
	cleanup()
	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("staged overlay still present: %v", err)
	}
}
