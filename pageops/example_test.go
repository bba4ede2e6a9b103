package pageops_test

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"codeberg.org/go-pdf/fpdf"

	"github.com/lvillar/pdfmark"
	"github.com/lvillar/pdfmark/compose"
	"github.com/lvillar/pdfmark/pageops"
	"github.com/lvillar/pdfmark/reader"
)

// exampleInput writes a short report with one heading per page and returns
// its path inside a fresh temporary directory.
func exampleInput(pages int) (string, func()) {
	dir, err := os.MkdirTemp("", "pdfmark-example")
	if err != nil {
		log.Fatal(err)
	}
	path := filepath.Join(dir, "report.pdf")

	pdf := fpdf.New("P", "mm", "A4", "")
	for i := range pages {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "B", 20)
		pdf.Text(20, 40, fmt.Sprintf("Quarterly report, part %d", i+1))
	}
	if err := pdf.OutputFileAndClose(path); err != nil {
		log.Fatal(err)
	}
	return path, func() { os.RemoveAll(dir) }
}

// ExampleApplyWatermark stamps a red, rotated mark on every page.
func ExampleApplyWatermark() {
	input, cleanup := exampleInput(2)
	defer cleanup()

	spec := pdfmark.DefaultSpec("CONFIDENTIAL")
	spec.Color = pdfmark.Color{R: 200}
	spec.Opacity = 0.3
	ov, err := pageops.CreateWatermark(spec)
	if err != nil {
		log.Fatal(err)
	}

	output := filepath.Join(filepath.Dir(input), "watermarked_report.pdf")
	if err := pageops.ApplyWatermark(input, output, ov); err != nil {
		log.Fatal(err)
	}

	doc, err := reader.Open(output)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("watermarked %d pages\n", doc.NumPages())
	// Output:
	// watermarked 2 pages
}

// ExampleApplyWatermarkTo scales the overlay to each page and writes the
// result to memory.
func ExampleApplyWatermarkTo() {
	input, cleanup := exampleInput(1)
	defer cleanup()

	ov, err := pageops.CreateWatermark(pdfmark.DefaultSpec("DRAFT"))
	if err != nil {
		log.Fatal(err)
	}
	var buf bytes.Buffer
	if err := pageops.ApplyWatermarkTo(&buf, input, ov, pageops.WithFit(compose.FitScale)); err != nil {
		log.Fatal(err)
	}

	doc, err := reader.Parse(buf.Bytes())
	if err != nil {
		log.Fatal(err)
	}
	page, _ := doc.Page(1)
	text, _ := page.ExtractText()
	fmt.Println(text)
	// Output:
	// Quarterly report, part 1 DRAFT
}
