package reader_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/lvillar/pdfmark/reader"
)

// buildObjStmPDF writes a PDF 1.5 file whose catalog, page tree and page live
// in an object stream, indexed by a cross-reference stream. The page content
// has an indirect /Length.
func buildObjStmPDF(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	offsets := make(map[int]int)
	buf.WriteString("%PDF-1.5\n")

	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 /MediaBox [0 0 300 400] /Rotate 90 >>",
		"<< /Type /Page /Parent 2 0 R /Contents 5 0 R >>",
	}
	var header, body bytes.Buffer
	for i, o := range objs {
		fmt.Fprintf(&header, "%d %d ", i+1, body.Len())
		body.WriteString(o)
		body.WriteByte('\n')
	}
	stm := header.String() + body.String()
	offsets[4] = buf.Len()
	fmt.Fprintf(&buf, "4 0 obj\n<< /Type /ObjStm /N 3 /First %d /Length %d >>\nstream\n%s\nendstream\nendobj\n",
		header.Len(), len(stm), stm)

	content := "BT /F1 12 Tf 10 10 Td (Compressed) Tj ET"
	offsets[5] = buf.Len()
	fmt.Fprintf(&buf, "5 0 obj\n<< /Length 6 0 R >>\nstream\n%s\nendstream\nendobj\n", content)
	offsets[6] = buf.Len()
	fmt.Fprintf(&buf, "6 0 obj\n%d\nendobj\n", len(content))

	xrefOff := buf.Len()
	offsets[7] = xrefOff
	var xr bytes.Buffer
	entry := func(typ byte, f2 uint32, f3 uint16) {
		xr.WriteByte(typ)
		_ = binary.Write(&xr, binary.BigEndian, f2)
		_ = binary.Write(&xr, binary.BigEndian, f3)
	}
	entry(0, 0, 65535)
	for i := 0; i < 3; i++ {
		entry(2, 4, uint16(i))
	}
	for num := 4; num <= 7; num++ {
		entry(1, uint32(offsets[num]), 0)
	}
	fmt.Fprintf(&buf, "7 0 obj\n<< /Type /XRef /Size 8 /W [1 4 2] /Root 1 0 R /Length %d >>\nstream\n", xr.Len())
	buf.Write(xr.Bytes())
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOff)
	return buf.Bytes()
}

func TestObjectStreams(t *testing.T) {
	doc, err := reader.Parse(buildObjStmPDF(t))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if doc.Version != "1.5" {
		t.Errorf("Version = %q, want 1.5", doc.Version)
	}
	if doc.NumPages() != 1 {
		t.Fatalf("NumPages = %d, want 1", doc.NumPages())
	}

	page, _ := doc.Page(1)
	if page.Ref != (reader.Reference{Number: 3}) {
		t.Errorf("page ref = %v, want 3 0 R", page.Ref)
	}
	if page.MediaBox.Width() != 300 || page.MediaBox.Height() != 400 {
		t.Errorf("inherited MediaBox = %+v", page.MediaBox)
	}
	if page.Rotate != 90 {
		t.Errorf("inherited Rotate = %d, want 90", page.Rotate)
	}
	if _, ok := page.Attr("MediaBox"); !ok {
		t.Error("Attr(MediaBox) not found")
	}
	if nodes := doc.PageTreeNodes(); len(nodes) != 1 || nodes[0].Number != 2 {
		t.Errorf("PageTreeNodes = %v, want [2 0 R]", nodes)
	}

	text, err := page.ExtractText()
	if err != nil {
		t.Fatalf("extracting text: %v", err)
	}
	if !strings.Contains(text, "Compressed") {
		t.Errorf("text = %q, want it to contain %q", text, "Compressed")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	tests := map[string][]byte{
		"empty":     nil,
		"no header": []byte("hello world, this is not a pdf"),
		"truncated": []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog"),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := reader.Parse(data); err == nil {
				t.Error("expected error")
			}
		})
	}
}
