package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"

	"github.com/lvillar/pdfmark"
	"github.com/lvillar/pdfmark/batch"
	"github.com/lvillar/pdfmark/compose"
	"github.com/lvillar/pdfmark/fontdata"
	"github.com/lvillar/pdfmark/overlay"
	"github.com/lvillar/pdfmark/pageops"
	"github.com/lvillar/pdfmark/reader"
	"github.com/lvillar/pdfmark/writer"
)

// toolset holds state shared by the tool handlers. Fonts loaded by one call
// are reused by the next.
type toolset struct {
	fonts *fontdata.Cache
}

// RegisterDefaultTools adds the watermarking and inspection tools.
func RegisterDefaultTools(s *Server) {
	ts := &toolset{fonts: fontdata.NewCache(nil)}
	for _, t := range []Tool{
		{
			Name:        "create_watermark",
			Description: "Build a one-page overlay PDF holding the rotated, semi-transparent watermark text. Saves it to outputPath or returns it as base64.",
			InputSchema: object("text").watermark().
				str("outputPath", "Optional file path to save the overlay. If omitted, returns base64.").
				num("width", "Canvas width in points (default: A4)").
				num("height", "Canvas height in points (default: A4)").
				build(),
			Handler: ts.createWatermark,
		},
		{
			Name:        "apply_watermark",
			Description: "Paint a text watermark, or a prebuilt overlay PDF, over every page of a PDF file.",
			InputSchema: object("inputPath", "outputPath").watermark().
				str("inputPath", "Path to the input PDF").
				str("outputPath", "Path for the output PDF").
				str("overlayPath", "Prebuilt overlay PDF to use instead of text").
				str("mode", "graft (default, keeps the document structure) or flatten").
				str("fit", "native (default) or scale: fit the overlay to each page").
				boolean("verify", "Re-read the output with an independent parser before saving").
				build(),
			Handler: ts.applyWatermark,
		},
		{
			Name:        "run_batch",
			Description: "Watermark every PDF in a directory (or a single file) into an output directory using a pool of workers. One failing document does not stop the others.",
			InputSchema: object("input", "outputDir").watermark().
				str("input", "Directory of PDFs, or a single PDF file").
				str("outputDir", "Directory for the watermarked files (created if missing)").
				str("overlayPath", "Prebuilt overlay PDF to use instead of text").
				str("prefix", "Output file name prefix (default: watermarked_)").
				str("collision", "overwrite (default), error or uniquify").
				str("mode", "graft (default) or flatten").
				str("fit", "native (default) or scale").
				num("concurrency", "Documents processed at once (default: 4)").
				build(),
			Handler: ts.runBatch,
		},
		{
			Name:        "read_pdf_text",
			Description: "Extract text content from a PDF file. Returns the text from all pages or specific pages.",
			InputSchema: object("path").
				str("path", "Path to the PDF file").
				numbers("pages", "Specific page numbers to extract (1-based). Omit for all pages.").
				build(),
			Handler: readText,
		},
		{
			Name:        "pdf_info",
			Description: "Get information about a PDF file: version, page count, metadata and page geometry (size, crop box, rotation).",
			InputSchema: object("path").str("path", "Path to the PDF file").build(),
			Handler:     pdfInfo,
		},
	} {
		s.AddTool(t)
	}
}

// spec turns the watermark arguments into a validated Spec.
func (ts *toolset) spec(a arguments) (pdfmark.Spec, error) {
	spec := pdfmark.DefaultSpec(a.str("text"))
	if name := a.str("fontName"); name != "" {
		spec.Font.Name = name
	}
	if path := a.str("fontPath"); path != "" {
		f, err := ts.fonts.Load(path)
		if err != nil {
			return pdfmark.Spec{}, pdfmark.NewError(pdfmark.ErrFontLoad, "load font", path, err)
		}
		spec.Font = pdfmark.FontRef{Name: f.Name, Data: f.Data()}
	}
	for key, dst := range map[string]*float64{
		"fontSize": &spec.FontSize,
		"opacity":  &spec.Opacity,
		"angle":    &spec.Angle,
	} {
		if v, ok := a.num(key); ok {
			*dst = v
		}
	}
	if s := a.str("color"); s != "" {
		c, err := pdfmark.ParseColor(s)
		if err != nil {
			return pdfmark.Spec{}, err
		}
		spec.Color = c
	}
	return spec, spec.Validate()
}

// loadOverlay loads overlayPath when given, otherwise builds from the spec
// arguments.
func (ts *toolset) loadOverlay(a arguments) (*overlay.Page, error) {
	if path := a.str("overlayPath"); path != "" {
		return overlay.Load(path)
	}
	spec, err := ts.spec(a)
	if err != nil {
		return nil, err
	}
	return pageops.CreateWatermark(spec, overlay.WithFontCache(ts.fonts))
}

func (ts *toolset) createWatermark(args map[string]any) (ToolResult, error) {
	a := arguments(args)
	width, _ := a.num("width")
	height, _ := a.num("height")
	spec, err := ts.spec(a)
	if err != nil {
		return ToolResult{}, err
	}
	ov, err := pageops.CreateWatermark(spec, overlay.WithFontCache(ts.fonts), overlay.WithCanvasSize(width, height))
	if err != nil {
		return ToolResult{}, err
	}

	if out := a.str("outputPath"); out != "" {
		n, err := writer.Commit(out, ov)
		if err != nil {
			return ToolResult{}, err
		}
		return textResult("Watermark overlay created: %s (%d bytes)", out, n), nil
	}
	data := ov.Bytes()
	res := textResult("Watermark overlay created (%d bytes). Base64 data follows.", len(data))
	res.Content = append(res.Content, ContentBlock{
		Type:     "resource",
		MIMEType: "application/pdf",
		Data:     base64.StdEncoding.EncodeToString(data),
	})
	return res, nil
}

func (ts *toolset) applyWatermark(args map[string]any) (ToolResult, error) {
	a := arguments(args)
	if err := a.require("inputPath", "outputPath"); err != nil {
		return ToolResult{}, err
	}
	mode, err := batch.ParseMode(a.str("mode"))
	if err != nil {
		return ToolResult{}, err
	}
	fit, err := compose.ParseFit(a.str("fit"))
	if err != nil {
		return ToolResult{}, err
	}
	ov, err := ts.loadOverlay(a)
	if err != nil {
		return ToolResult{}, err
	}

	in, out := a.str("inputPath"), a.str("outputPath")
	apply := pageops.ApplyWatermark
	if mode == batch.ModeFlatten {
		apply = pageops.ApplyWatermarkFlattened
	}
	if err := apply(in, out, ov, pageops.WithFit(fit), pageops.WithVerify(a.flag("verify"))); err != nil {
		return ToolResult{}, err
	}
	return textResult("Watermark applied (%s): %s -> %s", mode, in, out), nil
}

// batchItem is one document in the run_batch report.
type batchItem struct {
	Input  string `json:"input"`
	Output string `json:"output,omitempty"`
	State  string `json:"state"`
	Pages  int    `json:"pages,omitempty"`
	Bytes  int64  `json:"bytes,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (ts *toolset) runBatch(args map[string]any) (ToolResult, error) {
	a := arguments(args)
	if err := a.require("input", "outputDir"); err != nil {
		return ToolResult{}, err
	}
	inputs, err := batch.Enumerate(a.str("input"))
	if err != nil {
		return ToolResult{}, err
	}
	opts, err := batchOptions(a)
	if err != nil {
		return ToolResult{}, err
	}
	opts = append(opts, batch.WithBuilder(overlay.NewBuilder(overlay.WithFontCache(ts.fonts))))

	var src batch.Source
	if path := a.str("overlayPath"); path != "" {
		src = batch.FromOverlay(path)
	} else {
		spec, err := ts.spec(a)
		if err != nil {
			return ToolResult{}, err
		}
		src = batch.FromSpec(spec)
	}

	res := batch.New(opts...).Run(context.Background(), inputs, a.str("outputDir"), src)

	items := make([]batchItem, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		item := batchItem{Input: o.Input, Output: o.Output, State: string(o.State)}
		if o.Err != nil {
			item.Error = o.Err.Error()
		} else {
			item.Pages, item.Bytes = o.Pages, o.Bytes
		}
		items = append(items, item)
	}
	out, err := jsonResult(map[string]any{
		"runId":     res.RunID,
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
		"items":     items,
	})
	out.IsError = res.Succeeded == 0 && res.Failed > 0
	return out, err
}

// batchOptions maps the optional run_batch arguments onto pool options.
func batchOptions(a arguments) ([]batch.Option, error) {
	var opts []batch.Option
	if n, ok := a.num("concurrency"); ok {
		opts = append(opts, batch.WithConcurrency(int(n)))
	}
	if p := a.str("prefix"); p != "" {
		opts = append(opts, batch.WithPrefix(p))
	}
	if s := a.str("collision"); s != "" {
		c, err := batch.ParseCollision(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, batch.WithCollision(c))
	}
	if s := a.str("mode"); s != "" {
		m, err := batch.ParseMode(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, batch.WithMode(m))
	}
	if s := a.str("fit"); s != "" {
		f, err := compose.ParseFit(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, batch.WithFit(f))
	}
	return opts, nil
}

func openArg(a arguments) (*reader.Document, error) {
	if err := a.require("path"); err != nil {
		return nil, err
	}
	doc, err := reader.Open(a.str("path"))
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	return doc, nil
}

func readText(args map[string]any) (ToolResult, error) {
	a := arguments(args)
	doc, err := openArg(a)
	if err != nil {
		return ToolResult{}, err
	}
	return textResult("%s", documentText(doc, a.ints("pages"))), nil
}

// documentText extracts the text of the listed pages, or of all pages when
// the list is empty, with a separator line before each page.
func documentText(doc *reader.Document, only []int) string {
	var sb strings.Builder
	for num, page := range doc.Pages() {
		if len(only) > 0 && !slices.Contains(only, num) {
			continue
		}
		text, err := page.ExtractText()
		if err != nil {
			fmt.Fprintf(&sb, "--- Page %d (error: %v) ---\n", num, err)
			continue
		}
		fmt.Fprintf(&sb, "--- Page %d ---\n%s\n\n", num, text)
	}
	return sb.String()
}

func pdfInfo(args map[string]any) (ToolResult, error) {
	doc, err := openArg(arguments(args))
	if err != nil {
		return ToolResult{}, err
	}
	return jsonResult(map[string]any{
		"version":   doc.Version,
		"numPages":  doc.NumPages(),
		"encrypted": doc.Encrypted(),
		"metadata":  doc.Metadata(),
		"pages":     pageGeometry(doc),
	})
}

// pageInfo is the effective geometry of one page.
type pageInfo struct {
	Page    int       `json:"page"`
	Width   float64   `json:"width"`
	Height  float64   `json:"height"`
	Rotate  int       `json:"rotate"`
	CropBox []float64 `json:"cropBox,omitempty"`
}

func pageGeometry(doc *reader.Document) []pageInfo {
	pages := make([]pageInfo, 0, doc.NumPages())
	for num, page := range doc.Pages() {
		info := pageInfo{Page: num, Width: page.MediaBox.Width(), Height: page.MediaBox.Height(), Rotate: page.Rotate}
		if cb := page.CropBox; cb != nil {
			info.CropBox = []float64{cb.LLX, cb.LLY, cb.URX, cb.URY}
		}
		pages = append(pages, info)
	}
	return pages
}
