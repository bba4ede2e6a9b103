package overlay

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"codeberg.org/go-pdf/fpdf"

	"github.com/lvillar/pdfmark"
	"github.com/lvillar/pdfmark/fontdata"
)

// A4 portrait in points, the default canvas.
const (
	DefaultWidth  = 595.28
	DefaultHeight = 841.89
)

// Pinned document dates keep builds byte-identical.
var buildDate = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// externalFamily is the fpdf family name under which external fonts are registered.
const externalFamily = "pdfmarkext"

// Builder renders overlay pages. A Builder is safe for concurrent use when
// its font cache is.
type Builder struct {
	width, height float64
	fonts         *fontdata.Cache
	fallback      bool
}

// Option configures a Builder.
type Option func(*Builder)

// WithCanvasSize sets the overlay canvas in points. Non-positive values keep
// the default A4 canvas.
func WithCanvasSize(width, height float64) Option {
	return func(b *Builder) {
		if width > 0 && height > 0 {
			b.width, b.height = width, height
		}
	}
}

// WithFontCache makes the builder parse external fonts through c.
func WithFontCache(c *fontdata.Cache) Option {
	return func(b *Builder) {
		if c != nil {
			b.fonts = c
		}
	}
}

// WithFontFallback lets an unusable external font fall back to Helvetica
// instead of failing with ErrFontLoad.
func WithFontFallback(allow bool) Option {
	return func(b *Builder) { b.fallback = allow }
}

// NewBuilder returns a builder with its own font cache unless one is given.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{width: DefaultWidth, height: DefaultHeight}
	for _, opt := range opts {
		opt(b)
	}
	if b.fonts == nil {
		b.fonts = fontdata.NewCache(nil)
	}
	return b
}

// Build validates spec and renders its overlay page: the text centred on the
// canvas with its baseline through the centre, rotated counter-clockwise by
// spec.Angle, filled with spec.Color at spec.Opacity.
//
// Equal specs produce byte-identical pages.
func (b *Builder) Build(spec pdfmark.Spec) (*Page, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	s := spec.Normalized()

	var font *fontdata.Font
	if s.Font.External() {
		f, err := b.externalFont(s)
		if err != nil {
			if !b.fallback {
				return nil, err
			}
			s.Font = pdfmark.FontRef{Name: pdfmark.DefaultFontName}
		} else {
			font = f
		}
	}

	data, err := b.render(s, font)
	if err != nil {
		kind := pdfmark.ErrInvalidSpec
		if font != nil {
			kind = pdfmark.ErrFontLoad
		}
		return nil, pdfmark.NewError(kind, "build", "", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	p.spec = spec
	p.fromSpec = true
	return p, nil
}

// externalFont parses the spec font and checks it covers the text.
func (b *Builder) externalFont(s pdfmark.Spec) (*fontdata.Font, error) {
	f, err := b.fonts.Get(s.Font.Name, s.Font.Data)
	if err != nil {
		return nil, pdfmark.NewError(pdfmark.ErrFontLoad, "build", "", err)
	}
	if missing := f.Missing(s.Text); len(missing) > 0 {
		return nil, pdfmark.Errorf(pdfmark.ErrFontLoad, "build", "",
			"font %s has no glyphs for %q", f.Name, string(missing))
	}
	return f, nil
}

func (b *Builder) render(s pdfmark.Spec, font *fontdata.Font) ([]byte, error) {
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: b.width, Ht: b.height},
	})
	pdf.SetCreationDate(buildDate)
	pdf.SetModificationDate(buildDate)
	pdf.SetCatalogSort(true)
	pdf.SetProducer("pdfmark", false)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(0, 0, 0)
	pdf.AddPage()

	text := s.Text
	if font != nil {
		pdf.AddUTF8FontFromBytes(externalFamily, "", font.Data())
		pdf.SetFont(externalFamily, "", s.FontSize)
	} else {
		family, style := coreFont(s.Font.Name)
		pdf.SetFont(family, style, s.FontSize)
		text = pdf.UnicodeTranslatorFromDescriptor("")(text)
	}
	if pdf.Err() {
		return nil, pdf.Error()
	}

	pdf.SetTextColor(s.Color.R, s.Color.G, s.Color.B)
	pdf.SetAlpha(s.Opacity, "Normal")

	cx, cy := b.width/2, b.height/2
	textW := pdf.GetStringWidth(text)

	pdf.TransformBegin()
	pdf.TransformRotate(s.Angle, cx, cy)
	pdf.Text(cx-textW/2, cy, text)
	pdf.TransformEnd()

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("rendering overlay: %w", err)
	}
	return buf.Bytes(), nil
}

// coreFont maps a standard font name such as "Helvetica-BoldOblique" to an
// fpdf family and style.
func coreFont(name string) (family, style string) {
	lower := strings.ToLower(name)
	family, variant, _ := strings.Cut(lower, "-")
	switch family {
	case "times", "courier", "helvetica", "symbol", "zapfdingbats":
	default:
		family = "helvetica"
	}
	switch variant {
	case "bold":
		style = "B"
	case "oblique", "italic":
		style = "I"
	case "boldoblique", "bolditalic":
		style = "BI"
	}
	return family, style
}
