// Package pdfmark overlays a rotated, semi-transparent text mark onto every
// page of a PDF document.
//
// The root package holds the watermark description shared by all other
// packages: Spec, the error taxonomy and the JSON configuration used by the
// command-line tools. The work itself is split across subpackages:
//
//   - overlay builds the reusable overlay page from a Spec
//   - compose grafts the overlay onto every page of an existing document
//   - writer serializes the result and commits it atomically
//   - pageops exposes the single-document operations
//   - batch runs the pipeline over many documents with a bounded worker pool
package pdfmark

import (
	"fmt"
	"math"
	"strings"
)

// Default watermark parameters.
const (
	DefaultFontName = "Helvetica"
	DefaultFontSize = 40
	DefaultOpacity  = 0.5
	DefaultAngle    = 45
)

// Color is an RGB fill color with channels in [0, 255].
type Color struct {
	R, G, B int
}

// ParseColor parses a color in "R,G,B" form, e.g. "255,0,0".
func ParseColor(s string) (Color, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Color{}, Errorf(ErrInvalidSpec, "parse color", "", "color %q must have the form R,G,B", s)
	}
	var ch [3]int
	for i, p := range parts {
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%d", &ch[i]); err != nil {
			return Color{}, Errorf(ErrInvalidSpec, "parse color", "", "color channel %q is not an integer", p)
		}
	}
	c := Color{R: ch[0], G: ch[1], B: ch[2]}
	if err := c.validate(); err != nil {
		return Color{}, NewError(ErrInvalidSpec, "parse color", "", err)
	}
	return c, nil
}

func (c Color) validate() error {
	for _, v := range []int{c.R, c.G, c.B} {
		if v < 0 || v > 255 {
			return fmt.Errorf("color channel %d out of range [0, 255]", v)
		}
	}
	return nil
}

// String returns the color in "R,G,B" form.
func (c Color) String() string { return fmt.Sprintf("%d,%d,%d", c.R, c.G, c.B) }

// FontRef identifies the font used for the watermark text.
//
// Without Data, Name must be one of the standard PDF fonts (see IsStandardFont).
// With Data, the bytes are a TrueType or OpenType font that gets embedded, and
// Name is its identifier; an empty Name means the font's own PostScript name.
type FontRef struct {
	Name string
	Data []byte
}

// External reports whether the font is backed by external font data.
func (f FontRef) External() bool { return len(f.Data) > 0 }

var standardFonts = map[string]bool{
	"courier": true, "courier-bold": true, "courier-oblique": true, "courier-boldoblique": true,
	"helvetica": true, "helvetica-bold": true, "helvetica-oblique": true, "helvetica-boldoblique": true,
	"times": true, "times-roman": true, "times-bold": true, "times-italic": true, "times-bolditalic": true,
	"symbol": true, "zapfdingbats": true,
}

// IsStandardFont reports whether name is one of the 14 standard PDF fonts.
// The comparison is case-insensitive.
func IsStandardFont(name string) bool {
	return standardFonts[strings.ToLower(name)]
}

// Spec describes a text watermark. It is a value type: copies are independent
// except for FontRef.Data, which must not be modified after use.
type Spec struct {
	Text     string
	Font     FontRef
	FontSize float64 // points, > 0
	Opacity  float64 // fill alpha in [0, 1]
	Angle    float64 // degrees, counter-clockwise
	Color    Color
}

// DefaultSpec returns a Spec for text with the default parameters:
// Helvetica 40pt, opacity 0.5, 45 degrees, black.
func DefaultSpec(text string) Spec {
	return Spec{
		Text:     text,
		Font:     FontRef{Name: DefaultFontName},
		FontSize: DefaultFontSize,
		Opacity:  DefaultOpacity,
		Angle:    DefaultAngle,
	}
}

// Validate checks the watermark constraints. It returns an *Error of kind
// ErrInvalidSpec describing the first violation found.
func (s Spec) Validate() error {
	fail := func(format string, args ...any) error {
		return Errorf(ErrInvalidSpec, "validate", "", format, args...)
	}
	switch {
	case strings.TrimSpace(s.Text) == "":
		return fail("text is empty")
	case math.IsNaN(s.FontSize) || math.IsInf(s.FontSize, 0) || s.FontSize <= 0:
		return fail("font size %v must be positive", s.FontSize)
	case math.IsNaN(s.Opacity) || s.Opacity < 0 || s.Opacity > 1:
		return fail("opacity %v out of range [0, 1]", s.Opacity)
	case math.IsNaN(s.Angle) || math.IsInf(s.Angle, 0):
		return fail("angle %v is not finite", s.Angle)
	}
	if err := s.Color.validate(); err != nil {
		return NewError(ErrInvalidSpec, "validate", "", err)
	}
	if !s.Font.External() && s.Font.Name != "" && !IsStandardFont(s.Font.Name) {
		return fail("font %q is not a standard font and no font data was given", s.Font.Name)
	}
	return nil
}

// Normalized returns a copy of s with the angle reduced into [0, 360) and an
// empty standard font name replaced by the default font.
func (s Spec) Normalized() Spec {
	a := math.Mod(s.Angle, 360)
	if a < 0 {
		a += 360
	}
	if a == 0 {
		a = 0 // drop negative zero
	}
	s.Angle = a
	if !s.Font.External() && s.Font.Name == "" {
		s.Font.Name = DefaultFontName
	}
	return s
}
