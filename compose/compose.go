// Package compose grafts an overlay page onto every page of a document.
//
// The source document is never modified. Compose copies the object graph
// reachable from the catalog into a new object table, rebuilds the page tree
// as a single flat node with every inheritable attribute made explicit, and
// appends to each page a content stream that paints the overlay as a Form
// XObject from the page's default graphics state.
package compose

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/lvillar/pdfmark"
	"github.com/lvillar/pdfmark/overlay"
	"github.com/lvillar/pdfmark/reader"
	"github.com/lvillar/pdfmark/writer"
)

// Fit selects how the overlay is placed on pages whose size differs from the
// overlay canvas.
type Fit int

const (
	// FitNative paints the overlay at its own origin without scaling.
	// On pages of another size it may be clipped or off centre.
	FitNative Fit = iota
	// FitScale scales the overlay uniformly to the page's visible box
	// (CropBox, else MediaBox) and centres it.
	FitScale
)

func (f Fit) String() string {
	switch f {
	case FitNative:
		return "native"
	case FitScale:
		return "scale"
	}
	return "Fit(" + strconv.Itoa(int(f)) + ")"
}

// ParseFit parses "native" or "scale". The empty string means FitNative.
func ParseFit(s string) (Fit, error) {
	switch strings.ToLower(s) {
	case "", "native":
		return FitNative, nil
	case "scale":
		return FitScale, nil
	}
	return 0, pdfmark.Errorf(pdfmark.ErrInvalidSpec, "parse fit", "", "unknown fit mode %q", s)
}

type options struct {
	fit      Fit
	producer string
}

// Option configures Compose.
type Option func(*options)

// WithFit sets the overlay placement. Default FitNative.
func WithFit(f Fit) Option {
	return func(o *options) { o.fit = f }
}

// WithProducer sets the /Producer written when the source has none.
func WithProducer(p string) Option {
	return func(o *options) { o.producer = p }
}

// PageInfo describes one page of a composed document.
type PageInfo struct {
	Number   int
	MediaBox reader.Rectangle
	CropBox  *reader.Rectangle
	Rotate   int    // normalized to 0, 90, 180 or 270
	XObject  string // resource name the overlay is painted under
	Depth    int    // q operators the original content left open
	Surplus  int    // unmatched Q operators in the original content
}

// Document is the result of Compose: a complete object table plus the
// geometry of each page in output order.
type Document struct {
	Objects *writer.Document
	Pages   []PageInfo
}

// WriteTo serializes the document.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	return d.Objects.WriteTo(w)
}

// NumPages returns the number of pages.
func (d *Document) NumPages() int { return len(d.Pages) }

// pageKeys are rebuilt for every page instead of copied.
var pageKeys = map[reader.Name]bool{
	"Parent": true, "Contents": true, "Resources": true,
	"MediaBox": true, "CropBox": true, "Rotate": true,
}

// Compose returns a new document in which every page of src paints its
// original content followed by the overlay. Page count, order and the
// effective MediaBox, CropBox and Rotate of each page are preserved, as are
// all other page and catalog entries, with references to old pages remapped
// to the new ones. Encrypted sources are written decrypted.
//
// Compose fails with ErrCorruptDocument when the page tree or a page's
// content cannot be read.
func Compose(src *reader.Document, ov *overlay.Page, opts ...Option) (*Document, error) {
	o := options{producer: "pdfmark"}
	for _, opt := range opts {
		opt(&o)
	}
	if src == nil || ov == nil {
		return nil, pdfmark.Errorf(pdfmark.ErrInvalidSpec, "compose", "", "nil document or overlay")
	}
	corrupt := func(err error) (*Document, error) {
		return nil, pdfmark.NewError(pdfmark.ErrCorruptDocument, "compose", "", err)
	}

	out := writer.New(outputVersion(src.Version))
	c := newCopier(src, out)

	// Seed the memo so that anything pointing at the catalog, a page or a
	// page tree node lands on the rebuilt objects.
	catalogRef := out.Reserve()
	if ref, ok := src.Trailer()["Root"].(reader.Reference); ok {
		c.memo[ref] = catalogRef
	}
	pagesRef := out.Reserve()
	for _, node := range src.PageTreeNodes() {
		c.memo[node] = pagesRef
	}
	pageRefs := make([]reader.Reference, src.NumPages())
	for n, page := range src.Pages() {
		pageRefs[n-1] = out.Reserve()
		c.memo[page.Ref] = pageRefs[n-1]
	}

	formRef, err := addForm(out, ov)
	if err != nil {
		return corrupt(fmt.Errorf("overlay: %w", err))
	}

	// One q per unmatched Q keeps the host content from popping below the
	// level the overlay is painted at.
	openers := make(map[int]reader.Reference)
	closers := make(map[string]reader.Reference)

	doc := &Document{Objects: out}
	kids := make(reader.Array, 0, src.NumPages())
	for n, page := range src.Pages() {
		info, dict, err := composePage(c, page)
		if err != nil {
			return corrupt(fmt.Errorf("page %d: %w", n, err))
		}
		dict["Parent"] = pagesRef

		res := dict["Resources"].(reader.Dict)
		res["XObject"].(reader.Dict)[reader.Name(info.XObject)] = formRef

		closer := closingContent(info.Depth, info.XObject, placement(ov.MediaBox(), page, o.fit))
		ref, ok := closers[closer]
		if !ok {
			ref = out.Add(reader.Stream{Dict: reader.Dict{}, Data: []byte(closer)})
			closers[closer] = ref
		}
		opener, ok := openers[info.Surplus]
		if !ok {
			opener = out.Add(reader.Stream{Dict: reader.Dict{}, Data: []byte(strings.Repeat("q\n", info.Surplus+1))})
			openers[info.Surplus] = opener
		}
		contents := reader.Array{opener}
		contents = append(contents, dict["Contents"].(reader.Array)...)
		dict["Contents"] = append(contents, ref)

		out.Set(pageRefs[n-1], dict)
		kids = append(kids, pageRefs[n-1])
		doc.Pages = append(doc.Pages, info)
	}
	out.Set(pagesRef, reader.Dict{
		"Type":  reader.Name("Pages"),
		"Kids":  kids,
		"Count": reader.Integer(len(kids)),
	})

	catalog, err := src.Catalog()
	if err != nil {
		return corrupt(err)
	}
	newCatalog, err := c.copyDict(catalog, map[reader.Name]bool{"Pages": true})
	if err != nil {
		return corrupt(err)
	}
	newCatalog["Type"] = reader.Name("Catalog")
	newCatalog["Pages"] = pagesRef
	out.Set(catalogRef, newCatalog)
	out.SetRoot(catalogRef)

	info := reader.Dict{}
	if obj, err := src.Resolve(src.Trailer()["Info"]); err == nil {
		if d, ok := obj.(reader.Dict); ok {
			if info, err = c.copyDict(d, nil); err != nil {
				return corrupt(err)
			}
		}
	}
	if _, ok := info["Producer"]; !ok && o.producer != "" {
		info["Producer"] = reader.String{Value: []byte(o.producer)}
	}
	out.SetInfo(out.Add(info))

	return doc, nil
}

// addForm copies the overlay's resources and stores its content as a Form
// XObject shared by every page.
func addForm(out *writer.Document, ov *overlay.Page) (reader.Reference, error) {
	ovDoc, ovPage := ov.Source()
	form := ov.Form()
	res := reader.Object(reader.Dict{})
	if raw, ok := ovPage.Attr("Resources"); ok {
		var err error
		if res, err = newCopier(ovDoc, out).copy(raw); err != nil {
			return reader.Reference{}, err
		}
	}
	form.Dict["Resources"] = res
	return out.Add(form), nil
}

// composePage builds the new page dictionary, minus /Parent, with explicit
// geometry, a private resource dictionary and the copied original contents.
func composePage(c *copier, page *reader.Page) (PageInfo, reader.Dict, error) {
	info := PageInfo{
		Number:   page.Number,
		MediaBox: page.MediaBox,
		CropBox:  page.CropBox,
		Rotate:   normalizeRotate(page.Rotate),
	}

	content, err := page.ContentStream()
	switch {
	case errors.Is(err, reader.ErrUnsupportedFilter):
		// Undecodable content is assumed balanced.
	case err != nil:
		return info, nil, err
	default:
		info.Depth, info.Surplus = saveDepth(content)
	}

	dict, err := c.copyDict(page.Dict(), pageKeys)
	if err != nil {
		return info, nil, err
	}
	dict["MediaBox"] = page.MediaBox.Array()
	if page.CropBox != nil {
		dict["CropBox"] = page.CropBox.Array()
	}
	dict["Rotate"] = reader.Integer(info.Rotate)

	// The resource dictionary and its /XObject entry are rebuilt as direct
	// objects so adding the overlay never touches objects shared with other
	// pages.
	res := reader.Dict{}
	srcXObjects := reader.Dict{}
	if raw, ok := page.Attr("Resources"); ok {
		obj, err := c.src.Resolve(raw)
		if err != nil {
			return info, nil, err
		}
		srcRes, _ := obj.(reader.Dict)
		if res, err = c.copyDict(srcRes, map[reader.Name]bool{"XObject": true}); err != nil {
			return info, nil, err
		}
		xobj, err := c.src.Resolve(srcRes["XObject"])
		if err != nil {
			return info, nil, err
		}
		if d, ok := xobj.(reader.Dict); ok {
			srcXObjects = d
		}
	}
	xobjects, err := c.copyDict(srcXObjects, nil)
	if err != nil {
		return info, nil, err
	}
	res["XObject"] = xobjects
	dict["Resources"] = res
	info.XObject = freeName(srcXObjects)

	contents := reader.Array{}
	if raw, ok := page.Dict()["Contents"]; ok {
		obj, err := c.src.Resolve(raw)
		if err != nil {
			return info, nil, err
		}
		switch v := obj.(type) {
		case reader.Stream:
			cp, err := c.copy(raw)
			if err != nil {
				return info, nil, err
			}
			if _, direct := raw.(reader.Stream); direct {
				cp = c.dst.Add(cp)
			}
			contents = append(contents, cp)
		case reader.Array:
			for _, item := range v {
				cp, err := c.copy(item)
				if err != nil {
					return info, nil, err
				}
				contents = append(contents, cp)
			}
		}
	}
	dict["Contents"] = contents
	return info, dict, nil
}

// freeName returns the first of Wm0, Wm1, ... not used in xobjects.
func freeName(xobjects reader.Dict) string {
	for i := 0; ; i++ {
		name := "Wm" + strconv.Itoa(i)
		if _, taken := xobjects[reader.Name(name)]; !taken {
			return name
		}
	}
}

// closingContent restores the page's default graphics state and paints the
// overlay form.
func closingContent(depth int, name string, matrix [6]float64) string {
	var sb strings.Builder
	sb.WriteString(strings.Repeat("Q\n", depth+1))
	sb.WriteString("q\n")
	if matrix != identity {
		for _, v := range matrix {
			sb.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
			sb.WriteByte(' ')
		}
		sb.WriteString("cm\n")
	}
	sb.WriteString(writer.EncodeName(reader.Name(name)))
	sb.WriteString(" Do\nQ\n")
	return sb.String()
}

var identity = [6]float64{1, 0, 0, 1, 0, 0}

// placement returns the matrix mapping the overlay canvas onto the page.
func placement(canvas reader.Rectangle, page *reader.Page, fit Fit) [6]float64 {
	if fit != FitScale || canvas.Width() <= 0 || canvas.Height() <= 0 {
		return identity
	}
	box := page.MediaBox.Normalize()
	if page.CropBox != nil {
		box = box.Intersect(*page.CropBox)
	}
	if box.Width() <= 0 || box.Height() <= 0 {
		return identity
	}
	s := min(box.Width()/canvas.Width(), box.Height()/canvas.Height())
	tx := box.LLX + (box.Width()-canvas.Width()*s)/2 - canvas.LLX*s
	ty := box.LLY + (box.Height()-canvas.Height()*s)/2 - canvas.LLY*s
	return [6]float64{round(s), 0, 0, round(s), round(tx), round(ty)}
}

func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func normalizeRotate(r int) int {
	r %= 360
	if r < 0 {
		r += 360
	}
	return r - r%90
}

// outputVersion returns max(v, 1.4).
func outputVersion(v string) string {
	major, minor, ok := strings.Cut(v, ".")
	if !ok {
		return "1.4"
	}
	ma, err1 := strconv.Atoi(major)
	mi, err2 := strconv.Atoi(minor)
	if err1 != nil || err2 != nil || ma < 1 || (ma == 1 && mi < 4) {
		return "1.4"
	}
	return strconv.Itoa(ma) + "." + strconv.Itoa(mi)
}
