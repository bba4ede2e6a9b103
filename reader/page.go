package reader

import (
	"errors"
	"fmt"
)

// Rectangle is a box in default user space, [LLX LLY URX URY] in the file.
type Rectangle struct {
	LLX, LLY, URX, URY float64
}

// letter is used for pages that have no usable MediaBox.
var letter = Rectangle{URX: 612, URY: 792}

func (r Rectangle) Width() float64  { return r.URX - r.LLX }
func (r Rectangle) Height() float64 { return r.URY - r.LLY }

// Normalize orders the corners so that LLX <= URX and LLY <= URY.
func (r Rectangle) Normalize() Rectangle {
	r.LLX, r.URX = min(r.LLX, r.URX), max(r.LLX, r.URX)
	r.LLY, r.URY = min(r.LLY, r.URY), max(r.LLY, r.URY)
	return r
}

// Intersect returns the overlap of r and o. Disjoint boxes give an empty
// rectangle anchored at the lower-left of the would-be overlap.
func (r Rectangle) Intersect(o Rectangle) Rectangle {
	r, o = r.Normalize(), o.Normalize()
	llx, lly := max(r.LLX, o.LLX), max(r.LLY, o.LLY)
	return Rectangle{
		LLX: llx, LLY: lly,
		URX: max(min(r.URX, o.URX), llx),
		URY: max(min(r.URY, o.URY), lly),
	}
}

// Array returns r as a PDF rectangle.
func (r Rectangle) Array() Array {
	return Array{Real(r.LLX), Real(r.LLY), Real(r.URX), Real(r.URY)}
}

func rectangleOf(obj Object) (Rectangle, error) {
	arr, ok := obj.(Array)
	if !ok || len(arr) != 4 {
		return Rectangle{}, fmt.Errorf("reader: rectangle %v is not a 4-element array", obj)
	}
	var v [4]float64
	for i, item := range arr {
		if v[i], ok = Number(item); !ok {
			return Rectangle{}, fmt.Errorf("reader: rectangle element %v is not a number", item)
		}
	}
	return Rectangle{v[0], v[1], v[2], v[3]}, nil
}

// Page is one leaf of the page tree, with inherited attributes applied.
type Page struct {
	Number    int       // 1-based
	Ref       Reference // the page dictionary
	MediaBox  Rectangle
	CropBox   *Rectangle // nil when absent
	Resources Dict
	Contents  []Stream
	Rotate    int // as stored, not normalized

	dict      Dict
	inherited Dict // inheritable attributes, nearest definition wins
	doc       *Document
}

// inheritable are the attributes a page takes from its ancestors.
var inheritable = []Name{"MediaBox", "CropBox", "Resources", "Rotate"}

// Dict returns the page dictionary as stored in the file.
func (p *Page) Dict() Dict { return p.dict }

// Attr returns the unresolved value of an inheritable attribute as seen by
// this page.
func (p *Page) Attr(key Name) (Object, bool) {
	v, ok := p.inherited[key]
	return v, ok
}

// ContentStream decodes the page's content streams and joins them, each
// followed by a newline so that operators never merge across streams.
func (p *Page) ContentStream() ([]byte, error) {
	var out []byte
	for i, s := range p.Contents {
		data, err := decodeStream(s)
		if err != nil {
			return nil, fmt.Errorf("reader: page %d content stream %d: %w", p.Number, i, err)
		}
		out = append(append(out, data...), '\n')
	}
	return out, nil
}

var errNotPageNode = errors.New("not a dictionary")

// buildPageList flattens the page tree rooted at the catalog's /Pages.
func (d *Document) buildPageList() error {
	catalog, err := d.Catalog()
	if err != nil {
		return err
	}
	root, ok := catalog["Pages"].(Reference)
	if !ok {
		return fmt.Errorf("reader: /Pages is not a reference")
	}
	d.pages, d.treeNodes = nil, nil
	w := treeWalk{doc: d, seen: make(map[Reference]bool)}
	if err := w.visit(root, nil); err != nil {
		if errors.Is(err, errNotPageNode) {
			return fmt.Errorf("reader: /Pages is not a dictionary")
		}
		return err
	}
	return nil
}

type treeWalk struct {
	doc  *Document
	seen map[Reference]bool
}

func (w *treeWalk) visit(ref Reference, inherited Dict) error {
	if w.seen[ref] {
		return fmt.Errorf("reader: page tree cycle at object %d", ref.Number)
	}
	w.seen[ref] = true

	obj, err := w.doc.resolve(ref)
	if err != nil {
		return fmt.Errorf("reader: page tree node %v: %w", ref, err)
	}
	node, ok := obj.(Dict)
	if !ok {
		return errNotPageNode
	}

	attrs := inherited.Clone()
	for _, key := range inheritable {
		if v, ok := node[key]; ok {
			attrs[key] = v
		}
	}

	// Without /Kids a node is a leaf even when /Type is missing.
	kind := node.GetName("Type")
	if _, hasKids := node["Kids"]; kind == "Page" || (!hasKids && kind != "Pages") {
		return w.doc.addPage(ref, node, attrs)
	}

	w.doc.treeNodes = append(w.doc.treeNodes, ref)
	kids, err := w.doc.resolveIfRef(node["Kids"])
	if err != nil {
		return fmt.Errorf("reader: /Kids of %v: %w", ref, err)
	}
	arr, _ := kids.(Array)
	for _, kid := range arr {
		kidRef, ok := kid.(Reference)
		if !ok {
			return fmt.Errorf("reader: page tree kid %v is not a reference", kid)
		}
		// Kids that are not dictionaries are skipped.
		if err := w.visit(kidRef, attrs); err != nil && !errors.Is(err, errNotPageNode) {
			return err
		}
	}
	return nil
}

// attr resolves an inherited attribute; unresolvable values count as absent.
func (d *Document) attr(attrs Dict, key Name) (Object, bool) {
	v, ok := attrs[key]
	if !ok {
		return nil, false
	}
	v, err := d.resolveIfRef(v)
	return v, err == nil
}

func (d *Document) addPage(ref Reference, node, attrs Dict) error {
	p := &Page{
		Number:    len(d.pages) + 1,
		Ref:       ref,
		MediaBox:  letter,
		dict:      node,
		inherited: attrs,
		doc:       d,
	}
	if v, ok := d.attr(attrs, "MediaBox"); ok {
		if r, err := rectangleOf(v); err == nil && r != (Rectangle{}) {
			p.MediaBox = r
		}
	}
	if v, ok := d.attr(attrs, "CropBox"); ok {
		if r, err := rectangleOf(v); err == nil {
			p.CropBox = &r
		}
	}
	if v, ok := d.attr(attrs, "Resources"); ok {
		p.Resources, _ = v.(Dict)
	}
	if v, ok := d.attr(attrs, "Rotate"); ok {
		if n, ok := Number(v); ok {
			p.Rotate = int(n)
		}
	}

	contents, err := d.resolveIfRef(node["Contents"])
	if err != nil {
		return fmt.Errorf("reader: page %d contents: %w", p.Number, err)
	}
	switch c := contents.(type) {
	case Stream:
		p.Contents = []Stream{c}
	case Array:
		for _, item := range c {
			s, err := d.resolveIfRef(item)
			if err != nil {
				return fmt.Errorf("reader: page %d contents: %w", p.Number, err)
			}
			if s, ok := s.(Stream); ok {
				p.Contents = append(p.Contents, s)
			}
		}
	}

	d.pages = append(d.pages, p)
	return nil
}
