package compose

import (
	"fmt"
	"maps"
	"slices"

	"github.com/lvillar/pdfmark/reader"
	"github.com/lvillar/pdfmark/writer"
)

// copier copies objects reachable from a source document into a writer
// document. Each source object is copied at most once; the memo maps old
// references to new ones and may be seeded to redirect references (pages,
// page tree nodes) to objects built by the caller.
type copier struct {
	src  *reader.Document
	dst  *writer.Document
	memo map[reader.Reference]reader.Reference
}

func newCopier(src *reader.Document, dst *writer.Document) *copier {
	return &copier{src: src, dst: dst, memo: make(map[reader.Reference]reader.Reference)}
}

func (c *copier) copy(obj reader.Object) (reader.Object, error) {
	switch v := obj.(type) {
	case reader.Reference:
		if ref, ok := c.memo[v]; ok {
			return ref, nil
		}
		ref := c.dst.Reserve()
		c.memo[v] = ref
		val, err := c.src.ResolveReference(v)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", v.Number, err)
		}
		cp, err := c.copy(val)
		if err != nil {
			return nil, err
		}
		c.dst.Set(ref, cp)
		return ref, nil
	case reader.Dict:
		return c.copyDict(v, nil)
	case reader.Array:
		out := make(reader.Array, len(v))
		for i, item := range v {
			cp, err := c.copy(item)
			if err != nil {
				return nil, err
			}
			out[i] = cp
		}
		return out, nil
	case reader.Stream:
		// The writer emits /Length directly; an indirect one would dangle.
		d, err := c.copyDict(v.Dict, map[reader.Name]bool{"Length": true})
		if err != nil {
			return nil, err
		}
		return reader.Stream{Dict: d, Data: v.Data}, nil
	case nil:
		return reader.Null{}, nil
	default:
		return obj, nil
	}
}

// copyDict deep-copies d, leaving out the keys in skip. Keys are visited in
// sorted order so that object numbering is reproducible.
func (c *copier) copyDict(d reader.Dict, skip map[reader.Name]bool) (reader.Dict, error) {
	out := make(reader.Dict, len(d))
	for _, k := range slices.Sorted(maps.Keys(d)) {
		if skip[k] {
			continue
		}
		cp, err := c.copy(d[k])
		if err != nil {
			return nil, err
		}
		out[k] = cp
	}
	return out, nil
}
