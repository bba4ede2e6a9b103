package reader

import (
	"bytes"
	"fmt"
	"io"
	"iter"
	"os"
	"sync"
)

// Document is a parsed PDF file.
type Document struct {
	Version string // from the %PDF- header, e.g. "1.7"

	data      []byte
	xref      xrefTable
	trailer   Dict
	sec       *security // set once an encrypted file is authenticated
	pages     []*Page
	treeNodes []Reference

	mu      sync.Mutex
	objStms map[int]*objectStream
}

// Open reads and parses the file at path.
func Open(path string) (*Document, error) {
	return OpenWithPassword(path, "")
}

// OpenWithPassword reads and parses the file at path, authenticating with
// password if the file is encrypted.
func OpenWithPassword(path, password string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reader: %w", err)
	}
	return parse(data, password)
}

// ReadFrom parses everything r yields.
func ReadFrom(r io.Reader) (*Document, error) {
	return ReadFromWithPassword(r, "")
}

// ReadFromWithPassword parses everything r yields, authenticating with
// password if the file is encrypted.
func ReadFromWithPassword(r io.Reader, password string) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reader: reading input: %w", err)
	}
	return parse(data, password)
}

// Parse parses a file held in memory. data must not change while the
// Document is in use.
func Parse(data []byte) (*Document, error) {
	return parse(data, "")
}

func parse(data []byte, password string) (*Document, error) {
	version, ok := headerVersion(data)
	if !ok {
		return nil, fmt.Errorf("reader: missing %%PDF header")
	}
	start, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	xref, trailer, err := loadXRef(data, start)
	if err != nil {
		return nil, err
	}
	d := &Document{Version: version, data: data, xref: xref, trailer: trailer}

	if d.Encrypted() {
		sec, err := newSecurity(d)
		if err != nil {
			return nil, fmt.Errorf("reader: %w", err)
		}
		// ErrPassword is returned as is so callers can match it.
		if err := sec.authenticate(password); err != nil {
			return nil, err
		}
		d.sec = sec
	}

	if err := d.buildPageList(); err != nil {
		return nil, err
	}
	return d, nil
}

// headerVersion finds "%PDF-x.y" in the first kilobyte. Some producers put
// junk before the header.
func headerVersion(data []byte) (string, bool) {
	head := data[:min(len(data), 1024)]
	i := bytes.Index(head, []byte("%PDF-"))
	if i < 0 {
		return "", false
	}
	v := head[i+5:]
	n := 0
	for n < len(v) && (v[n] == '.' || '0' <= v[n] && v[n] <= '9') {
		n++
	}
	return string(v[:n]), n > 0
}

func (d *Document) NumPages() int { return len(d.pages) }

// Page returns page n, counting from 1.
func (d *Document) Page(n int) (*Page, error) {
	if n < 1 || n > len(d.pages) {
		return nil, fmt.Errorf("reader: page %d out of range [1, %d]", n, len(d.pages))
	}
	return d.pages[n-1], nil
}

// Pages iterates over the pages in document order with 1-based numbers.
func (d *Document) Pages() iter.Seq2[int, *Page] {
	return func(yield func(int, *Page) bool) {
		for _, p := range d.pages {
			if !yield(p.Number, p) {
				return
			}
		}
	}
}

// PageTreeNodes returns the intermediate /Pages nodes, root first.
func (d *Document) PageTreeNodes() []Reference { return d.treeNodes }

// Trailer returns the trailer of the newest cross-reference section.
func (d *Document) Trailer() Dict { return d.trailer }

// Encrypted reports whether the trailer names an /Encrypt dictionary.
func (d *Document) Encrypted() bool {
	_, ok := d.trailer["Encrypt"]
	return ok
}

// Catalog returns the /Root dictionary.
func (d *Document) Catalog() (Dict, error) {
	root, err := d.resolveIfRef(d.trailer["Root"])
	if err != nil {
		return nil, fmt.Errorf("reader: /Root: %w", err)
	}
	catalog, ok := root.(Dict)
	if !ok {
		return nil, fmt.Errorf("reader: /Root is %T, not a dictionary", root)
	}
	return catalog, nil
}

// infoKeys are the text entries of the /Info dictionary Metadata reports.
var infoKeys = []Name{"Title", "Author", "Subject", "Keywords", "Creator", "Producer"}

// Metadata returns the non-empty text entries of the /Info dictionary.
func (d *Document) Metadata() map[string]string {
	meta := make(map[string]string)
	obj, err := d.resolveIfRef(d.trailer["Info"])
	if err != nil {
		return meta
	}
	info, _ := obj.(Dict)
	for _, key := range infoKeys {
		if s := info.GetString(key); s != "" {
			meta[string(key)] = s
		}
	}
	return meta
}
