// Package fontdata loads external TrueType fonts for watermark rendering.
//
// Fonts are parsed once and kept in an explicit Cache keyed by the SHA-256 of
// their bytes. There is no process-wide registry: each overlay builder owns a
// cache or is handed one by its caller.
package fontdata

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	gofont "github.com/go-text/typesetting/font"
	"golang.org/x/image/font/sfnt"
)

// ErrNotFound is returned by a Provider when no font exists at the path.
var ErrNotFound = errors.New("fontdata: font not found")

// ErrUnsupported is returned for font data that parses but cannot be
// embedded, such as CFF-flavoured OpenType or font collections.
var ErrUnsupported = errors.New("fontdata: unsupported font format")

// Provider supplies raw font bytes for a path.
type Provider interface {
	ReadFont(path string) ([]byte, error)
}

// OSProvider reads fonts from the local filesystem.
type OSProvider struct{}

// ReadFont implements Provider.
func (OSProvider) ReadFont(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return data, err
}

// FSProvider reads fonts from an fs.FS.
type FSProvider struct {
	FS fs.FS
}

// ReadFont implements Provider.
func (p FSProvider) ReadFont(path string) ([]byte, error) {
	data, err := fs.ReadFile(p.FS, path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return data, err
}

// Font is a parsed TrueType font. It is immutable and safe for concurrent use.
type Font struct {
	// Name identifies the font: the caller-supplied name, or the font's
	// PostScript name when none was given.
	Name string
	Sum  [sha256.Size]byte

	data []byte
	face *gofont.Face
}

// Data returns the raw font bytes. Callers must not modify the slice.
func (f *Font) Data() []byte { return f.data }

// Missing returns the runes of text that the font has no glyph for,
// in order of first appearance. Whitespace is ignored.
func (f *Font) Missing(text string) []rune {
	var missing []rune
	seen := make(map[rune]bool)
	for _, r := range text {
		if seen[r] || strings.ContainsRune(" \t\r\n", r) {
			continue
		}
		seen[r] = true
		if _, ok := f.face.NominalGlyph(r); !ok {
			missing = append(missing, r)
		}
	}
	return missing
}

// Parse validates font data and returns the parsed font. An empty name is
// replaced by the font's PostScript name.
func Parse(name string, data []byte) (*Font, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("fontdata: font data is empty")
	}
	switch string(data[:4]) {
	case "OTTO":
		return nil, fmt.Errorf("%w: CFF outlines", ErrUnsupported)
	case "ttcf":
		return nil, fmt.Errorf("%w: font collection", ErrUnsupported)
	}

	sf, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("fontdata: parse truetype: %w", err)
	}
	if sf.UnitsPerEm() == 0 {
		return nil, fmt.Errorf("fontdata: invalid unitsPerEm")
	}

	name = strings.TrimSpace(name)
	if name == "" {
		var buf sfnt.Buffer
		if ps, err := sf.Name(&buf, sfnt.NameIDPostScript); err == nil {
			name = ps
		}
	}
	if name == "" {
		name = "CustomTT"
	}

	face, err := gofont.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("fontdata: load cmap: %w", err)
	}

	return &Font{
		Name: name,
		Sum:  sha256.Sum256(data),
		data: data,
		face: face,
	}, nil
}

// Cache holds parsed fonts keyed by the digest of their bytes.
// The zero value is not usable; create caches with NewCache.
type Cache struct {
	provider Provider

	mu    sync.Mutex
	fonts map[[sha256.Size]byte]*Font
}

// NewCache returns an empty cache reading font files through p.
// A nil provider reads from the local filesystem.
func NewCache(p Provider) *Cache {
	if p == nil {
		p = OSProvider{}
	}
	return &Cache{provider: p, fonts: make(map[[sha256.Size]byte]*Font)}
}

// Get returns the parsed font for data, parsing it on first use.
// Two requests for the same bytes return the same *Font; the name of the
// first request wins.
func (c *Cache) Get(name string, data []byte) (*Font, error) {
	sum := sha256.Sum256(data)

	c.mu.Lock()
	f, ok := c.fonts[sum]
	c.mu.Unlock()
	if ok {
		return f, nil
	}

	f, err := Parse(name, data)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.fonts[sum]; ok {
		return existing, nil
	}
	c.fonts[sum] = f
	return f, nil
}

// Load reads the font at path through the cache's provider and parses it.
func (c *Cache) Load(path string) (*Font, error) {
	data, err := c.provider.ReadFont(path)
	if err != nil {
		return nil, err
	}
	return c.Get("", data)
}

// ReadFont reads raw font bytes through the cache's provider.
func (c *Cache) ReadFont(path string) ([]byte, error) {
	return c.provider.ReadFont(path)
}

// Len returns the number of cached fonts.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fonts)
}
