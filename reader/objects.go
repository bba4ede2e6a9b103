// Package reader parses existing PDF files into a read-only object model.
//
// Open and Parse resolve classic cross-reference tables, cross-reference
// streams and object streams, authenticate RC4-protected files and flatten
// the page tree. Pages expose the raw objects behind them so that compose
// can graft them into a new file. A Document is immutable once parsed and
// safe for concurrent reads.
package reader

import (
	"encoding/hex"
	"maps"
	"strconv"
)

// Object is a parsed PDF value. Only the types of this package implement it.
type Object interface {
	pdfObject()
	String() string
}

type (
	Null    struct{}
	Boolean bool
	Integer int64
	Real    float64
	Name    string

	// Array holds objects in order; references are left unresolved.
	Array []Object

	// Dict maps keys to objects; references are left unresolved.
	Dict map[Name]Object
)

// String is a literal or hexadecimal string. Value holds the bytes after
// escape processing and decryption.
type String struct {
	Value []byte
	IsHex bool
}

// Stream is a dictionary followed by data still encoded with the filters
// named in Dict.
type Stream struct {
	Dict Dict
	Data []byte
}

// Reference points at an indirect object.
type Reference struct {
	Number     int
	Generation int
}

// IndirectObject is a numbered object definition: "n g obj ... endobj".
type IndirectObject struct {
	Reference
	Value Object
}

func (Null) pdfObject()           {}
func (Boolean) pdfObject()        {}
func (Integer) pdfObject()        {}
func (Real) pdfObject()           {}
func (Name) pdfObject()           {}
func (String) pdfObject()         {}
func (Array) pdfObject()          {}
func (Dict) pdfObject()           {}
func (Stream) pdfObject()         {}
func (Reference) pdfObject()      {}
func (IndirectObject) pdfObject() {}

func (Null) String() string      { return "null" }
func (b Boolean) String() string { return strconv.FormatBool(bool(b)) }
func (i Integer) String() string { return strconv.FormatInt(int64(i), 10) }
func (r Real) String() string    { return strconv.FormatFloat(float64(r), 'g', -1, 64) }
func (n Name) String() string    { return "/" + string(n) }

func (s String) String() string {
	if s.IsHex {
		return "<" + hex.EncodeToString(s.Value) + ">"
	}
	return "(" + string(s.Value) + ")"
}

// Composite values print their size only.
func (a Array) String() string  { return "[" + strconv.Itoa(len(a)) + " items]" }
func (d Dict) String() string   { return "<<" + strconv.Itoa(len(d)) + " keys>>" }
func (s Stream) String() string { return "stream(" + strconv.Itoa(len(s.Data)) + " bytes)" }

func (r Reference) String() string {
	return strconv.Itoa(r.Number) + " " + strconv.Itoa(r.Generation) + " R"
}

func (o IndirectObject) String() string {
	return strconv.Itoa(o.Number) + " " + strconv.Itoa(o.Generation) + " obj " + o.Value.String()
}

// lookup returns d[key] when it has type T.
func lookup[T Object](d Dict, key Name) (T, bool) {
	v, ok := d[key].(T)
	return v, ok
}

// GetName returns the name stored under key, or "".
func (d Dict) GetName(key Name) Name {
	n, _ := lookup[Name](d, key)
	return n
}

// GetInt returns the number stored under key, truncating reals.
func (d Dict) GetInt(key Name) (int64, bool) {
	f, ok := Number(d[key])
	return int64(f), ok
}

// GetDict returns the direct dictionary stored under key, or nil.
func (d Dict) GetDict(key Name) Dict {
	sub, _ := lookup[Dict](d, key)
	return sub
}

// GetArray returns the direct array stored under key, or nil.
func (d Dict) GetArray(key Name) Array {
	arr, _ := lookup[Array](d, key)
	return arr
}

// GetString returns the text string stored under key, or "".
func (d Dict) GetString(key Name) string {
	if s, ok := lookup[String](d, key); ok {
		return decodePDFString(s.Value)
	}
	return ""
}

// Clone returns a shallow copy; cloning a nil Dict gives an empty one.
func (d Dict) Clone() Dict {
	cp := make(Dict, len(d))
	maps.Copy(cp, d)
	return cp
}

// Number returns the value of an Integer or Real.
func Number(obj Object) (float64, bool) {
	switch n := obj.(type) {
	case Integer:
		return float64(n), true
	case Real:
		return float64(n), true
	}
	return 0, false
}
