package reader

import (
	"bytes"
	"compress/lzw"
	"compress/zlib"
	"encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	tifflzw "golang.org/x/image/tiff/lzw"
)

// ErrUnsupportedFilter is returned when a stream uses a filter the reader
// cannot decode. The stream itself may still be valid.
var ErrUnsupportedFilter = errors.New("reader: unsupported filter")

// decoder undoes one filter. parms is the filter's /DecodeParms, or nil.
type decoder func(data []byte, parms Dict) ([]byte, error)

// decoders maps filter names, including the inline image abbreviations, to
// their implementation. Image-only filters (DCT, JPX, JBIG2, CCITT) are
// absent: their data is never interpreted.
var decoders = map[Name]decoder{
	"FlateDecode":     withPredictor(flateDecode),
	"Fl":              withPredictor(flateDecode),
	"LZWDecode":       withPredictor(lzwDecode),
	"LZW":             withPredictor(lzwDecode),
	"ASCIIHexDecode":  asciiHexDecode,
	"AHx":             asciiHexDecode,
	"ASCII85Decode":   ascii85Decode,
	"A85":             ascii85Decode,
	"RunLengthDecode": runLengthDecode,
	"RL":              runLengthDecode,
}

// DecodeStream applies the filter chain named in the stream dictionary and
// returns the decoded data. Unfiltered streams are returned as-is.
func DecodeStream(s Stream) ([]byte, error) {
	return decodeStream(s)
}

func decodeStream(s Stream) ([]byte, error) {
	var names []Name
	switch f := s.Dict["Filter"].(type) {
	case nil:
		return s.Data, nil
	case Name:
		names = []Name{f}
	case Array:
		for _, item := range f {
			n, ok := item.(Name)
			if !ok {
				return nil, fmt.Errorf("reader: filter array holds %T", item)
			}
			names = append(names, n)
		}
	default:
		return nil, fmt.Errorf("reader: /Filter is %T", f)
	}

	data := s.Data
	for i, name := range names {
		dec, ok := decoders[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, name)
		}
		var err error
		if data, err = dec(data, decodeParms(s.Dict, i)); err != nil {
			return nil, fmt.Errorf("reader: %s: %w", name, err)
		}
	}
	return data, nil
}

// decodeParms returns the /DecodeParms dictionary for the i-th filter, or nil.
func decodeParms(d Dict, i int) Dict {
	switch p := d["DecodeParms"].(type) {
	case Dict:
		return p
	case Array:
		if i < len(p) {
			pd, _ := p[i].(Dict)
			return pd
		}
	}
	return nil
}

// withPredictor runs dec and then reverses the predictor named in parms.
func withPredictor(dec decoder) decoder {
	return func(data []byte, parms Dict) ([]byte, error) {
		out, err := dec(data, parms)
		if err != nil || parms == nil {
			return out, err
		}
		return unpredict(out, parms)
	}
}

func flateDecode(data []byte, _ Dict) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readAllLenient(r)
}

// lzwDecode handles both code-width conventions: by default PDF switches
// code width one code early, like TIFF; /EarlyChange 0 selects the GIF
// convention.
func lzwDecode(data []byte, parms Dict) ([]byte, error) {
	var r io.ReadCloser
	if early, ok := parms.GetInt("EarlyChange"); ok && early == 0 {
		r = lzw.NewReader(bytes.NewReader(data), lzw.MSB, 8)
	} else {
		r = tifflzw.NewReader(bytes.NewReader(data), tifflzw.MSB, 8)
	}
	defer r.Close()
	return readAllLenient(r)
}

// readAllLenient keeps what was decoded before a truncated end; many writers
// omit the zlib checksum or the LZW end-of-data code.
func readAllLenient(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(r)
	if err != nil && !(errors.Is(err, io.ErrUnexpectedEOF) && len(out) > 0) {
		return nil, err
	}
	return out, nil
}

// asciiHexDecode decodes hex digit pairs up to the '>' end marker.
func asciiHexDecode(data []byte, _ Dict) ([]byte, error) {
	if end := bytes.IndexByte(data, '>'); end >= 0 {
		data = data[:end]
	}
	digits := make([]byte, 0, len(data))
	for _, c := range data {
		if !isSpace(c) {
			digits = append(digits, c)
		}
	}
	if len(digits)%2 != 0 {
		digits = append(digits, '0')
	}
	out := make([]byte, hex.DecodedLen(len(digits)))
	if _, err := hex.Decode(out, digits); err != nil {
		return nil, err
	}
	return out, nil
}

// ascii85Decode decodes base-85 data up to the "~>" end marker.
func ascii85Decode(data []byte, _ Dict) ([]byte, error) {
	if end := bytes.Index(data, []byte("~>")); end >= 0 {
		data = data[:end]
	}
	return io.ReadAll(ascii85.NewDecoder(bytes.NewReader(data)))
}

// runLengthDecode expands PackBits-style runs up to the 128 end marker.
func runLengthDecode(data []byte, _ Dict) ([]byte, error) {
	var out []byte
	for i := 0; i < len(data); {
		n := int(data[i])
		i++
		switch {
		case n == 128:
			return out, nil
		case n < 128:
			if i+n+1 > len(data) {
				return nil, fmt.Errorf("literal run of %d bytes truncated", n+1)
			}
			out = append(out, data[i:i+n+1]...)
			i += n + 1
		default:
			if i >= len(data) {
				return nil, fmt.Errorf("repeat run truncated")
			}
			out = append(out, bytes.Repeat(data[i:i+1], 257-n)...)
			i++
		}
	}
	return out, nil
}

// unpredict reverses PNG row predictors (Predictor >= 10), which PDF 1.5
// writers use for cross-reference streams. TIFF predictor 2 is rejected.
func unpredict(data []byte, parms Dict) ([]byte, error) {
	predictor, _ := parms.GetInt("Predictor")
	switch {
	case predictor <= 1:
		return data, nil
	case predictor < 10:
		return nil, fmt.Errorf("TIFF predictor %d not supported", predictor)
	}
	param := func(key Name, def int64) int64 {
		if v, ok := parms.GetInt(key); ok && v > 0 {
			return v
		}
		return def
	}
	colors, bpc, columns := param("Colors", 1), param("BitsPerComponent", 8), param("Columns", 1)
	bpp := int((colors*bpc + 7) / 8)
	rowLen := int((columns*colors*bpc + 7) / 8)

	out := make([]byte, 0, len(data))
	prev := make([]byte, rowLen)
	for pos := 0; pos+1+rowLen <= len(data); pos += rowLen + 1 {
		kind := data[pos]
		row := bytes.Clone(data[pos+1 : pos+1+rowLen])
		for i := range row {
			var left, upLeft byte
			if i >= bpp {
				left, upLeft = row[i-bpp], prev[i-bpp]
			}
			up := prev[i]
			switch kind {
			case 0:
			case 1:
				row[i] += left
			case 2:
				row[i] += up
			case 3:
				row[i] += byte((int(left) + int(up)) / 2)
			case 4:
				row[i] += paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("unknown PNG filter type %d", kind)
			}
		}
		out = append(out, row...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := absInt(p-int(a)), absInt(p-int(b)), absInt(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	}
	return c
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
