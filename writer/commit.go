package writer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ledongthuc/pdf"

	"github.com/lvillar/pdfmark"
)

type commitOptions struct {
	verifyPages int // < 0 disables verification
	perm        os.FileMode
}

// Option configures Commit.
type Option func(*commitOptions)

// WithVerify reopens the staged bytes with an independent parser before the
// rename and fails unless the document has exactly pages pages.
func WithVerify(pages int) Option {
	return func(o *commitOptions) { o.verifyPages = pages }
}

// WithPerm sets the permission bits of the committed file. Default 0644.
func WithPerm(perm os.FileMode) Option {
	return func(o *commitOptions) { o.perm = perm }
}

// Commit serializes src and atomically replaces the file at path with the
// result. The whole document is materialized in memory first, then staged to
// a temporary file in the destination directory, synced and renamed. On any
// failure the staged file is removed, the destination is left as it was, and
// the returned error is a *pdfmark.Error of kind ErrIO carrying path.
//
// Commit returns the number of bytes written to the destination.
func Commit(path string, src io.WriterTo, opts ...Option) (int64, error) {
	o := commitOptions{verifyPages: -1, perm: 0o644}
	for _, opt := range opts {
		opt(&o)
	}
	fail := func(err error) (int64, error) {
		return 0, pdfmark.NewError(pdfmark.ErrIO, "write", path, err)
	}

	var buf bytes.Buffer
	if _, err := src.WriteTo(&buf); err != nil {
		return fail(fmt.Errorf("serializing: %w", err))
	}
	data := buf.Bytes()

	if o.verifyPages >= 0 {
		if err := Verify(data, o.verifyPages); err != nil {
			return fail(err)
		}
	}

	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return fail(fmt.Errorf("staging: %w", err))
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	cw := newCountWriter(tmp)
	if _, err := cw.Write(data); err != nil {
		return fail(fmt.Errorf("staging: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("syncing: %w", err))
	}
	if err := tmp.Chmod(o.perm); err != nil {
		return fail(fmt.Errorf("chmod: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return fail(fmt.Errorf("closing: %w", err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fail(fmt.Errorf("renaming: %w", err))
	}
	committed = true
	return cw.BytesWritten(), nil
}

// Verify parses data with an independent PDF reader and checks its page
// count. The reader is known to panic on some malformed input; panics are
// reported as errors.
func Verify(data []byte, pages int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("verifying: parser panic: %v", r)
		}
	}()
	// The verifier only accepts 1.x headers; the body syntax is the same.
	if bytes.HasPrefix(data, []byte("%PDF-2.")) {
		data = append([]byte("%PDF-1.7"), data[len("%PDF-2.0"):]...)
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("verifying: %w", err)
	}
	if n := r.NumPage(); n != pages {
		return fmt.Errorf("verifying: got %d pages, want %d", n, pages)
	}
	return nil
}
