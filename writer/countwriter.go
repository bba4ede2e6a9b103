package writer

import "io"

type countWriter struct {
	w io.Writer
	n int64
}

func newCountWriter(w io.Writer) *countWriter {
	return &countWriter{w: w}
}

// Write implements io.Writer
func (cw *countWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n) // Write may be called many times per object
	return n, err
}

// BytesWritten returns the total number of bytes written
func (cw *countWriter) BytesWritten() int64 {
	return cw.n
}
