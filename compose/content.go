package compose

import "github.com/lvillar/pdfmark/reader"

// saveDepth scans a content stream for graphics state nesting. open is the
// number of q operators left open at the end. surplus is the number of Q
// operators that found no matching q; viewers ignore them, but each one
// pops a level the content did not push.
func saveDepth(data []byte) (open, surplus int) {
	for op := range reader.ContentOps(data) {
		switch op.Operator {
		case "q":
			open++
		case "Q":
			if open == 0 {
				surplus++
				continue
			}
			open--
		}
	}
	return open, surplus
}
