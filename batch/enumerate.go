package batch

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/lvillar/pdfmark"
)

// Enumerate returns the inputs named by path: the *.pdf files of a directory
// in lexical order (not recursing), or path itself when it is a file.
func Enumerate(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, pdfmark.NewError(pdfmark.ErrIO, "enumerate", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, pdfmark.NewError(pdfmark.ErrIO, "enumerate", path, err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	return files, nil
}
