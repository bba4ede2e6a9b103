package mcp

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/lvillar/pdfmark/reader"
)

// RegisterDefaultResources adds the pdf:// resources. Each takes the file
// to read as a path query parameter, e.g. pdf://text?path=/tmp/a.pdf.
func RegisterDefaultResources(s *Server) {
	s.AddResource(Resource{
		URI:         "pdf://text",
		Name:        "PDF Text Content",
		Description: "Text of every page of a PDF: pdf://text?path=/path/to/file.pdf",
		MIMEType:    "text/plain",
		Handler: documentResource("text/plain", func(doc *reader.Document) (string, error) {
			return documentText(doc, nil), nil
		}),
	})
	s.AddResource(Resource{
		URI:         "pdf://metadata",
		Name:        "PDF Metadata",
		Description: "Version, page count and Info dictionary of a PDF: pdf://metadata?path=/path/to/file.pdf",
		MIMEType:    "application/json",
		Handler: documentResource("application/json", jsonOf(func(doc *reader.Document) any {
			return map[string]any{
				"version":  doc.Version,
				"numPages": doc.NumPages(),
				"metadata": doc.Metadata(),
			}
		})),
	})
	s.AddResource(Resource{
		URI:         "pdf://pages",
		Name:        "PDF Page Info",
		Description: "Size, crop box and rotation of each page: pdf://pages?path=/path/to/file.pdf",
		MIMEType:    "application/json",
		Handler: documentResource("application/json", jsonOf(func(doc *reader.Document) any {
			return map[string]any{
				"numPages": doc.NumPages(),
				"pages":    pageGeometry(doc),
			}
		})),
	})
}

// documentResource opens the document named by the URI's path parameter and
// renders it with render.
func documentResource(mime string, render func(*reader.Document) (string, error)) ResourceHandler {
	return func(uri string) ([]ResourceContent, error) {
		path, err := pathParam(uri)
		if err != nil {
			return nil, err
		}
		doc, err := reader.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening PDF: %w", err)
		}
		text, err := render(doc)
		if err != nil {
			return nil, err
		}
		return []ResourceContent{{URI: uri, MIMEType: mime, Text: text}}, nil
	}
}

func jsonOf(view func(*reader.Document) any) func(*reader.Document) (string, error) {
	return func(doc *reader.Document) (string, error) {
		data, err := json.MarshalIndent(view(doc), "", "  ")
		return string(data), err
	}
}

// pathParam returns the path query parameter. Unescaped paths are accepted
// as long as they hold no '&'.
func pathParam(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("resource URI %q: %w", uri, err)
	}
	path := u.Query().Get("path")
	if path == "" {
		return "", fmt.Errorf("missing 'path' parameter in URI %q", uri)
	}
	return path, nil
}
