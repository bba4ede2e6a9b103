// Command pdfmark-mcp serves the watermark operations over the Model Context
// Protocol on stdin and stdout, so that an assistant can create overlays,
// watermark single files and run batches.
//
// Register it with an MCP client by command name:
//
//	{"mcpServers": {"pdfmark": {"command": "pdfmark-mcp"}}}
//
// Tools: create_watermark, apply_watermark, run_batch, read_pdf_text and
// pdf_info. Resources: pdf://text, pdf://metadata and pdf://pages, each
// taking a ?path= query parameter.
//
// Stdout carries protocol traffic only; logs go to stderr.
package main

import (
	"log"
	"os"

	"github.com/lvillar/pdfmark/mcp"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("pdfmark-mcp: ")

	server := mcp.NewServer()
	mcp.RegisterDefaultTools(server)
	mcp.RegisterDefaultResources(server)

	log.Printf("[INFO] serving on stdio")
	if err := server.Run(); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}
