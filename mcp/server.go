// Package mcp implements a Model Context Protocol (MCP) server that exposes
// the watermark operations as tools and resources for AI assistants.
//
// The server speaks newline-delimited JSON-RPC 2.0 over stdio, following
// the 2024-11-05 revision of MCP for tools and resources.
//
// # Usage with Claude Desktop
//
// Add to your claude_desktop_config.json:
//
//	{
//	  "mcpServers": {
//	    "pdfmark": {
//	      "command": "pdfmark-mcp"
//	    }
//	  }
//	}
package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/lvillar/pdfmark"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "pdfmark-mcp"
	serverVersion   = "1.0.0"

	maxMessageSize = 10 << 20
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Server is an MCP server that handles JSON-RPC 2.0 messages over stdio.
type Server struct {
	tools     map[string]Tool
	resources map[string]Resource
	input     io.Reader
	output    io.Writer
	logger    *log.Logger
	mu        sync.Mutex
}

// Tool defines an MCP tool that can be called by the client.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
	Handler     ToolHandler    `json:"-"`
}

// ToolHandler executes a tool with the arguments sent by the client.
// A returned error is reported to the client as a failed tool result.
type ToolHandler func(args map[string]any) (ToolResult, error)

// ToolResult is the result returned by a tool execution.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is a piece of content in a tool result.
type ContentBlock struct {
	Type     string `json:"type"` // "text" or "resource"
	Text     string `json:"text,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"` // base64
}

// Resource defines an MCP resource. URI is matched without its query.
type Resource struct {
	URI         string          `json:"uri"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	MIMEType    string          `json:"mimeType,omitempty"`
	Handler     ResourceHandler `json:"-"`
}

// ResourceHandler reads a resource and returns its content.
type ResourceHandler func(uri string) ([]ResourceContent, error)

// ResourceContent is the content of a read resource.
type ResourceContent struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"` // base64
}

type jsonrpcRequest struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method"`
	Params  json.RawMessage  `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id"`
	Result  any              `json:"result,omitempty"`
	Error   *jsonrpcError    `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func rpcError(code int, msg string, data any) *jsonrpcError {
	return &jsonrpcError{Code: code, Message: msg, Data: data}
}

type method func(s *Server, params json.RawMessage) (any, *jsonrpcError)

var methods = map[string]method{
	"initialize":     (*Server).initialize,
	"ping":           func(*Server, json.RawMessage) (any, *jsonrpcError) { return struct{}{}, nil },
	"tools/list":     (*Server).listTools,
	"tools/call":     (*Server).callTool,
	"resources/list": (*Server).listResources,
	"resources/read": (*Server).readResource,
}

// NewServer creates a server reading from stdin and writing to stdout.
// Diagnostics go to stderr.
func NewServer() *Server {
	return NewServerWithIO(os.Stdin, os.Stdout)
}

// NewServerWithIO creates a server with custom I/O, mainly for tests.
func NewServerWithIO(in io.Reader, out io.Writer) *Server {
	return &Server{
		tools:     make(map[string]Tool),
		resources: make(map[string]Resource),
		input:     in,
		output:    out,
		logger:    log.New(os.Stderr, serverName+": ", log.LstdFlags),
	}
}

// AddTool registers a tool, replacing any tool of the same name.
func (s *Server) AddTool(t Tool) {
	s.tools[t.Name] = t
}

// AddResource registers a resource, replacing any resource with the same URI.
func (s *Server) AddResource(r Resource) {
	s.resources[r.URI] = r
}

// Run processes messages until the input is exhausted.
func (s *Server) Run() error {
	sc := bufio.NewScanner(s.input)
	sc.Buffer(make([]byte, 0, 64<<10), maxMessageSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var req jsonrpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.reply(nil, nil, rpcError(codeParseError, "Parse error", err.Error()))
			continue
		}
		s.dispatch(req)
	}
	return sc.Err()
}

func (s *Server) dispatch(req jsonrpcRequest) {
	m, ok := methods[req.Method]
	if !ok {
		// Notifications such as "notifications/initialized" get no reply.
		if req.ID != nil {
			s.reply(req.ID, nil, rpcError(codeMethodNotFound, "Method not found", req.Method))
		}
		return
	}
	result, rerr := m(s, req.Params)
	if req.ID == nil && rerr == nil {
		return
	}
	s.reply(req.ID, result, rerr)
}

func (s *Server) initialize(json.RawMessage) (any, *jsonrpcError) {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    serverName,
			"version": serverVersion,
		},
	}, nil
}

func (s *Server) listTools(json.RawMessage) (any, *jsonrpcError) {
	tools := make([]Tool, 0, len(s.tools))
	for _, name := range slices.Sorted(maps.Keys(s.tools)) {
		tools = append(tools, s.tools[name])
	}
	return map[string]any{"tools": tools}, nil
}

func (s *Server) callTool(params json.RawMessage) (any, *jsonrpcError) {
	var p struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcError(codeInvalidParams, "Invalid params", err.Error())
	}
	tool, ok := s.tools[p.Name]
	if !ok {
		return nil, rpcError(codeInvalidParams, "Unknown tool", p.Name)
	}

	res, err := tool.Handler(p.Arguments)
	if err != nil {
		s.logger.Printf("[ERROR] tool %s: %v", p.Name, err)
		return toolError(err), nil
	}
	return res, nil
}

// toolError reports a failed tool call, prefixed with the error kind when
// the failure is one of the pdfmark error kinds.
func toolError(err error) ToolResult {
	msg := "Error: " + err.Error()
	if kind := pdfmark.KindOf(err); kind != nil && !strings.Contains(msg, kind.Error()) {
		msg = fmt.Sprintf("Error (%v): %v", kind, err)
	}
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: msg}}, IsError: true}
}

func (s *Server) listResources(json.RawMessage) (any, *jsonrpcError) {
	resources := make([]Resource, 0, len(s.resources))
	for _, uri := range slices.Sorted(maps.Keys(s.resources)) {
		resources = append(resources, s.resources[uri])
	}
	return map[string]any{"resources": resources}, nil
}

func (s *Server) readResource(params json.RawMessage) (any, *jsonrpcError) {
	var p struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcError(codeInvalidParams, "Invalid params", err.Error())
	}
	base, _, _ := strings.Cut(p.URI, "?")
	r, ok := s.resources[base]
	if !ok {
		return nil, rpcError(codeInvalidParams, "Unknown resource", p.URI)
	}
	contents, err := r.Handler(p.URI)
	if err != nil {
		s.logger.Printf("[ERROR] resource %s: %v", p.URI, err)
		return nil, rpcError(codeInternalError, "Resource error", err.Error())
	}
	return map[string]any{"contents": contents}, nil
}

func (s *Server) reply(id *json.RawMessage, result any, rerr *jsonrpcError) {
	resp := jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result, Error: rerr}
	if rerr != nil {
		resp.Result = nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Printf("[ERROR] encoding response: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.output.Write(append(data, '\n')); err != nil {
		s.logger.Printf("[ERROR] writing response: %v", err)
	}
}
