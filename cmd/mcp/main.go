package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tazhate/tododav/config"
)

// JSON-RPC structures
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// MCP structures
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type InitializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      ServerInfo             `json:"serverInfo"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

type ToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// apiCall is the REST request a tool call translates to
type apiCall struct {
	method string
	path   string
	body   interface{}
}

// toolRoute binds a tool to the REST API
type toolRoute struct {
	tool  Tool
	route func(args map[string]interface{}) apiCall
}

var (
	idProperty       = Property{Type: "string", Description: "UID задачи или короткий код (ref) из списка"}
	contentsProperty = Property{Type: "string", Description: "Текст задачи"}
)

func schema(required []string, props map[string]Property) InputSchema {
	if props == nil {
		props = map[string]Property{}
	}
	return InputSchema{Type: "object", Properties: props, Required: required}
}

func todoPath(args map[string]interface{}) string {
	id, _ := args["id"].(string)
	return "/api/todos/" + url.PathEscape(id)
}

func contentsBody(args map[string]interface{}) interface{} {
	contents, _ := args["contents"].(string)
	return map[string]string{"contents": contents}
}

var routes = []toolRoute{
	{
		tool: Tool{
			Name:        "tododav_list_todos",
			Description: "Получить список задач: невыполненные с дедлайном в ближайшие дни.",
			InputSchema: schema(nil, map[string]Property{
				"completed": {Type: "boolean", Description: "Показать и выполненные задачи"},
			}),
		},
		route: func(args map[string]interface{}) apiCall {
			path := "/api/todos?all=true"
			if completed, _ := args["completed"].(bool); completed {
				path += "&completed=true"
			}
			return apiCall{method: http.MethodGet, path: path}
		},
	},
	{
		tool: Tool{
			Name:        "tododav_create_todo",
			Description: "Создать задачу в первом выбранном календаре. Дедлайн ставится на текущее время.",
			InputSchema: schema([]string{"contents"}, map[string]Property{"contents": contentsProperty}),
		},
		route: func(args map[string]interface{}) apiCall {
			return apiCall{method: http.MethodPost, path: "/api/todos", body: contentsBody(args)}
		},
	},
	{
		tool: Tool{
			Name:        "tododav_toggle_todo",
			Description: "Отметить задачу выполненной или вернуть в работу.",
			InputSchema: schema([]string{"id"}, map[string]Property{"id": idProperty}),
		},
		route: func(args map[string]interface{}) apiCall {
			return apiCall{method: http.MethodPost, path: todoPath(args) + "/toggle"}
		},
	},
	{
		tool: Tool{
			Name:        "tododav_edit_todo",
			Description: "Изменить текст задачи. Пустой текст удаляет задачу.",
			InputSchema: schema([]string{"id", "contents"}, map[string]Property{"id": idProperty, "contents": contentsProperty}),
		},
		route: func(args map[string]interface{}) apiCall {
			return apiCall{method: http.MethodPut, path: todoPath(args), body: contentsBody(args)}
		},
	},
	{
		tool: Tool{
			Name:        "tododav_delete_todo",
			Description: "Удалить задачу на сервере.",
			InputSchema: schema([]string{"id"}, map[string]Property{"id": idProperty}),
		},
		route: func(args map[string]interface{}) apiCall {
			return apiCall{method: http.MethodDelete, path: todoPath(args)}
		},
	},
	{
		tool: Tool{
			Name:        "tododav_refresh",
			Description: "Перечитать задачи с CalDAV-сервера.",
			InputSchema: schema(nil, nil),
		},
		route: func(map[string]interface{}) apiCall {
			return apiCall{method: http.MethodPost, path: "/api/refresh"}
		},
	},
	{
		tool: Tool{
			Name:        "tododav_list_calendars",
			Description: "Календари аккаунта, принимающие задачи, с отметкой выбранных.",
			InputSchema: schema(nil, nil),
		},
		route: func(map[string]interface{}) apiCall {
			return apiCall{method: http.MethodGet, path: "/api/calendars"}
		},
	},
}

// MCPServer exposes the REST API as MCP tools over stdio
type MCPServer struct {
	apiURL      string
	apiUsername string
	apiPassword string
	client      *http.Client
}

func NewMCPServer() *MCPServer {
	apiURL := os.Getenv("TODODAV_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	return &MCPServer{
		apiURL:      strings.TrimRight(apiURL, "/"),
		apiUsername: os.Getenv("TODODAV_API_USERNAME"),
		apiPassword: os.Getenv("TODODAV_API_PASSWORD"),
		client:      &http.Client{Timeout: 60 * time.Second},
	}
}

// Run serves newline-delimited JSON-RPC from in until EOF
func (s *MCPServer) Run(in io.Reader, out io.Writer) {
	reader := bufio.NewReader(in)
	enc := json.NewEncoder(out)

	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			s.serveLine(enc, line)
		}
		if err != nil {
			if err != io.EOF {
				log.Error("read request", "err", err)
			}
			return
		}
	}
}

func (s *MCPServer) serveLine(enc *json.Encoder, line string) {
	var req JSONRPCRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		log.Warn("parse request", "err", err)
		return
	}

	// Notifications get no response
	if req.ID == nil || strings.HasPrefix(req.Method, "notifications/") {
		log.Debug("notification", "method", req.Method)
		return
	}

	if err := enc.Encode(s.handleRequest(req)); err != nil {
		log.Error("write response", "err", err)
	}
}

func (s *MCPServer) handleRequest(req JSONRPCRequest) JSONRPCResponse {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = InitializeResult{
			ProtocolVersion: "2024-11-05",
			Capabilities:    map[string]interface{}{"tools": map[string]interface{}{}},
			ServerInfo:      ServerInfo{Name: "tododav-mcp", Version: "1.0.0"},
		}
	case "ping":
		resp.Result = map[string]interface{}{}
	case "tools/list":
		tools := make([]Tool, 0, len(routes))
		for _, r := range routes {
			tools = append(tools, r.tool)
		}
		resp.Result = ToolsListResult{Tools: tools}
	case "tools/call":
		var params ToolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &RPCError{Code: codeInvalidParams, Message: "Invalid params"}
			break
		}
		resp.Result = s.callTool(params)
	default:
		resp.Error = &RPCError{Code: codeMethodNotFound, Message: "Method not found"}
	}
	return resp
}

func (s *MCPServer) callTool(params ToolCallParams) ToolCallResult {
	for _, r := range routes {
		if r.tool.Name != params.Name {
			continue
		}
		call := r.route(params.Arguments)
		text, err := s.apiRequest(call)
		if err != nil {
			log.Warn("tool call failed", "tool", params.Name, "err", err)
			return textResult(err.Error(), true)
		}
		return textResult(text, false)
	}
	return textResult("Unknown tool: "+params.Name, true)
}

func textResult(text string, isError bool) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: isError}
}

// apiRequest performs call and returns the pretty-printed data of the
// API envelope
func (s *MCPServer) apiRequest(call apiCall) (string, error) {
	var reqBody io.Reader
	if call.body != nil {
		data, err := json.Marshal(call.body)
		if err != nil {
			return "", fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(call.method, s.apiURL+call.path, reqBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(s.apiUsername, s.apiPassword)
	if call.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request %s %s: %w", call.method, call.path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		if resp.StatusCode >= 400 {
			return "", fmt.Errorf("API status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		return string(respBody), nil
	}
	if !envelope.Success {
		return "", fmt.Errorf("API Error: %s", envelope.Error)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, envelope.Data, "", "  "); err != nil {
		return string(envelope.Data), nil
	}
	return pretty.String(), nil
}

func main() {
	// stdout carries the protocol
	config.SetupLogging(os.Stderr, os.Getenv("LOG_LEVEL"), "tododav-mcp")

	NewMCPServer().Run(os.Stdin, os.Stdout)
}
