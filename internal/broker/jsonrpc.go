package broker

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0: https://www.jsonrpc.org/specification

const jsonrpcVersion = "2.0"

// Standard JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeServerError    = -32000
)

// request is one incoming JSON-RPC message. A nil ID marks a notification.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (r *request) isNotification() bool {
	return r.ID == nil
}

// response is one outgoing JSON-RPC message.
type response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

// rpcError is the JSON-RPC error object; Data carries the broker's
// structured error envelope.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

func newResponse(id, result any) *response {
	return &response{JSONRPC: jsonrpcVersion, ID: id, Result: result}
}

func newErrorResponse(id any, code int, message string, data any) *response {
	return &response{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error:   &rpcError{Code: code, Message: message, Data: data},
	}
}

// parseRequest validates framing and version.
func parseRequest(line []byte) (*request, *rpcError) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, &rpcError{Code: codeParseError, Message: "invalid JSON", Data: err.Error()}
	}
	if req.JSONRPC != jsonrpcVersion {
		return nil, &rpcError{Code: codeInvalidRequest, Message: fmt.Sprintf("unsupported jsonrpc version %q", req.JSONRPC)}
	}
	if req.Method == "" {
		return nil, &rpcError{Code: codeInvalidRequest, Message: "missing method"}
	}
	return &req, nil
}
