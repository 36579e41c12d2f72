// Package broker is the stdio front-end: newline-delimited JSON-RPC 2.0
// between the host and the tool registry. The output stream carries protocol
// messages and nothing else; every diagnostic goes to the file logger.
package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kaptinlin/jsonrepair"

	rcerrors "roughcut/internal/errors"
	"roughcut/internal/logging"
	"roughcut/internal/observability"
	"roughcut/internal/ports"
	"roughcut/internal/registry"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "roughcut-mcp"
	serverVersion   = "1.0.0"

	maxLineBytes = 4 << 20 // compositions arrive inline in tool arguments
)

// Server drives one host connection over in/out.
type Server struct {
	registry *registry.Registry
	metrics  *observability.MetricsCollector
	logger   logging.Logger

	in  io.Reader
	out io.Writer

	writeMu     sync.Mutex
	initialized bool
}

// NewServer creates a broker over the given streams (stdin/stdout in
// production, buffers in tests).
func NewServer(reg *registry.Registry, metrics *observability.MetricsCollector, logger logging.Logger, in io.Reader, out io.Writer) *Server {
	return &Server{
		registry: reg,
		metrics:  metrics,
		logger:   logging.OrNop(logger),
		in:       in,
		out:      out,
	}
}

// Run reads requests until EOF or context cancellation. Tool calls run
// inline: the host serializes its requests, so the broker does too.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		req, parseErr := parseRequest(line)
		if parseErr != nil {
			s.logger.Warn("rejected request: %s", parseErr.Message)
			s.write(&response{JSONRPC: jsonrpcVersion, Error: parseErr})
			continue
		}

		s.logger.Debug("request method=%s id=%v", req.Method, req.ID)
		resp := s.dispatch(ctx, req)
		if resp != nil && !req.isNotification() {
			s.write(resp)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read host channel: %w", err)
	}
	s.logger.Info("host channel closed")
	return nil
}

func (s *Server) dispatch(ctx context.Context, req *request) *response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		s.initialized = true
		s.logger.Info("host completed initialization")
		return nil
	case "ping":
		return newResponse(req.ID, map[string]any{})
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		if req.isNotification() {
			s.logger.Debug("ignoring notification %s", req.Method)
			return nil
		}
		return newErrorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

func (s *Server) handleInitialize(req *request) *response {
	return newResponse(req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": true},
		},
		"serverInfo": map[string]any{
			"name":    serverName,
			"version": serverVersion,
		},
	})
}

// handleToolsList returns exactly the active subset.
func (s *Server) handleToolsList(req *request) *response {
	defs := s.registry.Active()
	tools := make([]map[string]any, len(defs))
	for i, def := range defs {
		tools[i] = map[string]any{
			"name":        def.Name,
			"description": def.Description,
			"inputSchema": def.InputSchema,
		}
	}
	return newResponse(req.ID, map[string]any{"tools": tools})
}

// callParams is the tools/call parameter shape. Arguments tolerates both an
// object and a string of (possibly broken) JSON.
type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx context.Context, req *request) *response {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return newErrorResponse(req.ID, codeInvalidParams, "invalid tools/call params", err.Error())
	}
	if params.Name == "" {
		return newErrorResponse(req.ID, codeInvalidParams, "missing tool name", nil)
	}

	executor, ok := s.registry.Handler(params.Name)
	if !ok {
		return newErrorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("unknown tool %s", params.Name), nil)
	}

	arguments, err := s.decodeArguments(params.Arguments)
	if err != nil {
		return newErrorResponse(req.ID, codeInvalidParams,
			fmt.Sprintf("arguments for %s are not an object", params.Name), err.Error())
	}

	call := ports.ToolCall{
		ID:        fmt.Sprintf("%v", req.ID),
		Name:      params.Name,
		Arguments: arguments,
	}

	start := time.Now()
	result, err := executor.Execute(ctx, call)
	duration := time.Since(start)
	s.registry.RecordUse(params.Name)

	if err != nil {
		s.metrics.RecordToolExecution(ctx, params.Name, "error", duration)
		s.logger.Error("tool %s failed after %s: %v", params.Name, duration.Round(time.Millisecond), err)
		return newErrorResponse(req.ID, codeInternalError, err.Error(), errorEnvelope(err))
	}

	status := "ok"
	if result.Error != nil {
		status = "tool_error"
	}
	s.metrics.RecordToolExecution(ctx, params.Name, status, duration)
	s.logger.Info("tool %s completed in %s (%s)", params.Name, duration.Round(time.Millisecond), status)

	payload := map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": result.Content},
		},
		"isError": result.Error != nil,
	}
	if result.Error != nil {
		payload["_meta"] = errorEnvelope(result.Error)
	} else if len(result.Metadata) > 0 {
		payload["_meta"] = result.Metadata
	}
	return newResponse(req.ID, payload)
}

// decodeArguments parses the argument object, repairing malformed JSON the
// way hosts sometimes emit it (trailing commas, single quotes, stringified
// objects).
func (s *Server) decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var arguments map[string]any
	if err := json.Unmarshal(raw, &arguments); err == nil {
		return arguments, nil
	}

	// A string payload may wrap the real object.
	text := string(raw)
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		text = inner
	}

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil, fmt.Errorf("repair arguments: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &arguments); err != nil {
		return nil, fmt.Errorf("parse repaired arguments: %w", err)
	}
	s.logger.Warn("repaired malformed tool arguments (%d -> %d bytes)", len(raw), len(repaired))
	return arguments, nil
}

// errorEnvelope serializes a broker error for the host's details object.
func errorEnvelope(err error) map[string]any {
	var be *rcerrors.BrokerError
	if !errors.As(err, &be) {
		return map[string]any{"kind": "Internal", "message": err.Error()}
	}
	envelope := map[string]any{
		"kind":     string(be.Kind),
		"severity": string(be.Severity),
		"message":  be.Message,
	}
	if be.Component != "" {
		envelope["component"] = be.Component
	}
	if be.Operation != "" {
		envelope["operation"] = be.Operation
	}
	if len(be.Details) > 0 {
		envelope["details"] = be.Details
	}
	if len(be.Suggestions) > 0 {
		envelope["suggestions"] = be.Suggestions
	}
	return envelope
}

// write emits one protocol message. Serialized; this is the only writer to
// the host channel.
func (s *Server) write(resp *response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response: %v", err)
		return
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		s.logger.Error("write host channel: %v", err)
	}
}
