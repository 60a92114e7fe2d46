package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ToolResultType tags the outcome of a tool invocation.
type ToolResultType string

const (
	ToolResultSuccess  ToolResultType = "success"
	ToolResultFailure  ToolResultType = "failure"
	ToolResultRejected ToolResultType = "rejected"
	ToolResultDenied   ToolResultType = "denied"
)

// ToolResult is the structured outcome of a tool invocation as reported back
// to the agent.
type ToolResult struct {
	TextResultForLLM string         `json:"textResultForLlm"`
	ResultType       ToolResultType `json:"resultType"`
	Error            string         `json:"error,omitempty"`
	SessionLog       string         `json:"sessionLog,omitempty"`
	ToolTelemetry    map[string]any `json:"toolTelemetry"`
}

// SuccessResult builds a success ToolResult with the given text.
func SuccessResult(text string) *ToolResult {
	return &ToolResult{TextResultForLLM: text, ResultType: ToolResultSuccess, ToolTelemetry: map[string]any{}}
}

// FailureResult builds a failure ToolResult with the given text and error
// detail.
func FailureResult(text, errMsg string) *ToolResult {
	return &ToolResult{TextResultForLLM: text, ResultType: ToolResultFailure, Error: errMsg, ToolTelemetry: map[string]any{}}
}

// RejectedResult builds a ToolResult indicating the invocation was rejected.
func RejectedResult(text string) *ToolResult {
	return &ToolResult{TextResultForLLM: text, ResultType: ToolResultRejected, ToolTelemetry: map[string]any{}}
}

// DeniedResult builds a ToolResult indicating permission was denied.
func DeniedResult(text string) *ToolResult {
	return &ToolResult{TextResultForLLM: text, ResultType: ToolResultDenied, ToolTelemetry: map[string]any{}}
}

// normalized fills defaults so every result serializes with a type tag and an
// object-valued toolTelemetry.
func (r ToolResult) normalized() *ToolResult {
	if r.ResultType == "" {
		r.ResultType = ToolResultSuccess
	}
	if r.ToolTelemetry == nil {
		r.ToolTelemetry = map[string]any{}
	}
	return &r
}

// ToolInvocation carries the wire parameters of an agent-initiated tool call.
type ToolInvocation struct {
	SessionID  string          `json:"sessionId"`
	ToolCallID string          `json:"toolCallId"`
	Name       string          `json:"toolName"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
}

// ToolHandler executes a tool invocation. The returned value is normalized:
// a *ToolResult passes through, a string becomes a success result, nil
// becomes a failure, and anything else is JSON-serialized into a success
// result. Errors and panics surface to the agent as failure results.
type ToolHandler func(ctx context.Context, inv *ToolInvocation) (any, error)

// Tool pairs a tool descriptor with its handler. Parameters is a JSON Schema
// for the tool's arguments.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     ToolHandler
}

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	allowAdditionalProperties bool // default false (strict)
}

// WithToolAllowAdditionalProperties controls whether unknown argument fields
// are allowed. When false (default), the generated schema sets
// additionalProperties=false and decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool builds a Tool from a typed args struct. The parameter schema is
// reflected from Args, and incoming arguments are decoded into Args before
// the handler runs.
func NewTool[Args any](name, description string, fn func(ctx context.Context, args Args, inv *ToolInvocation) (any, error), opts ...ToolOption) Tool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	return Tool{
		Name:        name,
		Description: description,
		Parameters:  reflectParameters[Args](cfg.allowAdditionalProperties),
		Handler: func(ctx context.Context, inv *ToolInvocation) (any, error) {
			var args Args
			if len(inv.Arguments) > 0 {
				if cfg.allowAdditionalProperties {
					if err := json.Unmarshal(inv.Arguments, &args); err != nil {
						return nil, fmt.Errorf("invalid arguments: %w", err)
					}
				} else {
					dec := json.NewDecoder(bytes.NewReader(inv.Arguments))
					dec.DisallowUnknownFields()
					if err := dec.Decode(&args); err != nil {
						return nil, fmt.Errorf("invalid arguments: %w", err)
					}
				}
			}
			return fn(ctx, args, inv)
		},
	}
}

// reflectParameters reflects a JSON Schema from Args for the session-create
// tool descriptor.
func reflectParameters[Args any](allowAdditional bool) map[string]any {
	r := &jsonschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(Args))

	b, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(m, "$schema")
	return m
}

// normalizeToolResult maps a handler's return value onto the wire result
// shape.
func normalizeToolResult(v any) *ToolResult {
	switch r := v.(type) {
	case nil:
		return &ToolResult{
			TextResultForLLM: "Tool returned no result",
			ResultType:       ToolResultFailure,
			Error:            "tool returned no result",
			ToolTelemetry:    map[string]any{},
		}
	case *ToolResult:
		if r == nil {
			return normalizeToolResult(nil)
		}
		return r.normalized()
	case ToolResult:
		return r.normalized()
	case string:
		return &ToolResult{TextResultForLLM: r, ResultType: ToolResultSuccess, ToolTelemetry: map[string]any{}}
	case map[string]any:
		if _, ok := r["textResultForLlm"]; ok {
			if b, err := json.Marshal(r); err == nil {
				var tr ToolResult
				if err := json.Unmarshal(b, &tr); err == nil {
					return tr.normalized()
				}
			}
		}
		return marshaledResult(r)
	default:
		return marshaledResult(v)
	}
}

func marshaledResult(v any) *ToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return &ToolResult{
			TextResultForLLM: "Invoking this tool produced an error. Detailed information is not available.",
			ResultType:       ToolResultFailure,
			Error:            fmt.Sprintf("tool result not serializable: %v", err),
			ToolTelemetry:    map[string]any{},
		}
	}
	return &ToolResult{TextResultForLLM: string(b), ResultType: ToolResultSuccess, ToolTelemetry: map[string]any{}}
}
