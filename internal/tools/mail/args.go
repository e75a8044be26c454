package mail

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jaakkos/agentmail/internal/domain"
)

// requireString extracts a non-empty string from args by key. The error
// carries the INVALID_ARGUMENT code so clients see "CODE: message".
func requireString(args map[string]any, key string) (string, error) {
	v, _ := args[key].(string)
	if v == "" {
		return "", domain.Errorf(domain.ErrInvalidArgument, "%s is required", key)
	}
	return v, nil
}

// optionalString extracts a string from args by key, empty when absent.
func optionalString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// requireBool extracts a bool from args by key, rejecting absent or
// non-boolean values.
func requireBool(args map[string]any, key string) (bool, error) {
	v, exists := args[key]
	if !exists || v == nil {
		return false, domain.Errorf(domain.ErrInvalidArgument, "%s is required", key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, domain.Errorf(domain.ErrInvalidArgument, "%s must be a boolean, got %T", key, v)
	}
	return b, nil
}

// optionalBool extracts a bool from args by key, returning the fallback if not present.
func optionalBool(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

// optionalInt extracts a number from args by key (JSON numbers decode as
// float64), returning the fallback if not present.
func optionalInt(args map[string]any, key string, fallback int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return fallback
}

// stringList extracts an array-of-strings from args by key. A missing key
// yields nil; a non-string element is an INVALID_ARGUMENT error.
func stringList(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key].([]any)
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, domain.Errorf(domain.ErrInvalidArgument, "%s must be an array of strings, got %T", key, item)
		}
		out = append(out, s)
	}
	return out, nil
}

// jsonResult renders v as an indented JSON text result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
