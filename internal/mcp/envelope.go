// Package mcp is Weaver's query surface: an MCP server exposing the
// shadow cache, workflow engine, and rule engine as tools, grounded on
// the teacher pack's gh-aw MCP command (stdio by default, HTTP/SSE on
// --port) generalized from a CLI-wrapping server to one backed directly
// by Weaver's in-process components.
package mcp

import "time"

// Envelope is every tool response's shape, per spec.md §6: success,
// optional data or error, and metadata describing how the response was
// produced.
type Envelope struct {
	Success  bool     `json:"success"`
	Data     any      `json:"data,omitempty"`
	Error    string   `json:"error,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// Metadata reports the pipeline behavior that produced an Envelope:
// how long the call took, whether it was served from cache, and
// whether the encoded payload was gzip-compressed above the
// configured threshold.
type Metadata struct {
	ExecutionTimeMs int64 `json:"executionTime"`
	CacheHit        bool  `json:"cacheHit,omitempty"`
	Compressed      bool  `json:"compressed,omitempty"`
}

func successEnvelope(data any, elapsed time.Duration, cacheHit bool) Envelope {
	return Envelope{
		Success: true,
		Data:    data,
		Metadata: Metadata{
			ExecutionTimeMs: elapsed.Milliseconds(),
			CacheHit:        cacheHit,
		},
	}
}

func errorEnvelope(message string, elapsed time.Duration) Envelope {
	return Envelope{
		Success: false,
		Error:   message,
		Metadata: Metadata{
			ExecutionTimeMs: elapsed.Milliseconds(),
		},
	}
}
