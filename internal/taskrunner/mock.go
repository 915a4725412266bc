package taskrunner

import (
	"context"
	"encoding/json"
	"fmt"
)

// MockRunner synthesizes a plausible Result without invoking any real
// provider, mirroring the predecessor's GOGO_MODE=MOCK client: it
// inspects the prompt and the requested output shape and returns
// something structurally valid rather than a fixed string, and streams
// it through OnOutput in fixed-size chunks when the caller wants
// streaming output.
type MockRunner struct {
	// ChunkSize controls the streamed chunk size; defaults to 24 bytes.
	ChunkSize int
	// Responses lets a test pin the mock output for a given agent ID
	// instead of the synthesized default.
	Responses map[string]string
}

// NewMockRunner returns a MockRunner with default settings.
func NewMockRunner() *MockRunner {
	return &MockRunner{ChunkSize: 24}
}

func (m *MockRunner) Run(ctx context.Context, prompt string, opts Options) (Result, error) {
	output := m.responseFor(prompt, opts)

	chunkSize := m.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 24
	}
	if opts.OnOutput != nil {
		for _, chunk := range splitIntoChunks(output, chunkSize) {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			default:
			}
			opts.OnOutput(chunk, opts.AgentID)
		}
	}

	return Result{Success: true, Output: output, TaskID: "mock-" + opts.AgentID}, nil
}

func (m *MockRunner) responseFor(prompt string, opts Options) string {
	if pinned, ok := m.Responses[opts.AgentID]; ok {
		return pinned
	}

	summary := fmt.Sprintf("mock completion for agent %s (%d chars of prompt)", opts.AgentID, len(prompt))

	switch opts.OutputFormat {
	case "json", "stream-json":
		return mockJSONResult(summary, opts.JSONSchema)
	default:
		return summary
	}
}

// mockJSONResult returns a minimal object satisfying the common
// {summary, result} shape; schema-aware generation is intentionally
// shallow since the mock exists to exercise plumbing, not validation.
func mockJSONResult(summary string, schema json.RawMessage) string {
	payload := map[string]interface{}{"summary": summary, "result": map[string]interface{}{"ok": true}}
	if len(schema) > 0 {
		var parsed struct {
			Required []string `json:"required"`
		}
		if err := json.Unmarshal(schema, &parsed); err == nil {
			for _, field := range parsed.Required {
				if _, exists := payload[field]; !exists {
					payload[field] = fmt.Sprintf("mock-%s", field)
				}
			}
		}
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func splitIntoChunks(s string, size int) []string {
	if s == "" {
		return nil
	}
	var chunks []string
	for len(s) > 0 {
		if len(s) <= size {
			chunks = append(chunks, s)
			break
		}
		chunks = append(chunks, s[:size])
		s = s[size:]
	}
	return chunks
}

var _ Runner = (*MockRunner)(nil)
