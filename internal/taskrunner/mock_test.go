package taskrunner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/swarmctl/swarmctl/internal/domain"
)

func TestMockRunnerReturnsSuccess(t *testing.T) {
	r := NewMockRunner()
	res, err := r.Run(context.Background(), "do the thing", Options{AgentID: "worker"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Success || res.Output == "" {
		t.Fatalf("expected a successful non-empty result, got %+v", res)
	}
}

func TestMockRunnerStreamsChunks(t *testing.T) {
	r := &MockRunner{ChunkSize: 4, Responses: map[string]string{"worker": "0123456789"}}

	var chunks []string
	res, err := r.Run(context.Background(), "prompt", Options{
		AgentID:  "worker",
		OnOutput: func(chunk, agentID string) { chunks = append(chunks, chunk) },
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Output != "0123456789" {
		t.Fatalf("expected pinned output, got %q", res.Output)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks of size 4, got %d: %v", len(chunks), chunks)
	}
	if chunks[0] != "0123" || chunks[2] != "89" {
		t.Fatalf("unexpected chunk contents: %v", chunks)
	}
}

func TestMockRunnerJSONOutputSatisfiesRequiredFields(t *testing.T) {
	r := NewMockRunner()
	schema := json.RawMessage(`{"type":"object","required":["summary","result","confidence"]}`)
	res, err := r.Run(context.Background(), "prompt", Options{
		AgentID:      "worker",
		OutputFormat: domain.OutputFormatJSON,
		JSONSchema:   schema,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(res.Output), &out); err != nil {
		t.Fatalf("expected valid JSON output, got %q: %v", res.Output, err)
	}
	for _, field := range []string{"summary", "result", "confidence"} {
		if _, ok := out[field]; !ok {
			t.Fatalf("expected field %q in mock output %v", field, out)
		}
	}
}

func TestMockRunnerRespectsCancellation(t *testing.T) {
	r := &MockRunner{ChunkSize: 1, Responses: map[string]string{"worker": "abcdef"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, "prompt", Options{
		AgentID:  "worker",
		OnOutput: func(chunk, agentID string) {},
	})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}
