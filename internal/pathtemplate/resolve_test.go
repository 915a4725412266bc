package pathtemplate

import "testing"

func TestResolveSimplePath(t *testing.T) {
	data := map[string]interface{}{"result": map[string]interface{}{"summary": "done"}}
	got, err := Resolve("status: {{result.summary}}", data)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "status: done" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestResolveUnknownPathIsError(t *testing.T) {
	data := map[string]interface{}{"result": map[string]interface{}{}}
	if _, err := Resolve("{{result.missing}}", data); err == nil {
		t.Fatalf("expected error for unknown path")
	}
}

func TestResolveArrayIndex(t *testing.T) {
	data := map[string]interface{}{"result": map[string]interface{}{"errors": []interface{}{"A", "B"}}}
	got, err := Resolve("{{result.errors.1}}", data)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "B" {
		t.Fatalf("unexpected output: %q", got)
	}
}
