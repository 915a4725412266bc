package agent

import (
	"encoding/json"
	"testing"
)

func TestNormalizeEnumValueCollapsesToFirstValidSegment(t *testing.T) {
	allowed := []string{"simple", "complex"}

	cases := map[string]string{
		"simple":         "simple",
		"maybe|simple":   "simple",
		"bogus|complex":  "complex",
		"Complex":        "complex",
		"bogus|stillbad": "bogus|stillbad",
	}
	for value, want := range cases {
		if got := normalizeEnumValue(value, allowed); got != want {
			t.Errorf("normalizeEnumValue(%q) = %q, want %q", value, got, want)
		}
	}
}

func TestNormalizeEnumValueIsIdempotent(t *testing.T) {
	allowed := []string{"simple", "complex"}
	once := normalizeEnumValue("maybe|simple", allowed)
	twice := normalizeEnumValue(once, allowed)
	if once != twice {
		t.Fatalf("expected idempotent normalization, got %q then %q", once, twice)
	}
}

func TestNormalizeEnumsRewritesMatchingField(t *testing.T) {
	schema := json.RawMessage(`{"properties":{"complexity":{"enum":["simple","complex"]}}}`)
	parsed := map[string]interface{}{"complexity": "maybe|simple"}

	normalizeEnums(parsed, schema)

	if parsed["complexity"] != "simple" {
		t.Fatalf("expected complexity normalized to simple, got %v", parsed["complexity"])
	}
}

func TestNormalizeEnumsLeavesNonEnumFieldsAlone(t *testing.T) {
	schema := json.RawMessage(`{"properties":{"complexity":{"enum":["simple","complex"]}}}`)
	parsed := map[string]interface{}{"complexity": "maybe|simple", "notes": "keep me"}

	normalizeEnums(parsed, schema)

	if parsed["notes"] != "keep me" {
		t.Fatalf("expected non-enum field untouched, got %v", parsed["notes"])
	}
}
