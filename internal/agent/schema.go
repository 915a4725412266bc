package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/swarmctl/swarmctl/internal/domain"
)

// parseAndValidate implements spec §4.5 step 7: parse output as JSON
// (skipped for plain text agents), normalize enum fields, then validate
// against schema. A text-format agent's output is never parsed.
func (a *Agent) parseAndValidate(output string, schema json.RawMessage) (map[string]interface{}, *domain.CoordError) {
	if a.def.EffectiveOutputFormat() == domain.OutputFormatText {
		return nil, nil
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(output), &parsed); err != nil {
		return nil, domain.NewCoordError(domain.ErrKindParseError, "task output is not valid JSON", err)
	}

	normalizeEnums(parsed, schema)

	if err := validateSchema(parsed, schema); err != nil {
		return parsed, domain.NewCoordError(domain.ErrKindSchemaError, "task output failed schema validation", err)
	}
	return parsed, nil
}

type schemaDoc struct {
	Properties map[string]schemaProp `json:"properties"`
}

type schemaProp struct {
	Enum []string `json:"enum"`
}

// normalizeEnums lowercases-then-matches each enum-constrained field in
// parsed against its schema-declared options, case-insensitively, and
// collapses a pipe-joined list (e.g. "simple|complex") to its first
// valid option. Idempotent: re-running on an already-canonical value is
// a no-op (spec §8 round-trip property).
func normalizeEnums(parsed map[string]interface{}, schema json.RawMessage) {
	var doc schemaDoc
	if err := json.Unmarshal(schema, &doc); err != nil {
		return
	}
	for field, prop := range doc.Properties {
		if len(prop.Enum) == 0 {
			continue
		}
		raw, ok := parsed[field]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		parsed[field] = normalizeEnumValue(s, prop.Enum)
	}
}

func normalizeEnumValue(value string, allowed []string) string {
	for _, segment := range strings.Split(value, "|") {
		segment = strings.TrimSpace(segment)
		for _, opt := range allowed {
			if strings.EqualFold(segment, opt) {
				return opt
			}
		}
	}
	return value
}

// validateSchema validates parsed against schema, in the same
// loader/result shape the predecessor's config validator uses.
func validateSchema(parsed map[string]interface{}, schema json.RawMessage) error {
	schemaLoader := gojsonschema.NewBytesLoader(schema)
	documentLoader := gojsonschema.NewGoLoader(parsed)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validate output schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		errs = append(errs, schemaErr.String())
	}
	sort.Strings(errs)
	return fmt.Errorf("schema validation failed: %s", strings.Join(errs, "; "))
}
