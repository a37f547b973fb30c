// Package validate is the pre-write gate every save and update passes through
// before it reaches the local store or the write queue.
package validate

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
	"github.com/marcus/riff/internal/models"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ValidationError reports a malformed record. It is caller-visible and never queued or retried.
type ValidationError struct {
	Type   models.RecordType
	ID     string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("invalid %s %s: %s", e.Type, e.ID, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Type, e.Reason)
}

// IsValidationError reports whether err is (or wraps) a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validator checks a record and returns its validated form.
type Validator interface {
	Validate(rec models.Record) (models.Record, error)
}

// SchemaValidator validates payloads against the embedded per-type JSON schemas.
type SchemaValidator struct {
	once    sync.Once
	schemas map[models.RecordType]*jsonschema.Schema
	err     error
}

// NewSchemaValidator returns a validator backed by the embedded schemas.
// Schemas are compiled on first use.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{}
}

func (v *SchemaValidator) load() error {
	v.once.Do(func() {
		v.schemas = make(map[models.RecordType]*jsonschema.Schema)
		for _, t := range models.AllRecordTypes() {
			data, err := schemaFS.ReadFile("schemas/" + string(t) + ".json")
			if err != nil {
				v.err = fmt.Errorf("read %s schema: %w", t, err)
				return
			}
			compiler := jsonschema.NewCompiler()
			compiler.AssertFormat = true
			schema, err := compiler.Compile(data)
			if err != nil {
				v.err = fmt.Errorf("compile %s schema: %w", t, err)
				return
			}
			v.schemas[t] = schema
		}
	})
	return v.err
}

// Validate checks identity fields and the payload schema. Tombstones carry no
// payload and only need a valid identity. The returned record has a compacted payload.
func (v *SchemaValidator) Validate(rec models.Record) (models.Record, error) {
	if !rec.Type.Valid() {
		return rec, &ValidationError{Type: rec.Type, ID: rec.ID, Reason: "unknown record type"}
	}
	if rec.Type == models.TypeSettings && rec.ID != "" && rec.ID != models.SettingsID {
		return rec, &ValidationError{Type: rec.Type, ID: rec.ID, Reason: "settings id must be " + models.SettingsID}
	}
	if strings.ContainsAny(rec.ID, "/?#") {
		return rec, &ValidationError{Type: rec.Type, ID: rec.ID, Reason: "id contains reserved characters"}
	}
	if rec.Deleted {
		return rec, nil
	}
	if len(bytes.TrimSpace(rec.Payload)) == 0 {
		return rec, &ValidationError{Type: rec.Type, ID: rec.ID, Reason: "payload is empty"}
	}
	if !json.Valid(rec.Payload) {
		return rec, &ValidationError{Type: rec.Type, ID: rec.ID, Reason: "payload is not valid json"}
	}
	if err := v.load(); err != nil {
		return rec, err
	}

	result := v.schemas[rec.Type].ValidateJSON(rec.Payload)
	if !result.IsValid() {
		return rec, &ValidationError{Type: rec.Type, ID: rec.ID, Reason: describe(result.Errors)}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, rec.Payload); err != nil {
		return rec, &ValidationError{Type: rec.Type, ID: rec.ID, Reason: err.Error()}
	}
	out := rec.Clone()
	out.Payload = buf.Bytes()
	return out, nil
}

// describe flattens schema evaluation errors into one stable, human-readable reason.
func describe[E any](errs map[string]E) string {
	if len(errs) == 0 {
		return "schema validation failed"
	}
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, errs[k]))
	}
	return strings.Join(parts, "; ")
}

// Func adapts a function to the Validator interface.
type Func func(rec models.Record) (models.Record, error)

// Validate calls f(rec).
func (f Func) Validate(rec models.Record) (models.Record, error) {
	return f(rec)
}
