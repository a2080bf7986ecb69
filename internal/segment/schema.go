package segment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// structuralSchemaJSON encodes spec.md §4.3's structural pre-filter: the
// bullet list of shape checks a segment must pass before any of the
// nine validator rules run.
const structuralSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["version", "seq", "timestamp", "nonce", "type", "payload", "prev_hash", "current_owner", "author", "signature"],
	"properties": {
		"version": {"type": "integer", "minimum": 1},
		"seq": {"type": "integer", "minimum": 1},
		"timestamp": {"type": "integer", "minimum": 0},
		"nonce": {"type": "string", "pattern": "^[0-9a-f]{32}$"},
		"type": {
			"type": "string",
			"enum": ["chat.user", "ai.advice", "biz.decision", "biz.outcome", "capsule.mint", "tvm.transfer", "chat.append-legacy"]
		},
		"payload": {"type": "object"},
		"prev_hash": {"type": "string", "minLength": 1},
		"current_owner": {"type": "string", "pattern": "^HID-"},
		"author": {
			"type": "object",
			"required": ["hid", "pubkey"],
			"properties": {
				"hid": {"type": "string", "pattern": "^HID-"},
				"pubkey": {"type": "object"}
			}
		},
		"signature": {"type": "string", "minLength": 1}
	}
}`

var (
	structuralSchemaOnce sync.Once
	structuralSchema     *jsonschema.Schema
	structuralSchemaErr  error
)

func compiledStructuralSchema() (*jsonschema.Schema, error) {
	structuralSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		const resourceName = "balancechain-segment-v2.schema.json"
		if err := compiler.AddResource(resourceName, bytes.NewReader([]byte(structuralSchemaJSON))); err != nil {
			structuralSchemaErr = fmt.Errorf("segment: add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile(resourceName)
		if err != nil {
			structuralSchemaErr = fmt.Errorf("segment: compile schema: %w", err)
			return
		}
		structuralSchema = schema
	})
	return structuralSchema, structuralSchemaErr
}

// ErrStructural wraps a structural schema validation failure; it carries
// the underlying jsonschema.ValidationError for detail but callers should
// treat any non-nil error as spec.md's reason code "invalid_structure".
type ErrStructural struct {
	Err error
}

func (e *ErrStructural) Error() string { return fmt.Sprintf("invalid_structure: %v", e.Err) }
func (e *ErrStructural) Unwrap() error { return e.Err }

// ValidateStructure runs the JSON-Schema structural pre-filter against a
// segment's wire encoding, ahead of the full nine-rule validator.
func ValidateStructure(s *Segment) error {
	schema, err := compiledStructuralSchema()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("segment: marshal for structural check: %w", err)
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("segment: unmarshal for structural check: %w", err)
	}

	if err := schema.Validate(instance); err != nil {
		return &ErrStructural{Err: err}
	}
	return nil
}
