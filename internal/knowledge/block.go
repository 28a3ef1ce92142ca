package knowledge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Block is the structured summary the language model is asked to return.
type Block struct {
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	KeyInsights []string `json:"key_insights"`
	ActionItems []string `json:"action_items"`
	Tags        []string `json:"tags"`
	Priority    Priority `json:"priority"`
	Category    string   `json:"category"`
	KeyTakeaway string   `json:"key_takeaway"`
}

const blockSchema = `{
	"type": "object",
	"required": ["title", "summary", "key_insights", "action_items", "tags", "priority", "category", "key_takeaway"],
	"properties": {
		"title": {"type": "string"},
		"summary": {"type": "string"},
		"key_insights": {"type": "array", "items": {"type": "string"}},
		"action_items": {"type": "array", "items": {"type": "string"}},
		"tags": {"type": "array", "items": {"type": "string"}},
		"priority": {"enum": ["High", "Medium", "Low"]},
		"category": {"type": "string"},
		"key_takeaway": {"type": "string"}
	}
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("knowledge_block.json", strings.NewReader(blockSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("knowledge_block.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// Validate reports whether raw is a complete knowledge block.
func Validate(raw []byte) error {
	compiled, err := compiledSchema()
	if err != nil {
		return err
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("unmarshal block: %w", err)
	}
	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("block does not match schema: %w", err)
	}
	return nil
}

// ParseOrWrap returns the model output as a JSON object. Anything that is not
// a JSON object is wrapped as {"summary": raw} so a result is always stored.
func ParseOrWrap(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	var object map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &object); err == nil && object != nil {
		var compacted bytes.Buffer
		if err := json.Compact(&compacted, []byte(trimmed)); err == nil {
			return compacted.Bytes()
		}
	}
	wrapped, _ := json.Marshal(map[string]string{"summary": raw})
	return wrapped
}

// Decode parses raw into a Block. Missing fields stay zero valued.
func Decode(raw []byte) (Block, error) {
	var block Block
	if err := json.Unmarshal(raw, &block); err != nil {
		return Block{}, fmt.Errorf("decode block: %w", err)
	}
	return block, nil
}
