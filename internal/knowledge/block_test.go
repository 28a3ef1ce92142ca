package knowledge

import (
	"encoding/json"
	"testing"
)

const completeBlock = `{
	"title": "Go generics",
	"summary": "A walkthrough of type parameters.",
	"key_insights": ["Constraints are interfaces"],
	"action_items": ["Evaluate generics for the cache layer"],
	"tags": ["go"],
	"priority": "Medium",
	"category": "Tech",
	"key_takeaway": "Use generics for containers, not everywhere."
}`

func TestValidateAcceptsCompleteBlock(t *testing.T) {
	if err := Validate([]byte(completeBlock)); err != nil {
		t.Fatalf("expected valid block, got %v", err)
	}
}

func TestValidateRejectsUnknownPriority(t *testing.T) {
	var value map[string]any
	_ = json.Unmarshal([]byte(completeBlock), &value)
	value["priority"] = "Urgent"
	encoded, _ := json.Marshal(value)
	if err := Validate(encoded); err == nil {
		t.Fatalf("expected priority outside High|Medium|Low to fail")
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	if err := Validate([]byte(`{"summary":"only"}`)); err == nil {
		t.Fatalf("expected missing fields to fail")
	}
}

func TestParseOrWrapKeepsObjects(t *testing.T) {
	got := ParseOrWrap(completeBlock)
	block, err := Decode(got)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if block.Title != "Go generics" || block.Priority != PriorityMedium {
		t.Fatalf("unexpected block %+v", block)
	}
}

func TestParseOrWrapWrapsPlainText(t *testing.T) {
	for _, raw := range []string{"not json at all", `["a","b"]`, `"quoted"`, ""} {
		got := ParseOrWrap(raw)
		var wrapped map[string]string
		if err := json.Unmarshal(got, &wrapped); err != nil {
			t.Fatalf("wrapped output is not an object for %q: %v", raw, err)
		}
		if wrapped["summary"] != raw {
			t.Fatalf("expected summary %q, got %q", raw, wrapped["summary"])
		}
	}
}

func TestParseOrWrapKeepsErrorStub(t *testing.T) {
	got := ParseOrWrap(`{ "error": "LLM processing failed" }`)
	var object map[string]string
	if err := json.Unmarshal(got, &object); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if object["error"] != "LLM processing failed" {
		t.Fatalf("expected stub to be stored as-is, got %v", object)
	}
}
