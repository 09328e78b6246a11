package jsonrepair

import "testing"

func TestRepairStripsMarkdownFence(t *testing.T) {
	raw := "```json\n{\"a\": 1}\n```"
	var out map[string]int
	if err := Unmarshal(raw, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["a"] != 1 {
		t.Fatalf("expected a=1, got %v", out)
	}
}

func TestRepairDropsTrailingComma(t *testing.T) {
	raw := `{"a": 1, "b": 2,}`
	var out map[string]int
	if err := Unmarshal(raw, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["a"] != 1 || out["b"] != 2 {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestRepairClosesTruncatedObject(t *testing.T) {
	raw := `{"tool_calls": [{"name": "search_web", "arguments": {"query": "go`
	repaired := Repair(raw)
	var out map[string]any
	if err := Unmarshal(repaired, &out); err != nil {
		t.Fatalf("unexpected error after repair: %v, repaired=%q", err, repaired)
	}
}

func TestRepairLeavesValidJSONUntouched(t *testing.T) {
	raw := `{"a":1}`
	if Repair(raw) != raw {
		t.Fatalf("expected valid JSON to pass through unchanged, got %q", Repair(raw))
	}
}
