package domain

import (
	"encoding/json"
	"testing"
)

func TestNormalizeLabels_Strings(t *testing.T) {
	got := NormalizeLabels([]string{"Bug", "  AutoTest ", ""})
	want := []string{"bug", "autotest"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("label %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNormalizeLabels_Records(t *testing.T) {
	// Shape delivered by ticket-source JSON: label objects with name fields
	var raw any
	data := `[{"name":"Bug","color":"d73a4a"},{"name":"autocode"},"plain",42]`
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		t.Fatal(err)
	}

	got := NormalizeLabels(raw)
	want := []string{"bug", "autocode", "plain"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("label %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNormalizeLabels_Unsupported(t *testing.T) {
	if got := NormalizeLabels(42); got != nil {
		t.Errorf("got %v, want nil", got)
	}
	if got := NormalizeLabels(nil); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestHasLabel(t *testing.T) {
	labels := []string{"bug", "AutoTest"}
	if !HasLabel(labels, "autotest") {
		t.Error("expected case-insensitive match")
	}
	if HasLabel(labels, "feature") {
		t.Error("unexpected match")
	}
}
