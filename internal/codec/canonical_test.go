package codec

import "testing"

func TestCanonicalSortsKeys(t *testing.T) {
	in := map[string]any{"z": 1, "a": 2, "m": 3}

	got, err := Canonical(in)
	if err != nil {
		t.Fatalf("Canonical failed: %v", err)
	}

	want := `{"a":2,"m":3,"z":1}`
	if got != want {
		t.Errorf("Canonical() = %q, want %q", got, want)
	}
}

func TestCanonicalNestedSorting(t *testing.T) {
	in := map[string]any{
		"outer": map[string]any{"z": 1, "a": 2},
		"arr":   []any{3, 1, 2},
	}

	got, err := Canonical(in)
	if err != nil {
		t.Fatalf("Canonical failed: %v", err)
	}

	want := `{"arr":[3,1,2],"outer":{"a":2,"z":1}}`
	if got != want {
		t.Errorf("Canonical() = %q, want %q", got, want)
	}
}

func TestCanonicalNullVsStringSentinels(t *testing.T) {
	in := map[string]any{"a": nil, "b": "null", "c": "undefined"}

	got, err := Canonical(in)
	if err != nil {
		t.Fatalf("Canonical failed: %v", err)
	}

	want := `{"a":null,"b":"null","c":"undefined"}`
	if got != want {
		t.Errorf("Canonical() = %q, want %q", got, want)
	}
}

func TestCanonicalIsStableAcrossRuns(t *testing.T) {
	in := map[string]any{"seq": 1, "type": "chat.user", "nested": map[string]any{"b": true, "a": false}}

	first, err := Canonical(in)
	if err != nil {
		t.Fatalf("Canonical failed: %v", err)
	}
	second, err := Canonical(in)
	if err != nil {
		t.Fatalf("Canonical failed: %v", err)
	}

	if first != second {
		t.Errorf("Canonical() not stable: %q vs %q", first, second)
	}

	if Hash(first) != Hash(second) {
		t.Errorf("Hash(Canonical()) not stable")
	}
}
