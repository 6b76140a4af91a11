package ids

import "testing"

func TestNewIsValid(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := New()
		if !Valid(id) {
			t.Fatalf("generated id failed validation: %s", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestValidRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"short",
		"01ARZ3NDEKTSV4RRFFQ69G5FA",    // 25 chars
		"01ARZ3NDEKTSV4RRFFQ69G5FAVX",  // 27 chars
		"01ARZ3NDEKTSV4RRFFQ69G5FA'",   // quote
		"01ARZ3NDEKTSV4RRFFQ69G5FA;",   // statement separator
		"01ARZ3NDEKTSV4RRFFQ69G5FAU\n", // trailing newline
	}
	for _, s := range bad {
		if Valid(s) {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
	if !Valid("01ARZ3NDEKTSV4RRFFQ69G5FAV") {
		t.Fatal("expected canonical ulid to validate")
	}
}
