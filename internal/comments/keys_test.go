package comments

import "testing"

func TestNormalizeKeyReplacesReservedCharacters(t *testing.T) {
	tests := []struct {
		resource string
		expected string
	}{
		{resource: "Demos/liver.scn", expected: "Demos_fwslash_liver_dot_scn"},
		{resource: `Demos\liver.scn`, expected: "Demos_slash_liver_dot_scn"},
		{resource: "a#b$c[d]e", expected: "a_hash_b_dollar_c_lbracket_d_rbracket_e"},
		{resource: "plain", expected: "plain"},
		{resource: "", expected: ""},
	}
	for _, tt := range tests {
		if actual := NormalizeKey(tt.resource); actual != tt.expected {
			t.Fatalf("NormalizeKey(%q): expected %q, got %q", tt.resource, tt.expected, actual)
		}
	}
}

func TestNormalizeKeyIsDeterministicAndValid(t *testing.T) {
	resources := []string{"Demos/liver.scn", `C:\sofa\examples\beam.py`, "x[0].$y#z", "trailing/"}
	for _, resource := range resources {
		first := NormalizeKey(resource)
		if second := NormalizeKey(resource); first != second {
			t.Fatalf("expected deterministic key for %q, got %q and %q", resource, first, second)
		}
		if !ValidKey(first) {
			t.Fatalf("normalized key %q for %q must be valid", first, resource)
		}
	}
}

func TestValidKey(t *testing.T) {
	if ValidKey("") || ValidKey("   ") {
		t.Fatalf("blank keys must be invalid")
	}
	if ValidKey("liver.scn") || ValidKey("a/b") {
		t.Fatalf("keys with reserved characters must be invalid")
	}
	if !ValidKey("liver_dot_scn") {
		t.Fatalf("expected normalized key to be valid")
	}
}
