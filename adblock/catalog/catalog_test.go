package catalog

import "testing"

func TestDefault_Order(t *testing.T) {
	c := Default()
	entries := c.Entries()
	if len(entries) != len(guardedSelectors)+len(markedSelectors) {
		t.Fatalf("Entries: got %d, want %d", len(entries), len(guardedSelectors)+len(markedSelectors))
	}
	if entries[0].Selector != ".ytp-ad-module" || !entries[0].Guarded {
		t.Errorf("Entries[0]: got %+v", entries[0])
	}
	last := entries[len(entries)-1]
	if last.Selector != "[data-ad-slot-id]" || last.Guarded {
		t.Errorf("last entry: got %+v, want unguarded [data-ad-slot-id]", last)
	}
}

func TestDefault_Validates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDefault_NoSubstringSelectors(t *testing.T) {
	for _, e := range Default().Entries() {
		if e.Selector == `[class*="ad"]` || e.Selector == `div[id*="ad"]` {
			t.Errorf("default catalog contains broad selector %q", e.Selector)
		}
	}
}

func TestWith_AppendsGuarded(t *testing.T) {
	base := Default()
	c := base.With(`div[id*="ad"]`, "  ", ".ytp-ad-module", `div[id*="ad"]`)

	entries := c.Entries()
	if len(entries) != len(base.Entries())+1 {
		t.Fatalf("With: got %d entries, want %d", len(entries), len(base.Entries())+1)
	}
	added := entries[len(entries)-1]
	if added.Selector != `div[id*="ad"]` || !added.Guarded {
		t.Errorf("added entry: got %+v", added)
	}
	if len(base.Entries()) == len(entries) {
		t.Error("With must not modify the receiver")
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		extra string
	}{
		{"unbalanced bracket", "div[data-x"},
		{"dangling combinator", "div >"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Default().With(tt.extra).Validate(); err == nil {
				t.Fatalf("Validate(%q): expected error", tt.extra)
			}
		})
	}
}

func TestIndicatorsAreCopies(t *testing.T) {
	c := Default()
	ind := c.Indicators()
	ind[0] = "mutated"
	if c.Indicators()[0] != ".ytp-ad-module" {
		t.Error("Indicators must return a copy")
	}
}
