package models

import "testing"

func TestParseSplit(t *testing.T) {
	cases := map[string]Split{
		"train":  SplitTrain,
		" Test ": SplitTest,
		"eval":   SplitTest,
		"":       SplitUnassigned,
		"other":  SplitUnassigned,
	}
	for in, want := range cases {
		if got := ParseSplit(in); got != want {
			t.Errorf("ParseSplit(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWithMetadata_DoesNotMutateOriginal(t *testing.T) {
	orig := Record{SourceID: "docs", Metadata: map[string]any{"a": 1}}
	cp := orig.WithMetadata("still", true)

	if _, ok := orig.Metadata["still"]; ok {
		t.Error("original metadata was mutated")
	}
	if cp.Metadata["still"] != true || cp.Metadata["a"] != 1 {
		t.Errorf("copy metadata = %v", cp.Metadata)
	}
}

func TestIsPlaceholder(t *testing.T) {
	if !IsPlaceholder(PlaceholderDescription + " - Example demonstrating Foo") {
		t.Error("expected placeholder")
	}
	if IsPlaceholder("Display a green dot") {
		t.Error("real description reported as placeholder")
	}
}

func TestRef(t *testing.T) {
	r := Record{SourceID: "bench", Ordinal: 7}
	if r.Ref() != "bench#7" {
		t.Errorf("ref = %q", r.Ref())
	}
}
