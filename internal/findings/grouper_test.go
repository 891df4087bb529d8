package findings

import "testing"

func TestCanonical(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"border-top-color", "border-color"},
		{"BORDER-LEFT-COLOR", "border-color"},
		{"border-color", "border-color"},
		{"border-bottom-left-radius", "border-radius"},
		{"border-radius", "border-radius"},
		{"margin-top", "margin-top"},
		{"color", "color"},
	}
	for _, tt := range tests {
		if got := Canonical(tt.in); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGrouper_BorderSidesCollapse(t *testing.T) {
	g := NewGrouper()
	var admitted []Violation
	for _, p := range []string{"border-top-color", "border-right-color", "border-bottom-color", "border-left-color"} {
		v := Violation{Selector: "div.box", Property: p, Value: "#ff0000", Category: Colors}
		if g.Admit(&v) {
			admitted = append(admitted, v)
		}
	}

	if len(admitted) != 1 {
		t.Fatalf("admitted %d, want 1", len(admitted))
	}
	if admitted[0].Property != "border-color" || admitted[0].SourceProperty != "border-top-color" {
		t.Errorf("admitted = %+v", admitted[0])
	}
}

func TestGrouper_ValueIsPartOfKey(t *testing.T) {
	g := NewGrouper()
	values := []string{"1px", "2px", "3px", "4px", "5px"}
	props := []string{"border-radius", "border-top-left-radius", "border-top-right-radius", "border-bottom-right-radius", "border-bottom-left-radius"}

	n := 0
	for i, p := range props {
		v := Violation{Selector: "div", Property: p, Value: values[i], Category: Border}
		if g.Admit(&v) {
			n++
		}
	}
	if n != 5 {
		t.Errorf("admitted %d distinct radius values, want 5", n)
	}
}

func TestGrouper_UngroupedPropertiesKeepName(t *testing.T) {
	g := NewGrouper()
	v := Violation{Selector: "p", Property: "Margin-Top", Value: "4px"}
	if !g.Admit(&v) {
		t.Fatal("first violation must be admitted")
	}
	if v.Property != "margin-top" || v.SourceProperty != "" {
		t.Errorf("got %+v", v)
	}
	dup := Violation{Selector: "p", Property: "margin-top", Value: "4px"}
	if g.Admit(&dup) {
		t.Error("duplicate must be dropped")
	}
	other := Violation{Selector: "p.other", Property: "margin-top", Value: "4px"}
	if !g.Admit(&other) {
		t.Error("different selector must be admitted")
	}
	if len(g.seen) != 2 {
		t.Errorf("admitted %d keys, want 2", len(g.seen))
	}
}
