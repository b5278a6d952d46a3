package main

import (
	"testing"

	"github.com/keggin-CHN/Magic-Mirror/internal/swap"
)

func TestParseRegion(t *testing.T) {
	r, err := parseRegion("10, 20,300,400")
	if err != nil {
		t.Fatalf("parseRegion: %v", err)
	}
	if r != (swap.Region{X: 10, Y: 20, W: 300, H: 400}) {
		t.Errorf("region = %+v", r)
	}

	for _, bad := range []string{"", "1,2,3", "1,2,3,4,5", "a,b,c,d"} {
		if _, err := parseRegion(bad); err == nil {
			t.Errorf("parseRegion(%q) should fail", bad)
		}
	}
}

func TestParseSources(t *testing.T) {
	sources, err := parseSources([]string{"alice=/tmp/alice.png", "bob=/tmp/bob.png"})
	if err != nil {
		t.Fatalf("parseSources: %v", err)
	}
	if sources["alice"] != "/tmp/alice.png" || sources["bob"] != "/tmp/bob.png" {
		t.Errorf("sources = %v", sources)
	}

	if _, err := parseSources([]string{"noequals"}); err == nil {
		t.Error("parseSources without = should fail")
	}
}

func TestParseBindings(t *testing.T) {
	bindings, err := parseBindings([]string{"alice=5,10,100,100"})
	if err != nil {
		t.Fatalf("parseBindings: %v", err)
	}
	if len(bindings) != 1 {
		t.Fatalf("bindings = %v", bindings)
	}
	want := swap.Binding{Region: swap.Region{X: 5, Y: 10, W: 100, H: 100}, SourceID: "alice"}
	if bindings[0] != want {
		t.Errorf("binding = %+v, want %+v", bindings[0], want)
	}

	if _, err := parseBindings([]string{"alice=1,2,3"}); err == nil {
		t.Error("parseBindings with a short rect should fail")
	}
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"swap-image", "swap-video", "detect"} {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}
