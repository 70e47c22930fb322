package policy

import (
	"testing"
)

func TestParsePortSpec_Single(t *testing.T) {
	set, err := ParsePortSpec("443")
	if err != nil {
		t.Fatalf("ParsePortSpec() error = %v", err)
	}
	if len(set) != 1 || set[0].Lo != 443 || set[0].Hi != 443 {
		t.Errorf("set = %v, want [443-443]", set)
	}
}

func TestParsePortSpec_Mixed(t *testing.T) {
	set, err := ParsePortSpec("80,443,8000-9000")
	if err != nil {
		t.Fatalf("ParsePortSpec() error = %v", err)
	}
	want := PortSet{{80, 80}, {443, 443}, {8000, 9000}}
	if len(set) != len(want) {
		t.Fatalf("len(set) = %d, want %d (%v)", len(set), len(want), set)
	}
	for i := range want {
		if set[i] != want[i] {
			t.Errorf("set[%d] = %v, want %v", i, set[i], want[i])
		}
	}
}

func TestParsePortSpec_MergesOverlapsAndSorts(t *testing.T) {
	set, err := ParsePortSpec("9000-9999,80,81,100-200,150-250")
	if err != nil {
		t.Fatalf("ParsePortSpec() error = %v", err)
	}
	// 80,81 are adjacent, 100-200 and 150-250 overlap.
	want := PortSet{{80, 81}, {100, 250}, {9000, 9999}}
	if len(set) != len(want) {
		t.Fatalf("set = %v, want %v", set, want)
	}
	for i := range want {
		if set[i] != want[i] {
			t.Errorf("set[%d] = %v, want %v", i, set[i], want[i])
		}
	}
}

func TestParsePortSpec_Empty(t *testing.T) {
	set, err := ParsePortSpec("")
	if err != nil {
		t.Fatalf("ParsePortSpec(\"\") error = %v", err)
	}
	if set != nil {
		t.Errorf("set = %v, want nil", set)
	}
}

func TestParsePortSpec_Errors(t *testing.T) {
	cases := []string{
		"0",
		"65536",
		"9000-8000",
		"80,,443",
		"abc",
		"1-2-3",
		"-80",
	}
	for _, spec := range cases {
		if _, err := ParsePortSpec(spec); err == nil {
			t.Errorf("ParsePortSpec(%q) accepted, want error", spec)
		}
	}
}
