package nft

import (
	"strings"
	"testing"
)

func TestTagRoundTrip(t *testing.T) {
	key := strings.Repeat("ab", 32)
	tag := BuildTag(key, 131071)

	gotKey, gotWeight, ok := ParseTag(tag)
	if !ok {
		t.Fatalf("ParseTag(%q) not ok", tag)
	}
	if gotKey != key || gotWeight != 131071 {
		t.Errorf("ParseTag() = (%q, %d), want (%q, 131071)", gotKey, gotWeight, key)
	}
}

func TestParseTag_RejectsForeignUserdata(t *testing.T) {
	key := strings.Repeat("0", 64)
	cases := []string{
		"",
		"something else entirely",
		"rampart:k=short:w=1",
		"rampart:k=" + strings.Repeat("G", 64) + ":w=1", // not hex
		"rampart:k=" + key,                              // missing weight
		"rampart:k=" + key + ":w=",                      // empty weight
		"rampart:k=" + key + ":w=1 trailing",
		"prefix rampart:k=" + key + ":w=1",
	}
	for _, tag := range cases {
		if _, _, ok := ParseTag(tag); ok {
			t.Errorf("ParseTag(%q) accepted foreign userdata", tag)
		}
	}
}
