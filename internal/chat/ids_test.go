package chat

import (
	"strings"
	"testing"
)

func TestChannelIDSymmetric(t *testing.T) {
	ab := ChannelID("alice", "bob")
	ba := ChannelID("bob", "alice")
	if ab != ba {
		t.Fatalf("ChannelID is not symmetric: %q vs %q", ab, ba)
	}
	if ab != "alice#bob" {
		t.Fatalf("unexpected channel id: %q", ab)
	}
}

func TestChannelIDDistinctPairs(t *testing.T) {
	ids := map[string]string{}
	pairs := [][2]string{
		{"alice", "bob"},
		{"alice", "carol"},
		{"bob", "carol"},
		{"alice", "bobby"},
	}
	for _, p := range pairs {
		id := ChannelID(p[0], p[1])
		if prev, ok := ids[id]; ok {
			t.Fatalf("pair %v collides with %s on id %q", p, prev, id)
		}
		ids[id] = p[0] + "/" + p[1]
	}
}

func TestChannelIDTrimsWhitespace(t *testing.T) {
	if got := ChannelID("  bob ", "alice"); got != "alice#bob" {
		t.Fatalf("expected trimmed id, got %q", got)
	}
}

func TestSplitChannelID(t *testing.T) {
	a, b, ok := SplitChannelID("alice#bob")
	if !ok || a != "alice" || b != "bob" {
		t.Fatalf("SplitChannelID failed: %q %q %v", a, b, ok)
	}

	for _, bad := range []string{"", "alice", "#bob", "alice#", "a#b#c"} {
		if _, _, ok := SplitChannelID(bad); ok {
			t.Fatalf("SplitChannelID(%q) should fail", bad)
		}
	}
}

func TestValidateUserID(t *testing.T) {
	if err := ValidateUserID("alice"); err != nil {
		t.Fatalf("valid id rejected: %v", err)
	}

	cases := []string{"", "   ", "ali#ce", strings.Repeat("x", 129)}
	for _, c := range cases {
		if err := ValidateUserID(c); err == nil {
			t.Fatalf("ValidateUserID(%q) should fail", c)
		}
	}
}

func TestValidatePairRejectsSelf(t *testing.T) {
	if err := ValidatePair("alice", "alice"); err == nil {
		t.Fatal("a pair of one user should be rejected")
	}
	if err := ValidatePair("alice", " alice "); err == nil {
		t.Fatal("whitespace variants of the same user should be rejected")
	}
	if err := ValidatePair("alice", "bob"); err != nil {
		t.Fatalf("valid pair rejected: %v", err)
	}
}
