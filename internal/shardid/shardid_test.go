package shardid

import (
	"testing"

	"github.com/google/uuid"
)

func TestRoundTrip(t *testing.T) {
	ids := []ID{
		ID("x"),
		ID("a-longer-shard-identifier"),
		ID(uuid.New().String()),
	}

	for _, id := range ids {
		s := id.String()
		got, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", s, err)
		}
		if string(got) != string(id) {
			t.Errorf("round trip mismatch: got %q, want %q", got, id)
		}
	}
}

func TestParseRejectsBadChecksum(t *testing.T) {
	s := ID("hello-world").String()
	corrupted := "z" + s[1:]

	if _, err := Parse(corrupted); err == nil {
		t.Error("expected checksum mismatch error, got nil")
	}
}

func TestStringIsDashGrouped(t *testing.T) {
	s := ID("some-shard-id-bytes").String()
	for i, r := range s {
		if i > 0 && i%6 == 5 {
			if r != '-' {
				t.Errorf("expected dash at index %d of %q", i, s)
			}
		}
	}
}
