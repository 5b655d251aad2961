package rag

import (
	"testing"
)

func Test_ChunkKey(t *testing.T) {
	t.Parallel()
	c := Chunk{DocID: "راهنما", ChunkID: 7}
	if got := c.Key(); got != "راهنما_7" {
		t.Errorf("Key = %q", got)
	}
}

func Test_DedupeByDocID(t *testing.T) {
	t.Parallel()
	docs := []Document{
		{DocID: "a", Text: "first a"},
		{DocID: "b", Text: "first b"},
		{DocID: "a", Text: "second a"},
		{DocID: "c", Text: "first c"},
		{DocID: "b", Text: "second b"},
	}
	got := DedupeByDocID(docs)
	if len(got) != 3 {
		t.Fatalf("got %d docs, want 3", len(got))
	}
	// First occurrence wins, relative order preserved.
	want := []string{"first a", "first b", "first c"}
	for i, text := range want {
		if got[i].Text != text {
			t.Errorf("docs[%d].Text = %q, want %q", i, got[i].Text, text)
		}
	}
}

func Test_PointUUID_Deterministic(t *testing.T) {
	t.Parallel()
	a := pointUUID("d1_0")
	b := pointUUID("d1_0")
	c := pointUUID("d1_1")
	if a != b {
		t.Errorf("same key mapped to different point IDs: %s vs %s", a, b)
	}
	if a == c {
		t.Errorf("distinct keys collided: %s", a)
	}
}
