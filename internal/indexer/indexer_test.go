package indexer

import (
	"sort"
	"testing"

	"kvreplica/internal/value"
)

func TestUpdateAndSearch(t *testing.T) {
	ix := New()
	ix.Update("doc1", value.String("the quick brown fox"), value.Null())
	ix.Update("doc2", value.String("the lazy dog"), value.Null())

	got := ix.Search("the")
	sort.Strings(got)
	want := []string{"doc1", "doc2"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}

	got = ix.Search("quick fox")
	if len(got) != 1 || got[0] != "doc1" {
		t.Fatalf("expected only doc1, got %v", got)
	}
}

func TestUpdateRemovesOldWordAssociations(t *testing.T) {
	ix := New()
	ix.Update("doc1", value.String("alpha"), value.Null())
	ix.Update("doc1", value.String("beta"), value.String("alpha"))

	if got := ix.Search("alpha"); len(got) != 0 {
		t.Fatalf("expected alpha to be unindexed, got %v", got)
	}
	if got := ix.Search("beta"); len(got) != 1 || got[0] != "doc1" {
		t.Fatalf("expected doc1, got %v", got)
	}
}

func TestRemove(t *testing.T) {
	ix := New()
	ix.Update("doc1", value.String("hello world"), value.Null())
	ix.Remove("doc1", value.String("hello world"))

	if got := ix.Search("hello"); len(got) != 0 {
		t.Fatalf("expected empty after remove, got %v", got)
	}
}

func TestNonStringValuesAreNotIndexed(t *testing.T) {
	ix := New()
	ix.Update("doc1", value.Number(42), value.Null())

	if got := ix.Search("42"); len(got) != 0 {
		t.Fatalf("numbers should not be tokenized, got %v", got)
	}
}

func TestVectorSearchReturnsClosest(t *testing.T) {
	ix := New()
	ix.Update("a", value.String("apple"), value.Null())
	ix.Update("b", value.String("apple"), value.Null())
	ix.Update("c", value.String("zebra"), value.Null())

	got := ix.VectorSearch("apple", 1)
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
	// A document with the exact same text always embeds identically and
	// should be its own nearest neighbor.
	if got[0] != "a" && got[0] != "b" {
		t.Fatalf("expected an exact textual match first, got %v", got)
	}
}

func TestSearchWithNoMatchingWordReturnsEmpty(t *testing.T) {
	ix := New()
	ix.Update("doc1", value.String("hello"), value.Null())

	if got := ix.Search("missing"); len(got) != 0 {
		t.Fatalf("expected no matches, got %v", got)
	}
}
