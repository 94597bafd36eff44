package store

import (
	"context"
	"math"
	"testing"

	"bookmind/internal/core"
)

func unit(vals ...float32) []float32 {
	var norm float64
	for _, v := range vals {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

func TestSemanticSearchRanksByCosine(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, st, "alice")

	near, _ := st.UpsertBookmark(ctx, &core.Bookmark{
		UserID: u.ID, URL: "https://a/near", Title: "near",
		QualityScore: 5, Embedding: unit(1, 0.1, 0),
	})
	far, _ := st.UpsertBookmark(ctx, &core.Bookmark{
		UserID: u.ID, URL: "https://a/far", Title: "far",
		QualityScore: 5, Embedding: unit(0, 1, 0),
	})

	hits, err := st.SemanticSearch(ctx, u.ID, "query", unit(1, 0, 0), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d", len(hits))
	}
	if hits[0].Bookmark.ID != near.ID || hits[1].Bookmark.ID != far.ID {
		t.Errorf("ranking: got %d then %d", hits[0].Bookmark.ID, hits[1].Bookmark.ID)
	}
	if hits[0].Distance >= hits[1].Distance {
		t.Errorf("distances not ascending: %f %f", hits[0].Distance, hits[1].Distance)
	}
}

func TestSemanticSearchLexicalFallback(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, st, "alice")

	match, _ := st.UpsertBookmark(ctx, &core.Bookmark{
		UserID: u.ID, URL: "https://a/1", Title: "kubernetes deployment guide", QualityScore: 5,
	})
	st.UpsertBookmark(ctx, &core.Bookmark{
		UserID: u.ID, URL: "https://a/2", Title: "sourdough recipes", QualityScore: 5,
	})

	// No stored vectors: term overlap decides the order.
	hits, err := st.SemanticSearch(ctx, u.ID, "kubernetes deployment", nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Bookmark.ID != match.ID {
		t.Errorf("lexical fallback: %+v", hits)
	}
}
