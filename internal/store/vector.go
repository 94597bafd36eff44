package store

import (
	"context"
	"math"
	"sort"
	"strings"

	"bookmind/internal/core"
)

// SearchHit pairs a bookmark with its cosine distance to the query
// vector (lower is closer). Lexical fallback hits report distance 1 - a
// normalized keyword score, so the ordering contract is the same.
type SearchHit struct {
	Bookmark core.Bookmark
	Distance float64
}

// SemanticSearch runs cosine-distance search over the user's embedded
// bookmarks and returns the k closest. The user's library is small enough
// that a full scan beats maintaining an index; rows without embeddings
// are scored lexically against the query text instead.
func (s *Store) SemanticSearch(ctx context.Context, userID int64, queryText string, queryVec []float32, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = 10
	}
	items, _, err := s.ListBookmarks(ctx, userID, BookmarkFilter{}, Page{Limit: 10000})
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(items))
	for _, b := range items {
		var dist float64
		switch {
		case len(queryVec) > 0 && len(b.Embedding) == len(queryVec):
			dist = 1 - cosine(queryVec, b.Embedding)
		default:
			dist = 1 - lexicalScore(queryText, &b)
		}
		hits = append(hits, SearchHit{Bookmark: b, Distance: dist})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Bookmark.ID < hits[j].Bookmark.ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// ListMissingEmbeddings returns bookmarks without an embedding, oldest
// first, for the reembed path.
func (s *Store) ListMissingEmbeddings(ctx context.Context, userID int64, limit int) ([]core.Bookmark, error) {
	items, _, err := s.ListBookmarks(ctx, userID, BookmarkFilter{}, Page{Limit: 10000})
	if err != nil {
		return nil, err
	}
	var missing []core.Bookmark
	for i := len(items) - 1; i >= 0; i-- { // ListBookmarks is newest-first
		if len(items[i].Embedding) == 0 {
			missing = append(missing, items[i])
			if limit > 0 && len(missing) >= limit {
				break
			}
		}
	}
	return missing, nil
}

// UpdateEmbedding rewrites only the embedding column of one bookmark.
func (s *Store) UpdateEmbedding(ctx context.Context, userID, id int64, embedding []float32) error {
	var affected int64
	err := s.withRetry(ctx, "update embedding", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE saved_content SET embedding = ? WHERE id = ? AND user_id = ?`,
			marshalEmbedding(embedding), id, userID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.NotFound("bookmark")
	}
	return nil
}

// cosine computes cosine similarity of two equal-length vectors.
// Stored vectors are L2-normalized but query vectors from tests may not
// be, so both norms are computed.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// lexicalScore is the fallback when embeddings are absent: the fraction
// of query terms present in the bookmark's title/notes/text, in [0,1].
func lexicalScore(query string, b *core.Bookmark) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(b.Title + " " + b.Notes + " " + b.ExtractedText)
	matched := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
