// Package vectorstore provides nearest-neighbor retrieval over company
// embedding vectors.
package vectorstore

import (
	"context"
	"math"
	"sort"

	"github.com/oaguiar/incmatch/internal/repository"
)

// Hit is one retrieved candidate with its similarity mapped to [0,1].
type Hit struct {
	CompanyID  string
	Similarity float64
}

// Retriever returns the candidates above the similarity threshold or the
// top-M by similarity, whichever set is larger, so the shortlist is never
// starved on a sparse population. Companies without an embedding are
// excluded entirely — downstream they carry a null vector component, which
// is distinct from a zero score.
type Retriever interface {
	Retrieve(ctx context.Context, queryVector []float32, topM int, threshold float64) ([]Hit, error)
}

// MemoryRetriever computes cosine similarity directly over a snapshot's
// embeddings. It holds only read-only data and is safe for concurrent use.
type MemoryRetriever struct {
	companies []repository.Company
}

// NewMemoryRetriever creates a retriever over a fixed snapshot.
func NewMemoryRetriever(snapshot *repository.Snapshot) *MemoryRetriever {
	return &MemoryRetriever{companies: snapshot.Companies}
}

// Retrieve scores every embedded company against the query vector.
func (r *MemoryRetriever) Retrieve(_ context.Context, queryVector []float32, topM int, threshold float64) ([]Hit, error) {
	hits := make([]Hit, 0, len(r.companies))
	for _, company := range r.companies {
		if len(company.Embedding) == 0 || len(company.Embedding) != len(queryVector) {
			continue
		}
		hits = append(hits, Hit{
			CompanyID:  company.ID,
			Similarity: NormalizeCosine(Cosine(queryVector, company.Embedding)),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].CompanyID < hits[j].CompanyID
	})

	return cutHits(hits, topM, threshold), nil
}

// cutHits applies the threshold-or-topM rule: whichever selection is larger
// wins. Hits must already be sorted by similarity descending.
func cutHits(hits []Hit, topM int, threshold float64) []Hit {
	aboveThreshold := 0
	for _, h := range hits {
		if h.Similarity >= threshold {
			aboveThreshold++
		}
	}

	n := topM
	if aboveThreshold > n {
		n = aboveThreshold
	}
	if n > len(hits) {
		n = len(hits)
	}
	return hits[:n]
}

// Cosine computes the cosine similarity of two vectors. Vectors are expected
// to be pre-normalized; the norms are still divided out to stay correct for
// vectors that are not.
func Cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// NormalizeCosine maps a cosine similarity from [-1,1] to [0,1].
func NormalizeCosine(cos float64) float64 {
	v := (cos + 1) / 2
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
