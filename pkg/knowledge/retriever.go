package knowledge

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Document is one knowledge base hit. Score is the retrieval similarity in
// [0,1]; higher means better grounded.
type Document struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]any
}

// Retriever searches a tenant's knowledge base for passages relevant to a
// caller utterance.
type Retriever interface {
	Retrieve(ctx context.Context, tenantID, query string, limit int) ([]Document, error)
}

// TopScore returns the best hit's score, or 0 when nothing was retrieved.
func TopScore(docs []Document) float64 {
	if len(docs) == 0 {
		return 0
	}
	return float64(docs[0].Score)
}

// StaticRetriever is an in-memory retriever scoring documents by token
// overlap with the query. It backs tenants without a vector store and the
// test suite.
type StaticRetriever struct {
	mu   sync.RWMutex
	docs map[string][]Document
}

var _ Retriever = (*StaticRetriever)(nil)

func NewStaticRetriever() *StaticRetriever {
	return &StaticRetriever{docs: make(map[string][]Document)}
}

// Add registers a document under a tenant.
func (r *StaticRetriever) Add(tenantID, id, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[tenantID] = append(r.docs[tenantID], Document{ID: id, Content: content})
}

// Retrieve scores the tenant's documents against the query and returns the
// top hits ordered by descending score.
func (r *StaticRetriever) Retrieve(ctx context.Context, tenantID, query string, limit int) ([]Document, error) {
	r.mu.RLock()
	docs := r.docs[tenantID]
	r.mu.RUnlock()

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	scored := make([]Document, 0, len(docs))
	for _, doc := range docs {
		score := overlapScore(queryTokens, tokenize(doc.Content))
		if score == 0 {
			continue
		}
		hit := doc
		hit.Score = score
		scored = append(scored, hit)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// overlapScore is the fraction of query tokens present in the document.
func overlapScore(queryTokens, docTokens []string) float32 {
	if len(queryTokens) == 0 {
		return 0
	}
	docSet := make(map[string]struct{}, len(docTokens))
	for _, tok := range docTokens {
		docSet[tok] = struct{}{}
	}
	matched := 0
	for _, tok := range queryTokens {
		if _, ok := docSet[tok]; ok {
			matched++
		}
	}
	return float32(matched) / float32(len(queryTokens))
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}
