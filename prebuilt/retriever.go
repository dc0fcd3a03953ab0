package prebuilt

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/schema"
)

// KeywordRetriever ranks a fixed set of documents by how often the query's
// terms occur in them. It needs no embeddings, which makes it a fit for
// demos and tests.
type KeywordRetriever struct {
	Documents []schema.Document
	TopK      int
}

var _ schema.Retriever = (*KeywordRetriever)(nil)

// NewKeywordRetriever creates a retriever over docs returning at most topK
// documents; topK <= 0 means 4.
func NewKeywordRetriever(docs []schema.Document, topK int) *KeywordRetriever {
	if topK <= 0 {
		topK = 4
	}
	return &KeywordRetriever{Documents: docs, TopK: topK}
}

// NewKeywordRetrieverFromTexts wraps each text in a document whose source is
// its position, e.g. "doc1".
func NewKeywordRetrieverFromTexts(texts []string, topK int) *KeywordRetriever {
	docs := make([]schema.Document, len(texts))
	for i, t := range texts {
		docs[i] = schema.Document{
			PageContent: t,
			Metadata:    map[string]any{"source": "doc" + strconv.Itoa(i+1)},
		}
	}
	return NewKeywordRetriever(docs, topK)
}

func terms(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// GetRelevantDocuments returns the matching documents, best first. Documents
// sharing no term with the query are left out. Ties keep corpus order.
func (r *KeywordRetriever) GetRelevantDocuments(_ context.Context, query string) ([]schema.Document, error) {
	queryTerms := terms(query)

	type scored struct {
		doc   schema.Document
		score float32
	}
	var hits []scored
	for _, doc := range r.Documents {
		content := terms(doc.PageContent)
		var score float32
		for _, qt := range queryTerms {
			for _, ct := range content {
				if ct == qt {
					score++
				}
			}
		}
		if score == 0 {
			continue
		}
		d := doc
		d.Score = score / float32(len(content))
		hits = append(hits, scored{doc: d, score: d.Score})
	}

	slices.SortStableFunc(hits, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})

	out := make([]schema.Document, 0, min(len(hits), r.TopK))
	for _, h := range hits[:min(len(hits), r.TopK)] {
		out = append(out, h.doc)
	}
	return out, nil
}
