package prebuilt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"
)

func TestKeywordRetriever_Ranking(t *testing.T) {
	r := NewKeywordRetriever([]schema.Document{
		{PageContent: "Go channels and goroutines"},
		{PageContent: "Channels, channels, channels!"},
		{PageContent: "Python generators"},
	}, 0)
	assert.Equal(t, 4, r.TopK)

	docs, err := r.GetRelevantDocuments(context.Background(), "How do channels work?")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Channels, channels, channels!", docs[0].PageContent)
	assert.InDelta(t, 1.0, docs[0].Score, 1e-6)
	assert.Equal(t, "Go channels and goroutines", docs[1].PageContent)
	assert.InDelta(t, 0.25, docs[1].Score, 1e-6)
}

func TestKeywordRetriever_TopK(t *testing.T) {
	r := capitals()

	docs, err := r.GetRelevantDocuments(context.Background(), "capital city")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	// equal scores keep corpus order
	assert.Equal(t, "doc1", docs[0].Metadata["source"])
	assert.Equal(t, "doc2", docs[1].Metadata["source"])

	r.TopK = 1
	docs, err = r.GetRelevantDocuments(context.Background(), "capital city")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc1", docs[0].Metadata["source"])
}

func TestKeywordRetriever_NoMatch(t *testing.T) {
	docs, err := capitals().GetRelevantDocuments(context.Background(), "quantum chromodynamics")
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = NewKeywordRetriever(nil, 3).GetRelevantDocuments(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestKeywordRetriever_LeavesCorpusUntouched(t *testing.T) {
	r := capitals()
	_, err := r.GetRelevantDocuments(context.Background(), "France")
	require.NoError(t, err)
	for _, d := range r.Documents {
		assert.Zero(t, d.Score)
	}
}
