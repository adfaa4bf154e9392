package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

type fakeIndex struct {
	searchDocs   []domain.Document
	chunkDocs    []domain.Document
	metadataDocs []domain.Document
	err          error

	searchCalls   int
	chunkCalls    int
	metadataCalls int
	lastQuery     domain.SearchQuery
	lastFilter    domain.SearchFilter
}

func (f *fakeIndex) Search(_ context.Context, q domain.SearchQuery) ([]domain.Document, error) {
	f.searchCalls++
	f.lastQuery = q
	return f.searchDocs, f.err
}

func (f *fakeIndex) Chunks(_ context.Context, filter domain.SearchFilter) ([]domain.Document, error) {
	f.chunkCalls++
	f.lastFilter = filter
	return f.chunkDocs, f.err
}

func (f *fakeIndex) Metadata(_ context.Context, filter domain.SearchFilter) ([]domain.Document, error) {
	f.metadataCalls++
	f.lastFilter = filter
	return f.metadataDocs, f.err
}

func doc(source string, chunk int, score float64) domain.Document {
	return domain.Document{
		Text:     fmt.Sprintf("%s-%d", source, chunk),
		Score:    score,
		Metadata: domain.DocumentMetadata{SourceID: source, ChunkIndex: chunk},
	}
}

func keys(docs []domain.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Key().String())
	}
	return out
}

func TestMergeKeepsHigherScoredDuplicate(t *testing.T) {
	initial := []domain.Document{doc("a", 1, 0.5), doc("b", 0, 0.9)}
	adjacent := []domain.Document{doc("a", 1, 0.7), doc("a", 2, 0.1)}

	merged := Merge(initial, adjacent)

	require.Len(t, merged, 3)
	assert.Equal(t, []string{"b:0", "a:1", "a:2"}, keys(merged))
	assert.Equal(t, 0.7, merged[1].Score)
}

func TestMergePrefersInstanceWithTextOnEqualScore(t *testing.T) {
	bare := doc("a", 0, 0.4)
	bare.Text = ""
	merged := Merge([]domain.Document{bare}, []domain.Document{doc("a", 0, 0.4)})
	require.Len(t, merged, 1)
	assert.Equal(t, "a-0", merged[0].Text)
}

func TestMergeSelfIsSortOfDedup(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		var docs []domain.Document
		n := rng.Intn(20)
		for i := 0; i < n; i++ {
			source := string(rune('a' + rng.Intn(3)))
			docs = append(docs, doc(source, rng.Intn(5), float64(rng.Intn(4))/4))
		}
		assert.Equal(t, Sort(Dedup(docs)), Merge(docs, docs), "round %d", round)
	}
}

func TestSortBreaksTiesBySourceThenChunk(t *testing.T) {
	docs := []domain.Document{doc("b", 0, 1), doc("a", 3, 1), doc("a", 1, 1), doc("c", 0, 2)}
	sorted := Sort(docs)
	assert.Equal(t, []string{"c:0", "a:1", "a:3", "b:0"}, keys(sorted))
	assert.Equal(t, "b:0", docs[0].Key().String(), "input must not be reordered")
}

func TestBuildDocumentQueryRejectsMalformedInput(t *testing.T) {
	settings := domain.DefaultAISettings()

	_, err := BuildDocumentQuery(QueryInput{Text: "q", Settings: settings})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))

	settings.KNNBoost = 0
	settings.MatchBoost = 0
	_, err = BuildDocumentQuery(QueryInput{Text: "q", Vector: []float32{1}, Settings: settings})
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}

func TestBuildDocumentQueryCopiesInputs(t *testing.T) {
	settings := domain.DefaultAISettings()
	settings.RAGSize = 10
	settings.RAGNumCandidates = 4
	sources := []string{"a", "b"}
	vector := []float32{0.1, 0.2}

	q, err := BuildDocumentQuery(QueryInput{
		Text:       "  pensions  ",
		Vector:     vector,
		SourceIDs:  sources,
		Resolution: domain.ResolutionNormal,
		Settings:   settings,
	})
	require.NoError(t, err)

	sources[0] = "mutated"
	vector[0] = 9
	assert.Equal(t, "pensions", q.Text)
	assert.Equal(t, []string{"a", "b"}, q.Filter.SourceIDs)
	assert.Equal(t, float32(0.1), q.Vector[0])
	assert.Equal(t, 10, q.Size)
	assert.Equal(t, 10, q.NumCandidates, "candidate pool never smaller than size")
	assert.Equal(t, domain.ResolutionNormal, q.Filter.Resolution)
}

func TestBuildDocumentQueryAllowsKeywordOnly(t *testing.T) {
	settings := domain.DefaultAISettings()
	settings.KNNBoost = 0
	q, err := BuildDocumentQuery(QueryInput{Text: "tax", SourceIDs: []string{"a"}, Settings: settings})
	require.NoError(t, err)
	assert.False(t, q.UsesVector())
	assert.True(t, q.UsesKeywords())
}

func TestAddDocumentFilterScoresIsPureAndDeduplicates(t *testing.T) {
	base := domain.SearchQuery{Text: "q", Filter: domain.SearchFilter{SourceIDs: []string{"a", "b"}}}
	centres := []domain.Document{doc("b", 4, 0.9), doc("a", 2, 0.8), doc("b", 4, 0.1)}

	boosted := AddDocumentFilterScores(base, centres, 1, 0.5)

	assert.Empty(t, base.Adjacent)
	require.Len(t, boosted.Adjacent, 2)
	assert.Equal(t, domain.AdjacencyWindow{SourceID: "a", ChunkIndex: 2, Radius: 1, Boost: 0.5}, boosted.Adjacent[0])
	assert.Equal(t, "b", boosted.Adjacent[1].SourceID)

	unchanged := AddDocumentFilterScores(base, centres, 1, 0)
	assert.Empty(t, unchanged.Adjacent)
}

func TestElbowFilterDropsTail(t *testing.T) {
	docs := []domain.Document{doc("a", 0, 0.9), doc("a", 1, 0.88), doc("a", 2, 0.3), doc("a", 3, 0.29), doc("a", 4, 0.28)}
	assert.Equal(t, []string{"a:0", "a:1"}, keys(ElbowFilter(docs)))
}

func TestElbowFilterKeepsFlatOrShortLists(t *testing.T) {
	flat := []domain.Document{doc("a", 0, 0.5), doc("a", 1, 0.5), doc("a", 2, 0.5)}
	assert.Len(t, ElbowFilter(flat), 3)

	linear := []domain.Document{doc("a", 0, 0.9), doc("a", 1, 0.6), doc("a", 2, 0.3)}
	assert.Len(t, ElbowFilter(linear), 3)

	assert.Len(t, ElbowFilter(flat[:2]), 2)
}

func TestElbowFilterKeepsLinearScores(t *testing.T) {
	for _, scores := range [][]float64{
		{0.9, 0.6, 0.3},
		{0.7, 0.5, 0.3, 0.1},
		{1.0, 0.8, 0.6, 0.4, 0.2, 0.0},
		{0.9, 0.61, 0.3},
	} {
		docs := make([]domain.Document, 0, len(scores))
		for i, score := range scores {
			docs = append(docs, doc("a", i, score))
		}
		assert.Len(t, ElbowFilter(docs), len(scores), "scores %v", scores)
	}
}

func TestElbowFilterCutsClearKnee(t *testing.T) {
	docs := []domain.Document{doc("a", 0, 0.95), doc("a", 1, 0.9), doc("a", 2, 0.85), doc("a", 3, 0.2), doc("a", 4, 0.1)}
	assert.Equal(t, []string{"a:0", "a:1", "a:2"}, keys(ElbowFilter(docs)))
}

func TestRetrieversSkipIndexForEmptySourceSet(t *testing.T) {
	idx := &fakeIndex{}
	ctx := context.Background()
	for _, r := range []interface {
		Retrieve(context.Context, domain.SearchQuery) ([]domain.Document, error)
	}{NewAllChunksRetriever(idx), NewParameterisedRetriever(idx, Params{}), NewMetadataRetriever(idx)} {
		docs, err := r.Retrieve(ctx, domain.SearchQuery{})
		require.NoError(t, err)
		assert.NotNil(t, docs)
		assert.Empty(t, docs)
	}
	assert.Zero(t, idx.searchCalls+idx.chunkCalls+idx.metadataCalls)
}

func TestAllChunksRetrieverOrdersBySourceThenChunk(t *testing.T) {
	idx := &fakeIndex{chunkDocs: []domain.Document{doc("b", 0, 0), doc("a", 2, 0), doc("a", 0, 0)}}
	docs, err := NewAllChunksRetriever(idx).Retrieve(context.Background(), domain.SearchQuery{
		Filter: domain.SearchFilter{SourceIDs: []string{"a", "b"}, Resolution: domain.ResolutionLargest},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a:0", "a:2", "b:0"}, keys(docs))
	assert.Equal(t, domain.ResolutionLargest, idx.lastFilter.Resolution)
}

func TestParameterisedRetrieverAppliesPerCallOverrides(t *testing.T) {
	idx := &fakeIndex{searchDocs: []domain.Document{doc("a", 1, 0.5), doc("a", 0, 0.5), doc("b", 0, 0.9)}}
	r := NewParameterisedRetriever(idx, Params{Size: 10, NumCandidates: 50, MatchBoost: 1, KNNBoost: 1})
	ctx := context.Background()
	query := domain.SearchQuery{Filter: domain.SearchFilter{SourceIDs: []string{"a", "b"}}}

	docs, err := r.Retrieve(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, []string{"b:0", "a:0", "a:1"}, keys(docs))
	assert.Equal(t, 10, idx.lastQuery.Size)
	assert.Equal(t, 50, idx.lastQuery.NumCandidates)

	query.Size = 2
	query.NumCandidates = 1
	docs, err = r.Retrieve(ctx, query)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Equal(t, 2, idx.lastQuery.NumCandidates)
}

func TestMetadataRetrieverStripsText(t *testing.T) {
	idx := &fakeIndex{metadataDocs: []domain.Document{doc("a", 0, 0)}}
	docs, err := NewMetadataRetriever(idx).Retrieve(context.Background(), domain.SearchQuery{
		Filter: domain.SearchFilter{SourceIDs: []string{"a"}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Empty(t, docs[0].Text)
}

func TestRetrieverPropagatesForbidden(t *testing.T) {
	idx := &fakeIndex{err: domain.WrapError(domain.ErrForbidden, "qdrant.scroll", errors.New("denied"))}
	_, err := NewAllChunksRetriever(idx).Retrieve(context.Background(), domain.SearchQuery{
		Filter: domain.SearchFilter{SourceIDs: []string{"a"}},
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrForbidden))
}
