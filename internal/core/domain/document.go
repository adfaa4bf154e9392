package domain

import "fmt"

type ResolutionTier string

const (
	ResolutionNormal  ResolutionTier = "normal"
	ResolutionLargest ResolutionTier = "largest"
)

type CreatorType string

const (
	CreatorUserUpload CreatorType = "user_uploaded_document"
	CreatorWikipedia  CreatorType = "wikipedia"
	CreatorGovUK      CreatorType = "gov_uk"
)

type DocumentMetadata struct {
	SourceID         string         `json:"source_id"`
	ChunkIndex       int            `json:"chunk_index"`
	TokenCount       int            `json:"token_count"`
	CreatorType      CreatorType    `json:"creator_type,omitempty"`
	ParentDocumentID string         `json:"parent_document_id,omitempty"`
	Resolution       ResolutionTier `json:"resolution,omitempty"`
	Name             string         `json:"name,omitempty"`
	Description      string         `json:"description,omitempty"`
	Keywords         []string       `json:"keywords,omitempty"`
}

// DocumentKey identifies a chunk within its source.
type DocumentKey struct {
	SourceID   string
	ChunkIndex int
}

func (k DocumentKey) String() string {
	return fmt.Sprintf("%s:%d", k.SourceID, k.ChunkIndex)
}

// Document is a retrieved passage. Values are never mutated once produced;
// rescoring goes through WithScore.
type Document struct {
	Text     string           `json:"text"`
	Score    float64          `json:"score"`
	Metadata DocumentMetadata `json:"metadata"`
}

func (d Document) Key() DocumentKey {
	return DocumentKey{SourceID: d.Metadata.SourceID, ChunkIndex: d.Metadata.ChunkIndex}
}

func (d Document) WithScore(score float64) Document {
	d.Score = score
	return d
}

// DocumentGroup holds the chunks of one source in retrieval-rank order.
type DocumentGroup struct {
	SourceID  string     `json:"source_id"`
	Documents []Document `json:"documents"`
}

// DocumentGroups is an insertion-ordered collection of documents grouped by
// source and unique by DocumentKey.
type DocumentGroups struct {
	groups []DocumentGroup
	index  map[string]int
	keys   map[DocumentKey]struct{}
}

func GroupDocuments(docs []Document) DocumentGroups {
	var g DocumentGroups
	for _, doc := range docs {
		g.Add(doc)
	}
	return g
}

// Add appends doc to its source group. Duplicate keys are ignored.
func (g *DocumentGroups) Add(doc Document) bool {
	if g.index == nil {
		g.index = make(map[string]int)
		g.keys = make(map[DocumentKey]struct{})
	}
	key := doc.Key()
	if _, ok := g.keys[key]; ok {
		return false
	}
	g.keys[key] = struct{}{}

	pos, ok := g.index[key.SourceID]
	if !ok {
		pos = len(g.groups)
		g.index[key.SourceID] = pos
		g.groups = append(g.groups, DocumentGroup{SourceID: key.SourceID})
	}
	g.groups[pos].Documents = append(g.groups[pos].Documents, doc)
	return true
}

// Groups returns a copy safe to hand to concurrent readers.
func (g DocumentGroups) Groups() []DocumentGroup {
	out := make([]DocumentGroup, 0, len(g.groups))
	for _, group := range g.groups {
		docs := make([]Document, len(group.Documents))
		copy(docs, group.Documents)
		out = append(out, DocumentGroup{SourceID: group.SourceID, Documents: docs})
	}
	return out
}

func (g DocumentGroups) Len() int {
	return len(g.groups)
}

func (g DocumentGroups) Count() int {
	return len(g.keys)
}

func (g DocumentGroups) Empty() bool {
	return len(g.keys) == 0
}

func (g DocumentGroups) Flatten() []Document {
	out := make([]Document, 0, len(g.keys))
	for _, group := range g.groups {
		out = append(out, group.Documents...)
	}
	return out
}
