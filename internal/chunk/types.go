package chunk

// Chunk size defaults, in characters.
const (
	DefaultTargetSize = 1000
	DefaultMaxSize    = 1500
	DefaultOverlap    = 100
)

// ContentType selects the chunking mode for a document.
type ContentType string

const (
	ContentTypeHTML     ContentType = "html"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// Chunk is the atomic retrieval unit: a bounded span of document text
// plus provenance metadata. Its ID is the join key across the chunk
// store, the keyword index, and the vector index.
type Chunk struct {
	// ID is SHA256(source_url + ":" + section + ":" + index)[:16].
	// Deterministic so reindexing identical input upserts rather than
	// duplicates.
	ID        string `json:"id"`
	Text      string `json:"text"`
	SourceURL string `json:"source_url"`
	DocTitle  string `json:"doc_title"`
	Section   string `json:"section"`
	// Index is the zero-based position within the document. Used only
	// for ID derivation, not result ordering.
	Index     int `json:"index"`
	CharCount int `json:"char_count"`
	// Embedding is attached transiently during indexing; the vector
	// index owns it after upload.
	Embedding []float32 `json:"embedding,omitempty"`
}
