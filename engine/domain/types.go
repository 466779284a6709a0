// Package domain defines the product, embedding and search types shared by the
// stylesearch engine, together with the error taxonomy and the validation gate
// applied at pipeline entry points.
package domain

// EmbeddingType discriminates the partitions of the vector index.
type EmbeddingType string

const (
	EmbeddingText  EmbeddingType = "text"
	EmbeddingVideo EmbeddingType = "video"
)

// Valid reports whether t is a known partition.
func (t EmbeddingType) Valid() bool {
	return t == EmbeddingText || t == EmbeddingVideo
}

// ScopeClip marks metadata that belongs to a single video segment.
const ScopeClip = "clip"

// Product is a catalog item submitted for ingestion.
type Product struct {
	ProductID   string `json:"product_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
	VideoURL    string `json:"video_url"`
}

// Metadata is the denormalized product copy stored with every vector.
// StartTime, EndTime and Scope are only set on video records.
type Metadata struct {
	ProductID   string   `json:"product_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	VideoURL    string   `json:"video_url"`
	Link        string   `json:"link"`
	StartTime   *float64 `json:"start_time,omitempty"`
	EndTime     *float64 `json:"end_time,omitempty"`
	Scope       string   `json:"scope,omitempty"`
}

// MetadataFor copies the product fields into a text-record Metadata.
func MetadataFor(p Product) Metadata {
	return Metadata{
		ProductID:   p.ProductID,
		Title:       p.Title,
		Description: p.Description,
		VideoURL:    p.VideoURL,
		Link:        p.Link,
	}
}

// WithClip returns a copy of m tagged as the [start, end] clip of a video.
func (m Metadata) WithClip(start, end float64) Metadata {
	m.StartTime = &start
	m.EndTime = &end
	m.Scope = ScopeClip
	return m
}

// EmbeddingRecord is one row of the vector index. Records are immutable once
// written.
type EmbeddingRecord struct {
	ID       int64         `json:"id"`
	Vector   []float32     `json:"vector"`
	Type     EmbeddingType `json:"embedding_type"`
	Metadata Metadata      `json:"metadata"`
}

// SearchHit is a single ranked result returned to the presentation layer.
type SearchHit struct {
	Type        EmbeddingType `json:"type"`
	Similarity  float64       `json:"similarity"`
	Raw         float64       `json:"raw_score"`
	ProductID   string        `json:"product_id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	VideoURL    string        `json:"video_url"`
	Link        string        `json:"link"`
	StartTime   *float64      `json:"start_time,omitempty"`
	EndTime     *float64      `json:"end_time,omitempty"`
}

// HitFromMetadata builds a hit of type t from stored metadata.
func HitFromMetadata(t EmbeddingType, m Metadata, raw, similarity float64) SearchHit {
	return SearchHit{
		Type:        t,
		Similarity:  similarity,
		Raw:         raw,
		ProductID:   m.ProductID,
		Title:       m.Title,
		Description: m.Description,
		VideoURL:    m.VideoURL,
		Link:        m.Link,
		StartTime:   m.StartTime,
		EndTime:     m.EndTime,
	}
}

// SegmentKey identifies a video segment for deduplication.
type SegmentKey struct {
	ProductID string
	Start     float64
	End       float64
}

// Key returns the dedup key of a hit. Missing offsets count as zero.
func (h SearchHit) Key() SegmentKey {
	k := SegmentKey{ProductID: h.ProductID}
	if h.StartTime != nil {
		k.Start = *h.StartTime
	}
	if h.EndTime != nil {
		k.End = *h.EndTime
	}
	return k
}

// ResponseMetadata lists the sources backing a generated answer.
type ResponseMetadata struct {
	Sources      []SearchHit `json:"sources"`
	TotalSources int         `json:"total_sources"`
	TextSources  int         `json:"text_sources"`
	VideoSources int         `json:"video_sources"`
}

// NewResponseMetadata concatenates text then video hits, forcing each hit's
// type tag to its partition, and derives the counts.
func NewResponseMetadata(text, video []SearchHit) *ResponseMetadata {
	sources := make([]SearchHit, 0, len(text)+len(video))
	for _, h := range text {
		h.Type = EmbeddingText
		sources = append(sources, h)
	}
	for _, h := range video {
		h.Type = EmbeddingVideo
		sources = append(sources, h)
	}
	return &ResponseMetadata{
		Sources:      sources,
		TotalSources: len(sources),
		TextSources:  len(text),
		VideoSources: len(video),
	}
}

// RagResponse is the structured answer consumed by the presentation layer.
// A nil Metadata is serialized as null and means no sources are attached.
type RagResponse struct {
	Response string            `json:"response"`
	Metadata *ResponseMetadata `json:"metadata"`
}

// Fixed user-facing messages.
const (
	NoMatchesMessage  = "I couldn't find any matching products. Try describing what you're looking for differently."
	ErrorMessage      = "I encountered an error while processing your request."
	GenerationMessage = "I apologize, but I'm having trouble generating a response right now. Please review the matching products below."
)

// NoMatchesResponse is returned when neither partition produced a hit.
func NoMatchesResponse() RagResponse {
	return RagResponse{Response: NoMatchesMessage}
}

// ErrorResponse is the user-safe response for any internal failure.
func ErrorResponse() RagResponse {
	return RagResponse{Response: ErrorMessage}
}
