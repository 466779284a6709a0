package ingest

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/WessleyAI/stylesearch/engine/domain"
	"github.com/WessleyAI/stylesearch/engine/embedding"
)

// EmbeddingText renders the fixed template embedded for a product's text
// record.
func EmbeddingText(p domain.Product) string {
	return fmt.Sprintf("product type: %s. product description: %s. product category: fashion apparel.",
		p.Title, p.Description)
}

// NewRecordID returns a random non-negative 63-bit id taken from the low bits
// of a version 4 UUID.
func NewRecordID() int64 {
	u := uuid.New()
	return int64(binary.BigEndian.Uint64(u[8:]) & (1<<63 - 1))
}

// BuildRecords turns one text vector and the video segments of p into index
// records, text first. Segment offsets are copied verbatim.
func BuildRecords(p domain.Product, text []float32, segments []embedding.Segment, newID func() int64) []domain.EmbeddingRecord {
	if newID == nil {
		newID = NewRecordID
	}
	meta := domain.MetadataFor(p)
	records := make([]domain.EmbeddingRecord, 0, 1+len(segments))
	records = append(records, domain.EmbeddingRecord{
		ID:       newID(),
		Vector:   text,
		Type:     domain.EmbeddingText,
		Metadata: meta,
	})
	for _, s := range segments {
		records = append(records, domain.EmbeddingRecord{
			ID:       newID(),
			Vector:   s.Vector,
			Type:     domain.EmbeddingVideo,
			Metadata: meta.WithClip(s.StartOffset, s.EndOffset),
		})
	}
	return records
}
