package catalog

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/WessleyAI/stylesearch/engine/domain"
)

func entryToMap(e Entry) map[string]any {
	return map[string]any{
		"product_id":     e.ProductID,
		"title":          e.Title,
		"description":    e.Description,
		"link":           e.Link,
		"video_url":      e.VideoURL,
		"text_record_id": e.TextRecordID,
		"segments":       int64(e.Segments),
		"ingested_at":    e.IngestedAt,
	}
}

func entryFromRecord(rec *neo4j.Record) (Entry, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Entry{}, err
	}
	p := node.Props
	e := Entry{
		Product: domain.Product{
			ProductID:   strProp(p, "product_id"),
			Title:       strProp(p, "title"),
			Description: strProp(p, "description"),
			Link:        strProp(p, "link"),
			VideoURL:    strProp(p, "video_url"),
		},
		TextRecordID: intProp(p, "text_record_id"),
		Segments:     int(intProp(p, "segments")),
	}
	if t, ok := p["ingested_at"].(time.Time); ok {
		e.IngestedAt = t
	}
	return e, nil
}

func segmentToMap(r domain.EmbeddingRecord) map[string]any {
	m := map[string]any{"record_id": r.ID}
	if r.Metadata.StartTime != nil {
		m["start_time"] = *r.Metadata.StartTime
	}
	if r.Metadata.EndTime != nil {
		m["end_time"] = *r.Metadata.EndTime
	}
	return m
}

func strProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func intProp(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func floatProp(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}
