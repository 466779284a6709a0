package semantic

import (
	pb "github.com/qdrant/go-client/qdrant"

	"github.com/WessleyAI/stylesearch/engine/domain"
)

// RawHit is a single search hit before normalization. Raw is the value the
// index returned, in its own convention.
type RawHit struct {
	ID       int64
	Raw      float64
	Type     domain.EmbeddingType
	Metadata domain.Metadata
}

// Payload keys.
const (
	keyType     = "embedding_type"
	keyMetadata = "metadata"
	keyProduct  = "metadata.product_id"
)

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func doubleValue(f float64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: f}}
}

func encodePayload(r domain.EmbeddingRecord) map[string]*pb.Value {
	m := r.Metadata
	fields := map[string]*pb.Value{
		"product_id":  stringValue(m.ProductID),
		"title":       stringValue(m.Title),
		"description": stringValue(m.Description),
		"video_url":   stringValue(m.VideoURL),
		"link":        stringValue(m.Link),
	}
	if m.StartTime != nil {
		fields["start_time"] = doubleValue(*m.StartTime)
	}
	if m.EndTime != nil {
		fields["end_time"] = doubleValue(*m.EndTime)
	}
	if m.Scope != "" {
		fields["scope"] = stringValue(m.Scope)
	}
	return map[string]*pb.Value{
		keyType: stringValue(string(r.Type)),
		keyMetadata: {Kind: &pb.Value_StructValue{
			StructValue: &pb.Struct{Fields: fields},
		}},
	}
}

func decodePayload(payload map[string]*pb.Value) (domain.EmbeddingType, domain.Metadata) {
	t := domain.EmbeddingType(payload[keyType].GetStringValue())
	fields := payload[keyMetadata].GetStructValue().GetFields()

	m := domain.Metadata{
		ProductID:   fields["product_id"].GetStringValue(),
		Title:       fields["title"].GetStringValue(),
		Description: fields["description"].GetStringValue(),
		VideoURL:    fields["video_url"].GetStringValue(),
		Link:        fields["link"].GetStringValue(),
		Scope:       fields["scope"].GetStringValue(),
	}
	m.StartTime = number(fields["start_time"])
	m.EndTime = number(fields["end_time"])
	return t, m
}

// number reads a numeric payload value. Qdrant may hand back whole-second
// offsets as integers.
func number(v *pb.Value) *float64 {
	switch k := v.GetKind().(type) {
	case *pb.Value_DoubleValue:
		f := k.DoubleValue
		return &f
	case *pb.Value_IntegerValue:
		f := float64(k.IntegerValue)
		return &f
	default:
		return nil
	}
}
