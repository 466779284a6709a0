package semantic

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/WessleyAI/stylesearch/engine/domain"
	"github.com/WessleyAI/stylesearch/engine/similarity"
)

// PointsAPI is the subset of pb.PointsClient the store uses.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// CollectionsAPI is the subset of pb.CollectionsClient the store uses.
type CollectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations. Text and video
// records share one collection and are told apart by embedding_type.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      PointsAPI
	collections CollectionsAPI
	collection  string
	dims        int
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
// dims is the vector size every record and query must have.
func New(addr, collection string, dims int) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dims:        dims,
	}, nil
}

// NewWithClients builds a VectorStore over existing clients.
func NewWithClients(points PointsAPI, collections CollectionsAPI, collection string, dims int) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection, dims: dims}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// RawConvention reports what Search returns in RawHit.Raw. Qdrant's cosine
// metric yields a similarity score, higher is better.
func (v *VectorStore) RawConvention() similarity.Convention {
	return similarity.Score
}

// Dims returns the configured vector size.
func (v *VectorStore) Dims() int { return v.dims }

// EnsureCollection creates the collection and its payload indexes if the
// collection doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	v.dims = dims

	for _, field := range []string{keyType, keyProduct} {
		if err := v.keywordIndex(ctx, field); err != nil {
			return err
		}
	}
	return nil
}

func (v *VectorStore) keywordIndex(ctx context.Context, field string) error {
	wait := true
	ft := pb.FieldType_FieldTypeKeyword
	_, err := v.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: v.collection,
		Wait:           &wait,
		FieldName:      field,
		FieldType:      &ft,
	})
	if err != nil {
		return fmt.Errorf("semantic: index %s: %w", field, err)
	}
	return nil
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: v.collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// Insert writes a single record.
func (v *VectorStore) Insert(ctx context.Context, record domain.EmbeddingRecord) error {
	return v.upsert(ctx, "insert", []domain.EmbeddingRecord{record})
}

// InsertBatch writes records in one upsert request. Qdrant applies a single
// request all-or-nothing, so callers can treat it as a commit.
func (v *VectorStore) InsertBatch(ctx context.Context, records []domain.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	return v.upsert(ctx, "insert_batch", records)
}

func (v *VectorStore) upsert(ctx context.Context, op string, records []domain.EmbeddingRecord) error {
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		if err := v.checkDims(r.Vector); err != nil {
			return &domain.IndexWriteError{Op: op, Err: fmt.Errorf("record %d: %w", r.ID, err)}
		}
		if !r.Type.Valid() {
			return &domain.IndexWriteError{Op: op, Err: fmt.Errorf("record %d: unknown embedding type %q", r.ID, r.Type)}
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Num{Num: uint64(r.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Vector},
				},
			},
			Payload: encodePayload(r),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return &domain.IndexWriteError{Op: op, Err: fmt.Errorf("upsert %d points: %w", len(records), err)}
	}
	return nil
}

// DeleteByProductID removes every record of a product.
func (v *VectorStore) DeleteByProductID(ctx context.Context, productID string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						fieldMatch(keyProduct, productID),
					},
				},
			},
		},
	})
	if err != nil {
		return &domain.IndexWriteError{Op: "delete", Err: fmt.Errorf("product %s: %w", productID, err)}
	}
	return nil
}

// DeleteByIDs removes the given points. Ingestion uses it to undo a failed
// commit without touching a product's earlier records.
func (v *VectorStore) DeleteByIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(id)}}
	}
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return &domain.IndexWriteError{Op: "delete_ids", Err: fmt.Errorf("%d points: %w", len(ids), err)}
	}
	return nil
}

// Search returns up to limit hits of the given type, best first.
func (v *VectorStore) Search(ctx context.Context, vector []float32, typeFilter domain.EmbeddingType, limit int) ([]RawHit, error) {
	if !typeFilter.Valid() {
		return nil, &domain.IndexSearchError{Filter: typeFilter, Err: fmt.Errorf("unknown embedding type %q", typeFilter)}
	}
	if err := v.checkDims(vector); err != nil {
		return nil, &domain.IndexSearchError{Filter: typeFilter, Err: err}
	}
	if limit <= 0 {
		return nil, nil
	}

	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		Filter:         &pb.Filter{Must: []*pb.Condition{fieldMatch(keyType, string(typeFilter))}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, &domain.IndexSearchError{Filter: typeFilter, Err: err}
	}

	hits := make([]RawHit, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		t, m := decodePayload(r.GetPayload())
		if t != typeFilter {
			continue
		}
		hits = append(hits, RawHit{
			ID:       int64(r.GetId().GetNum()),
			Raw:      float64(r.GetScore()),
			Type:     t,
			Metadata: m,
		})
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

func (v *VectorStore) checkDims(vec []float32) error {
	if v.dims > 0 && len(vec) != v.dims {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(vec), v.dims)
	}
	return nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
