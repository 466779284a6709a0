// Package catalog records which products have been ingested and which video
// segments were indexed for them. The vector index stays the source of truth
// for search; the catalog answers "is this product already indexed" and keeps
// segment bookkeeping browsable.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/WessleyAI/stylesearch/engine/domain"
	"github.com/WessleyAI/stylesearch/pkg/repo"
)

// Entry is a catalog Product node.
type Entry struct {
	domain.Product
	TextRecordID int64     `json:"text_record_id"`
	Segments     int       `json:"segments"`
	IngestedAt   time.Time `json:"ingested_at"`
}

// Segment is a catalog Segment node linked to its product.
type Segment struct {
	RecordID  int64   `json:"record_id"`
	ProductID string  `json:"product_id"`
	Start     float64 `json:"start_time"`
	End       float64 `json:"end_time"`
}

// Catalog is the Neo4j-backed product registry.
type Catalog struct {
	products *repo.Neo4jRepo[Entry, string]
	logger   *slog.Logger
}

// New creates a Catalog on driver.
func New(driver neo4j.DriverWithContext, logger *slog.Logger, opts ...repo.Neo4jOption[Entry, string]) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]repo.Neo4jOption[Entry, string]{repo.WithIDKey[Entry, string]("product_id")}, opts...)
	return &Catalog{
		products: repo.NewNeo4jRepo[Entry, string](driver, "Product", entryToMap, entryFromRecord, opts...),
		logger:   logger,
	}
}

// EnsureSchema creates the uniqueness constraints the catalog relies on.
func (c *Catalog) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		"CREATE CONSTRAINT product_id IF NOT EXISTS FOR (p:Product) REQUIRE p.product_id IS UNIQUE",
		"CREATE CONSTRAINT segment_record_id IF NOT EXISTS FOR (s:Segment) REQUIRE s.record_id IS UNIQUE",
	} {
		if err := c.products.Exec(ctx, stmt, nil); err != nil {
			return fmt.Errorf("catalog: schema: %w", err)
		}
	}
	return nil
}

// Exists reports whether productID has been registered.
func (c *Catalog) Exists(ctx context.Context, productID string) (bool, error) {
	ok, err := c.products.Exists(ctx, productID)
	if err != nil {
		return false, fmt.Errorf("catalog: exists %s: %w", productID, err)
	}
	return ok, nil
}

// Get returns the entry for productID. Missing products match repo.ErrNotFound.
func (c *Catalog) Get(ctx context.Context, productID string) (Entry, error) {
	e, err := c.products.Get(ctx, productID)
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: get %s: %w", productID, err)
	}
	return e, nil
}

// List pages through registered products ordered by product_id.
func (c *Catalog) List(ctx context.Context, offset, limit int) ([]Entry, error) {
	entries, err := c.products.List(ctx, repo.ListOpts{Offset: offset, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	return entries, nil
}

// Register upserts the product node for records and links one Segment node
// per video record. Records of other products are ignored.
func (c *Catalog) Register(ctx context.Context, p domain.Product, records []domain.EmbeddingRecord) error {
	entry := Entry{Product: p, IngestedAt: time.Now().UTC()}
	var segments []map[string]any
	for _, r := range records {
		if r.Metadata.ProductID != p.ProductID {
			continue
		}
		switch r.Type {
		case domain.EmbeddingText:
			entry.TextRecordID = r.ID
		case domain.EmbeddingVideo:
			segments = append(segments, segmentToMap(r))
		}
	}
	entry.Segments = len(segments)

	if _, err := c.products.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("catalog: register %s: %w", p.ProductID, err)
	}
	if len(segments) == 0 {
		return nil
	}

	err := c.products.Exec(ctx, `
		MATCH (p:Product {product_id: $product_id})
		UNWIND $segments AS seg
		MERGE (s:Segment {record_id: seg.record_id})
		SET s.start_time = seg.start_time, s.end_time = seg.end_time
		MERGE (p)-[:HAS_SEGMENT]->(s)`,
		map[string]any{"product_id": p.ProductID, "segments": segments})
	if err != nil {
		return fmt.Errorf("catalog: register segments %s: %w", p.ProductID, err)
	}
	c.logger.Debug("catalog registered", "product_id", p.ProductID, "segments", len(segments))
	return nil
}

// Segments returns the segments of productID ordered by start time.
func (c *Catalog) Segments(ctx context.Context, productID string) ([]Segment, error) {
	sess := c.products.Session(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, `
		MATCH (:Product {product_id: $product_id})-[:HAS_SEGMENT]->(s:Segment)
		RETURN s ORDER BY s.start_time`,
		map[string]any{"product_id": productID})
	if err != nil {
		return nil, fmt.Errorf("catalog: segments %s: %w", productID, err)
	}

	var out []Segment
	for res.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](res.Record(), "s")
		if err != nil {
			return nil, fmt.Errorf("catalog: segments %s: %w", productID, err)
		}
		out = append(out, Segment{
			RecordID:  intProp(node.Props, "record_id"),
			ProductID: productID,
			Start:     floatProp(node.Props, "start_time"),
			End:       floatProp(node.Props, "end_time"),
		})
	}
	return out, res.Err()
}

// Delete removes the product and its segments.
func (c *Catalog) Delete(ctx context.Context, productID string) error {
	err := c.products.Exec(ctx, `
		MATCH (p:Product {product_id: $product_id})
		OPTIONAL MATCH (p)-[:HAS_SEGMENT]->(s:Segment)
		DETACH DELETE p, s`,
		map[string]any{"product_id": productID})
	if err != nil {
		return fmt.Errorf("catalog: delete %s: %w", productID, err)
	}
	return nil
}
