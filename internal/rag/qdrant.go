package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload keys stored with every point.
const (
	payloadChunkID    = "chunk_id"
	payloadDocumentID = "document_id"
	payloadOwnerID    = "owner_id"
	payloadOrdinal    = "ordinal"
	payloadText       = "text"
)

// DefaultUpsertBatchSize is the number of points sent per upsert call.
const DefaultUpsertBatchSize = 100

// pointNamespace seeds the name-based UUIDs used as Qdrant point ids, which
// must be UUIDs or integers rather than free-form strings.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("asksudo:chunk"))

// QdrantConfig holds connection parameters for a Qdrant collection.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the collection shared by all documents (default: asksudo).
	Collection string

	// VectorSize is the embedding dimension. The collection is created with
	// it and an existing collection must match it.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// BatchSize is the number of points per upsert call (default: 100).
	BatchSize int

	// ScoreThreshold drops query matches scoring below it. Zero disables it.
	ScoreThreshold float32
}

// QdrantIndex implements VectorIndex on a single Qdrant collection. Points
// carry the chunk text and identity in their payload, and owner_id and
// document_id are indexed keyword fields so filters run inside Qdrant.
type QdrantIndex struct {
	client *qdrant.Client
	cfg    *QdrantConfig
}

// NewQdrantIndex connects to Qdrant and ensures the collection exists with
// the configured vector size.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "asksudo"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultUpsertBatchSize
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size must be set")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return idx, nil
}

// Client returns the underlying gRPC client, used for health probes.
func (s *QdrantIndex) Client() *qdrant.Client {
	return s.client
}

// ensureCollection creates the collection and its payload indexes when
// missing, and rejects an existing collection with a different vector size.
func (s *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}

	if exists {
		info, err := s.client.GetCollectionInfo(ctx, s.cfg.Collection)
		if err != nil {
			return fmt.Errorf("qdrant: failed to read collection %q: %w", s.cfg.Collection, err)
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && size != s.cfg.VectorSize {
			return fmt.Errorf("qdrant: collection %q: %w: collection has %d, embedder produces %d",
				s.cfg.Collection, ErrDimensionMismatch, size, s.cfg.VectorSize)
		}
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	fields := []struct {
		name string
		typ  qdrant.FieldType
	}{
		{payloadOwnerID, qdrant.FieldType_FieldTypeKeyword},
		{payloadDocumentID, qdrant.FieldType_FieldTypeKeyword},
		{payloadOrdinal, qdrant.FieldType_FieldTypeInteger},
	}
	for _, f := range fields {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.cfg.Collection,
			FieldName:      f.name,
			FieldType:      f.typ.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("qdrant: failed to index payload field %q: %w", f.name, err)
		}
	}

	return nil
}

// Upsert writes chunks in sequential batches of cfg.BatchSize. A failed
// batch aborts the call; earlier batches remain written and are overwritten
// by the next attempt because point ids are derived from chunk ids.
func (s *QdrantIndex) Upsert(ctx context.Context, chunks []EmbeddedChunk) error {
	for start := 0; start < len(chunks); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(chunks))

		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.cfg.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         buildPoints(chunks[start:end]),
		})
		if err != nil {
			return fmt.Errorf("qdrant: upsert batch [%d:%d]: %w: %w", start, end, ErrIndexWrite, err)
		}
	}
	return nil
}

// Query runs a cosine search restricted to the owner's points.
func (s *QdrantIndex) Query(ctx context.Context, vector []float32, ownerID string, topK int) ([]Match, error) {
	if ownerID == "" {
		return nil, ErrOwnerRequired
	}

	limit := uint64(topK) //nolint:gosec // topK is validated by the caller
	req := &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         ownerFilter(ownerID),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if s.cfg.ScoreThreshold > 0 {
		req.ScoreThreshold = qdrant.PtrOf(s.cfg.ScoreThreshold)
	}

	results, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: query: %w: %w", ErrIndexQuery, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, matchFromPoint(r))
	}
	return matches, nil
}

// DeleteDocument removes every point of the document.
func (s *QdrantIndex) DeleteDocument(ctx context.Context, documentID string) error {
	return s.deleteWhere(ctx, documentFilter(documentID))
}

// DeleteFrom removes the document's points with ordinal >= fromOrdinal.
func (s *QdrantIndex) DeleteFrom(ctx context.Context, documentID string, fromOrdinal int) error {
	filter := documentFilter(documentID)
	filter.Must = append(filter.Must, qdrant.NewRange(payloadOrdinal, &qdrant.Range{
		Gte: qdrant.PtrOf(float64(fromOrdinal)),
	}))
	return s.deleteWhere(ctx, filter)
}

func (s *QdrantIndex) deleteWhere(ctx context.Context, filter *qdrant.Filter) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete: %w: %w", ErrIndexWrite, err)
	}
	return nil
}

// Count returns the exact number of points stored for the document.
func (s *QdrantIndex) Count(ctx context.Context, documentID string) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Filter:         documentFilter(documentID),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count: %w: %w", ErrIndexQuery, err)
	}
	return int(n), nil //nolint:gosec // bounded by collection size
}

// HealthCheck calls the Qdrant HealthCheck RPC.
func (s *QdrantIndex) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantIndex) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("qdrant: close: %w", err)
	}
	return nil
}

// pointID maps a chunk id onto a stable UUID.
func pointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func buildPoints(chunks []EmbeddedChunk) []*qdrant.PointStruct {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		id := c.ID()
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(id)),
			Vectors: qdrant.NewVectors(c.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadChunkID:    id,
				payloadDocumentID: c.DocumentID,
				payloadOwnerID:    c.OwnerID,
				payloadOrdinal:    int64(c.Ordinal),
				payloadText:       c.Text,
			}),
		})
	}
	return points
}

func ownerFilter(ownerID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(payloadOwnerID, ownerID)},
	}
}

func documentFilter(documentID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(payloadDocumentID, documentID)},
	}
}

func matchFromPoint(p *qdrant.ScoredPoint) Match {
	m := Match{Score: p.GetScore()}
	payload := p.GetPayload()
	if payload == nil {
		m.ID = p.GetId().GetUuid()
		return m
	}
	m.ID = payload[payloadChunkID].GetStringValue()
	if m.ID == "" {
		m.ID = p.GetId().GetUuid()
	}
	m.DocumentID = payload[payloadDocumentID].GetStringValue()
	m.OwnerID = payload[payloadOwnerID].GetStringValue()
	m.Ordinal = int(payload[payloadOrdinal].GetIntegerValue())
	m.Text = payload[payloadText].GetStringValue()
	return m
}
