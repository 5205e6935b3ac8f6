package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"github.com/archreview/archreview/internal/config"
	"github.com/archreview/archreview/internal/domain"
)

const (
	defaultQdrantPort = 6334
	hnswM              = uint64(16)
	hnswEfConstruct    = uint64(128)
)

// QdrantStore is the production Store, grounded on the pack's Qdrant
// reference client: collection lifecycle, payload shape, and the
// SHA-256-folded point id scheme all follow that pattern, generalized to
// spec.md §4.5's two tenancy modes and verification step.
type QdrantStore struct {
	client    *qdrant.Client
	cfg       config.VectorStoreConfig
	dimension int
	logger    *slog.Logger
}

// NewQdrantStore dials Qdrant at cfg.QdrantAddr and returns a Store ready to
// index and query vectors of the given dimension.
func NewQdrantStore(cfg config.VectorStoreConfig, dimension int, logger *slog.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	host, port := parseQdrantAddr(cfg.QdrantAddr)

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connect qdrant: %w", err)
	}

	return &QdrantStore{client: client, cfg: cfg, dimension: dimension, logger: logger}, nil
}

// collectionName returns the shared collection name, or the per-project
// collection name when cfg.PerProjectCollections is set (spec.md §4.5).
func (s *QdrantStore) collectionName(projectID string) string {
	if s.cfg.PerProjectCollections {
		return fmt.Sprintf("%s_%s_vectors", s.cfg.CollectionPrefix, projectID)
	}

	return fmt.Sprintf("%s_vectors", s.cfg.CollectionPrefix)
}

func (s *QdrantStore) ensureCollection(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("vectorstore: check collection %s: %w", name, err)
	}

	if exists {
		return nil
	}

	m, ef := hnswM, hnswEfConstruct

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           &m,
				EfConstruct: &ef,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create collection %s: %w", name, err)
	}

	s.logger.Info("vector collection created", "collection", name)

	return nil
}

func payloadMap(projectID, chunkHash string, p domain.VectorPayload) map[string]any {
	return map[string]any{
		"project_id":    projectID,
		"chunk_hash":    chunkHash,
		"file_path":     p.FilePath,
		"start_line":    int64(p.StartLine),
		"end_line":      int64(p.EndLine),
		"language":      p.Language,
		"semantic_type": string(p.SemanticType),
		"semantic_name": p.SemanticName,
		"chunk_index":   int64(p.ChunkIndex),
		"total_chunks":  int64(p.TotalChunks),
	}
}

func payloadFromValueMap(m map[string]*qdrant.Value) domain.VectorPayload {
	return domain.VectorPayload{
		ProjectID:    stringValue(m, "project_id"),
		FilePath:     stringValue(m, "file_path"),
		StartLine:    int(intValue(m, "start_line")),
		EndLine:      int(intValue(m, "end_line")),
		Language:     stringValue(m, "language"),
		SemanticType: domain.SemanticType(stringValue(m, "semantic_type")),
		SemanticName: stringValue(m, "semantic_name"),
		ChunkIndex:   int(intValue(m, "chunk_index")),
		TotalChunks:  int(intValue(m, "total_chunks")),
		ChunkHash:    stringValue(m, "chunk_hash"),
	}
}

func stringValue(m map[string]*qdrant.Value, key string) string {
	if v, ok := m[key]; ok {
		return v.GetStringValue()
	}

	return ""
}

func intValue(m map[string]*qdrant.Value, key string) int64 {
	if v, ok := m[key]; ok {
		return v.GetIntegerValue()
	}

	return 0
}

// Index stores one entry. IndexBatch should be preferred for bulk loads
// since it amortizes the post-batch verification step.
func (s *QdrantStore) Index(ctx context.Context, projectID string, entry domain.VectorEntry) error {
	return s.IndexBatch(ctx, projectID, []domain.VectorEntry{entry})
}

// IndexBatch upserts entries, unit-normalizing each vector, then verifies a
// sample of the batch by retrieving it back and checking the chunk_index /
// total_chunks invariant, and optionally recounts to confirm the point
// count increased (spec.md §4.5).
func (s *QdrantStore) IndexBatch(ctx context.Context, projectID string, entries []domain.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	name := s.collectionName(projectID)
	if err := s.ensureCollection(ctx, name); err != nil {
		return err
	}

	var beforeCount int64

	if s.cfg.FailOnIndexingFailure {
		var err error

		beforeCount, err = s.Count(ctx, projectID)
		if err != nil {
			return err
		}
	}

	points := make([]*qdrant.PointStruct, 0, len(entries))
	ids := make([]uint64ID, 0, len(entries))

	for _, entry := range entries {
		if err := validateEntry(entry, s.dimension); err != nil {
			return fmt.Errorf("vectorstore: entry %s: %w", entry.ChunkHash, err)
		}

		hi, lo := pointID(entry.ChunkHash)
		id := uint64ID{hi: hi, lo: lo}
		ids = append(ids, id)

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(id.fold()),
			Vectors: qdrant.NewVectors(normalize(entry.Vector)...),
			Payload: qdrant.NewValueMap(payloadMap(projectID, entry.ChunkHash, entry.Payload)),
		})
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: name, Points: points}); err != nil {
		return fmt.Errorf("vectorstore: upsert batch: %w", err)
	}

	if s.cfg.VerifySampleEvery > 0 {
		if err := s.verifySample(ctx, name, ids); err != nil {
			return err
		}
	}

	if s.cfg.FailOnIndexingFailure {
		afterCount, err := s.Count(ctx, projectID)
		if err != nil {
			return err
		}

		if afterCount <= beforeCount {
			return ErrIndexingStalled
		}
	}

	return nil
}

// uint64ID is the two 64-bit halves taken from the first 16 bytes of a
// chunk hash's SHA-256 digest; Qdrant point ids are a single uint64, so
// fold() combines them with XOR to keep both halves' entropy in play.
type uint64ID struct {
	hi, lo uint64
}

func (id uint64ID) fold() uint64 {
	return id.hi ^ id.lo
}

func (s *QdrantStore) verifySample(ctx context.Context, collection string, ids []uint64ID) error {
	for i, id := range ids {
		if i%s.cfg.VerifySampleEvery != 0 {
			continue
		}

		points, err := s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            []*qdrant.PointId{qdrant.NewIDNum(id.fold())},
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return fmt.Errorf("vectorstore: verify sample: %w", err)
		}

		for _, point := range points {
			payload := payloadFromValueMap(point.Payload)

			if payload.TotalChunks <= 0 || payload.ChunkIndex < 0 || payload.ChunkIndex >= payload.TotalChunks {
				return fmt.Errorf("%w: chunk_index=%d total_chunks=%d", ErrVerificationFailed, payload.ChunkIndex, payload.TotalChunks)
			}
		}
	}

	return nil
}

// Query normalizes the caller-supplied vector and returns the topK closest
// points in the project's collection.
func (s *QdrantStore) Query(ctx context.Context, projectID string, vector []float32, topK int) ([]domain.VectorQueryResult, error) {
	name := s.collectionName(projectID)

	limit := uint64(topK)

	req := &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(normalize(vector)...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}

	if !s.cfg.PerProjectCollections {
		req.Filter = projectFilter(projectID)
	}

	hits, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query: %w", err)
	}

	out := make([]domain.VectorQueryResult, 0, len(hits))
	for _, hit := range hits {
		payload := payloadFromValueMap(hit.Payload)
		out = append(out, domain.VectorQueryResult{
			ChunkHash: payload.ChunkHash,
			Score:     hit.Score,
			Payload:   payload,
		})
	}

	return out, nil
}

// Delete removes the point for one chunk hash.
func (s *QdrantStore) Delete(ctx context.Context, projectID, chunkHash string) error {
	name := s.collectionName(projectID)
	hi, lo := pointID(chunkHash)
	id := uint64ID{hi: hi, lo: lo}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{qdrant.NewIDNum(id.fold())}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete %s: %w", chunkHash, err)
	}

	return nil
}

// DeleteByProject removes every vector belonging to a project. In
// per-project mode this drops the whole collection; in shared mode it
// deletes by a project_id payload filter.
func (s *QdrantStore) DeleteByProject(ctx context.Context, projectID string) error {
	name := s.collectionName(projectID)

	if s.cfg.PerProjectCollections {
		if err := s.client.DeleteCollection(ctx, name); err != nil {
			return fmt.Errorf("vectorstore: delete collection %s: %w", name, err)
		}

		return nil
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: projectFilter(projectID)},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete by project %s: %w", projectID, err)
	}

	return nil
}

// projectFilter builds a Must-match-text condition on the project_id
// payload field, following the grounding client's Condition_Field /
// FieldCondition / Match_Text shape.
func projectFilter(projectID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key:   "project_id",
						Match: &qdrant.Match{MatchValue: &qdrant.Match_Text{Text: projectID}},
					},
				},
			},
		},
	}
}

// Count returns the number of points in the project's collection (or
// matching its filter in shared mode).
func (s *QdrantStore) Count(ctx context.Context, projectID string) (int64, error) {
	name := s.collectionName(projectID)

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: check collection %s: %w", name, err)
	}

	if !exists {
		return 0, nil
	}

	if !s.cfg.PerProjectCollections {
		exact := true

		n, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: name,
			Filter:         projectFilter(projectID),
			Exact:          &exact,
		})
		if err != nil {
			return 0, fmt.Errorf("vectorstore: count %s: %w", name, err)
		}

		return int64(n), nil
	}

	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: collection info %s: %w", name, err)
	}

	return int64(info.GetPointsCount()), nil
}

// Close releases the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client == nil {
		return nil
	}

	return s.client.Close()
}

func parseQdrantAddr(addr string) (host string, port int) {
	port = defaultQdrantPort

	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, port
	}

	if parsed, err := strconv.Atoi(p); err == nil {
		port = parsed
	}

	return h, port
}
