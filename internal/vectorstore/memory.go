package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/archreview/archreview/internal/domain"
)

// MemoryStore is an in-process Store used by tests and local development
// without a Qdrant instance. It implements the same tenancy, normalization,
// and verification semantics as QdrantStore, minus the network.
type MemoryStore struct {
	perProject        bool
	verifySampleEvery int
	dimension         int

	mu         sync.Mutex
	byProject  map[string]map[string]domain.VectorEntry
}

// NewMemoryStore builds an in-memory Store with the given tenancy mode,
// verification sampling rate, and expected vector dimension.
func NewMemoryStore(perProjectCollections bool, verifySampleEvery, dimension int) *MemoryStore {
	return &MemoryStore{
		perProject:        perProjectCollections,
		verifySampleEvery: verifySampleEvery,
		dimension:         dimension,
		byProject:         make(map[string]map[string]domain.VectorEntry),
	}
}

func (m *MemoryStore) Index(_ context.Context, projectID string, entry domain.VectorEntry) error {
	return m.IndexBatch(context.Background(), projectID, []domain.VectorEntry{entry})
}

func (m *MemoryStore) IndexBatch(_ context.Context, projectID string, entries []domain.VectorEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.byProject[projectID]
	if !ok {
		bucket = make(map[string]domain.VectorEntry)
		m.byProject[projectID] = bucket
	}

	for i, entry := range entries {
		if err := validateEntry(entry, m.dimension); err != nil {
			return err
		}

		normalized := entry
		normalized.Vector = normalize(entry.Vector)
		bucket[entry.ChunkHash] = normalized

		if m.verifySampleEvery > 0 && i%m.verifySampleEvery == 0 {
			p := normalized.Payload
			if p.TotalChunks <= 0 || p.ChunkIndex < 0 || p.ChunkIndex >= p.TotalChunks {
				return ErrVerificationFailed
			}
		}
	}

	return nil
}

func (m *MemoryStore) Query(_ context.Context, projectID string, vector []float32, topK int) ([]domain.VectorQueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	normalizedQuery := normalize(vector)

	bucket := m.byProject[projectID]

	results := make([]domain.VectorQueryResult, 0, len(bucket))
	for _, entry := range bucket {
		results = append(results, domain.VectorQueryResult{
			ChunkHash: entry.ChunkHash,
			Score:     dotProduct(normalizedQuery, entry.Vector),
			Payload:   entry.Payload,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

func (m *MemoryStore) Delete(_ context.Context, projectID, chunkHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bucket, ok := m.byProject[projectID]; ok {
		delete(bucket, chunkHash)
	}

	return nil
}

func (m *MemoryStore) DeleteByProject(_ context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.byProject, projectID)

	return nil
}

func (m *MemoryStore) Count(_ context.Context, projectID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return int64(len(m.byProject[projectID])), nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func dotProduct(a, b []float32) float32 {
	var sum float32

	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}

	return sum
}
