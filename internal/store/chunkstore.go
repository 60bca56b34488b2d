package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/auditkit/guideline-rag/internal/apperr"
	"github.com/auditkit/guideline-rag/internal/blob"
	"github.com/auditkit/guideline-rag/internal/chunk"
)

// DefaultChunksKey is the blob key for the persisted chunk collection.
const DefaultChunksKey = "chunks/chunks.json"

// ChunkStore is the durable id-to-chunk mapping with an in-memory
// read-through cache. The persisted form is a single JSON array; the
// cache is rebuilt from it on cold start or forced reload.
//
// The store is not the system of record for anything requiring strict
// consistency, so read failures degrade to empty results at call
// sites that want graceful degradation.
type ChunkStore struct {
	store  blob.Store
	key    string
	logger *slog.Logger

	mu     sync.RWMutex
	cache  map[string]chunk.Chunk
	loaded bool
}

// NewChunkStore creates a chunk store persisting to key in the given
// blob store. An empty key uses DefaultChunksKey.
func NewChunkStore(store blob.Store, key string, logger *slog.Logger) *ChunkStore {
	if key == "" {
		key = DefaultChunksKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkStore{
		store:  store,
		key:    key,
		logger: logger,
	}
}

// Load populates the cache from the blob store. A warm cache is a
// no-op unless force is set. A missing blob yields an empty cache,
// not an error.
func (s *ChunkStore) Load(ctx context.Context, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded && !force {
		return nil
	}
	return s.loadLocked(ctx)
}

// loadLocked reads and decodes the persisted collection. Caller holds
// the write lock.
func (s *ChunkStore) loadLocked(ctx context.Context) error {
	data, err := s.store.Get(ctx, s.key)
	if err != nil {
		if blob.IsNotFound(err) {
			s.logger.Warn("chunks blob does not exist, starting empty", "key", s.key)
			s.cache = make(map[string]chunk.Chunk)
			s.loaded = true
			return nil
		}
		return apperr.Unavailable("chunkstore.load", err)
	}

	var chunks []chunk.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return apperr.Corrupt("chunkstore.load", err)
	}

	s.cache = make(map[string]chunk.Chunk, len(chunks))
	for _, ch := range chunks {
		s.cache[ch.ID] = ch
	}
	s.loaded = true
	s.logger.Info("loaded chunks", "count", len(s.cache), "key", s.key)
	return nil
}

// ensureLoaded lazily loads the cache, degrading to empty on failure.
func (s *ChunkStore) ensureLoaded(ctx context.Context) {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return
	}
	if err := s.loadLocked(ctx); err != nil {
		s.logger.Error("failed to load chunks, serving empty", "error", err)
		s.cache = make(map[string]chunk.Chunk)
		s.loaded = true
	}
}

// Get returns the chunk for id, if present.
func (s *ChunkStore) Get(ctx context.Context, id string) (chunk.Chunk, bool) {
	s.ensureLoaded(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.cache[id]
	return ch, ok
}

// GetMany resolves ids to chunks, preserving the caller's order and
// silently omitting IDs not found. Callers must tolerate fewer
// results than IDs requested.
func (s *ChunkStore) GetMany(ctx context.Context, ids []string) []chunk.Chunk {
	s.ensureLoaded(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := make([]chunk.Chunk, 0, len(ids))
	for _, id := range ids {
		ch, ok := s.cache[id]
		if !ok {
			s.logger.Warn("chunk not found", "chunk_id", id)
			continue
		}
		chunks = append(chunks, ch)
	}
	return chunks
}

// Save persists chunks as a full replacement and rebuilds the cache
// from the given sequence only.
func (s *ChunkStore) Save(ctx context.Context, chunks []chunk.Chunk) error {
	data, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return apperr.Internal("chunkstore.save", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Put(ctx, s.key, data); err != nil {
		return apperr.Unavailable("chunkstore.save", err)
	}

	s.cache = make(map[string]chunk.Chunk, len(chunks))
	for _, ch := range chunks {
		s.cache[ch.ID] = ch
	}
	s.loaded = true

	s.logger.Info("saved chunks", "count", len(chunks), "key", s.key)
	return nil
}

// Add merges new chunks into the persisted collection. A new chunk
// sharing an ID with an existing record replaces it (last-write-wins).
func (s *ChunkStore) Add(ctx context.Context, newChunks []chunk.Chunk) error {
	if len(newChunks) == 0 {
		return nil
	}
	s.ensureLoaded(ctx)

	s.mu.RLock()
	merged := make(map[string]chunk.Chunk, len(s.cache)+len(newChunks))
	for id, ch := range s.cache {
		merged[id] = ch
	}
	s.mu.RUnlock()

	for _, ch := range newChunks {
		merged[ch.ID] = ch
	}

	all := make([]chunk.Chunk, 0, len(merged))
	for _, ch := range merged {
		all = append(all, ch)
	}
	return s.Save(ctx, all)
}

// DeleteBySource removes every chunk whose SourceURL matches,
// persists the remainder, and returns the removed count. No matches
// is not an error.
func (s *ChunkStore) DeleteBySource(ctx context.Context, sourceURL string) (int, error) {
	s.ensureLoaded(ctx)

	s.mu.RLock()
	remaining := make([]chunk.Chunk, 0, len(s.cache))
	removed := 0
	for _, ch := range s.cache {
		if ch.SourceURL == sourceURL {
			removed++
			continue
		}
		remaining = append(remaining, ch)
	}
	s.mu.RUnlock()

	if removed == 0 {
		s.logger.Info("no chunks for source", "source_url", sourceURL)
		return 0, nil
	}

	if err := s.Save(ctx, remaining); err != nil {
		return 0, err
	}
	s.logger.Info("deleted chunks", "count", removed, "source_url", sourceURL)
	return removed, nil
}

// IDsBySource returns the IDs of every chunk from the given source.
func (s *ChunkStore) IDsBySource(ctx context.Context, sourceURL string) []string {
	s.ensureLoaded(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, ch := range s.cache {
		if ch.SourceURL == sourceURL {
			ids = append(ids, id)
		}
	}
	return ids
}

// All returns every cached chunk.
func (s *ChunkStore) All(ctx context.Context) []chunk.Chunk {
	s.ensureLoaded(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := make([]chunk.Chunk, 0, len(s.cache))
	for _, ch := range s.cache {
		chunks = append(chunks, ch)
	}
	return chunks
}

// Stats summarizes the store's contents by source.
func (s *ChunkStore) Stats(ctx context.Context) ChunkStoreStats {
	s.ensureLoaded(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	sources := make(map[string]int)
	for _, ch := range s.cache {
		sources[ch.SourceURL]++
	}
	return ChunkStoreStats{
		TotalChunks:   len(s.cache),
		UniqueSources: len(sources),
		Sources:       sources,
		CacheLoaded:   s.loaded,
	}
}
