package embedder

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"sync"
)

// ServiceConfig configures the process-lifetime encoder handle.
type ServiceConfig struct {
	Embedder Embedder

	// CacheSize bounds the byte-hash memoization cache. Default 256 entries;
	// negative disables caching.
	CacheSize int
}

// Service is the process-lifetime encoder handle shared by the pipeline and
// the catalog runtime. It is constructed once at startup, injected where
// needed, and safe for concurrent use. Encode is referentially transparent:
// identical bytes yield the identical unit vector, memoized by content hash.
type Service struct {
	embedder  Embedder
	cacheSize int

	mu    sync.RWMutex
	cache map[[32]byte][]float32
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("Embedder is required")
	}
	if cfg.Embedder.Dimensions() <= 0 {
		return nil, fmt.Errorf("Embedder must report positive Dimensions")
	}
	size := cfg.CacheSize
	if size == 0 {
		size = 256
	}
	s := &Service{embedder: cfg.Embedder, cacheSize: size}
	if size > 0 {
		s.cache = make(map[[32]byte][]float32, size)
	}
	return s, nil
}

func (s *Service) Model() string   { return s.embedder.Model() }
func (s *Service) Dimensions() int { return s.embedder.Dimensions() }

// Encode returns the unit-normalized embedding of the image bytes.
func (s *Service) Encode(ctx context.Context, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("image bytes are required")
	}

	key := sha256.Sum256(data)
	if s.cache != nil {
		s.mu.RLock()
		vec, ok := s.cache[key]
		s.mu.RUnlock()
		if ok {
			return clone(vec), nil
		}
	}

	raw, err := s.embedder.EmbedImage(ctx, Image{
		ContentType: http.DetectContentType(data),
		Bytes:       data,
	})
	if err != nil {
		return nil, fmt.Errorf("embed image: %w", err)
	}
	if len(raw) != s.embedder.Dimensions() {
		return nil, fmt.Errorf("embedder returned %d dims, want %d", len(raw), s.embedder.Dimensions())
	}
	if Norm(raw) == 0 {
		return nil, fmt.Errorf("embedder returned a zero vector")
	}
	vec := Normalize(raw)

	if s.cache != nil {
		s.mu.Lock()
		// Full cache: new entries are simply not retained.
		if len(s.cache) < s.cacheSize {
			s.cache[key] = clone(vec)
		}
		s.mu.Unlock()
	}
	return vec, nil
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
