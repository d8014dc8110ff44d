package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/propelize/rental-api/pkg/errors"
)

type cacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService wraps the cache repository with a feature gate and soft
// failure semantics: a broken cache degrades to a miss, it never fails a
// request.
type CacheService struct {
	repo    cacheRepository
	logger  *zap.Logger
	metrics *MetricsService
	enabled bool
	ttl     time.Duration
}

func NewCacheService(repo cacheRepository, logger *zap.Logger, enabled bool, ttl time.Duration) *CacheService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, logger: logger, enabled: enabled && repo != nil, ttl: ttl}
}

// WithMetrics attaches hit/miss counters to cache reads.
func (s *CacheService) WithMetrics(m *MetricsService) *CacheService {
	if s != nil {
		s.metrics = m
	}
	return s
}

// Enabled reports whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled
}

// Get attempts a cache read; returns true on a hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) bool {
	if !s.Enabled() {
		return false
	}
	if err := s.repo.Get(ctx, key, dest); err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		s.metrics.RecordCacheOperation(false)
		return false
	}
	s.metrics.RecordCacheOperation(true)
	return true
}

// Set stores a value under the configured TTL.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate removes every key matching the pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
	}
}

// VehicleListKey derives a deterministic cache key from list parameters.
func VehicleListKey(ownerID, make, search string, page, pageSize int, sortBy, sortOrder string) string {
	return fmt.Sprintf("vehicles:list:%s:%s:%s:%d:%d:%s:%s", ownerID, make, search, page, pageSize, sortBy, sortOrder)
}
