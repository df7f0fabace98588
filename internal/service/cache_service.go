package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
	"github.com/noah-isme/smartgrade-api/pkg/risk"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// Student summaries are cached once per risk mode, so eviction is by student prefix.
const (
	teacherDashboardKeyFormat     = "dashboard:teacher:%s"
	studentDashboardKeyFormat     = "dashboard:student:%s:%s"
	studentDashboardPatternFormat = "dashboard:student:%s:*"
	allTeacherDashboardsPattern   = "dashboard:teacher:*"
)

func teacherDashboardKey(teacherID string) string {
	return fmt.Sprintf(teacherDashboardKeyFormat, teacherID)
}

func studentDashboardKey(studentID string, mode risk.Mode) string {
	return fmt.Sprintf(studentDashboardKeyFormat, studentID, mode)
}

// CacheService fronts the dashboard cache and records hit ratios. A nil *CacheService is a disabled cache.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// remember serves key from the cache or computes it with load and stores the result.
// Cache failures never fail the request; they are logged and load runs instead.
func remember[T any](ctx context.Context, cache *CacheService, key string, ttl time.Duration, load func() (*T, error)) (*T, bool, error) {
	if cache.Enabled() {
		var cached T
		if cache.lookup(ctx, key, &cached) {
			return &cached, true, nil
		}
	}
	value, err := load()
	if err != nil {
		return nil, false, err
	}
	if cache.Enabled() {
		cache.store(ctx, key, value, ttl)
	}
	return value, false, nil
}

func (s *CacheService) lookup(ctx context.Context, key string, dest interface{}) bool {
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	}
	if err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("dashboard cache read failed", zap.String("key", key), zap.Error(err))
	}
	return err == nil
}

func (s *CacheService) store(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	if s.metrics != nil {
		s.metrics.ObserveCacheWrite(time.Since(start))
	}
	if err != nil {
		s.logger.Warn("dashboard cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// ForgetStudents drops every cached self view of the given students, whatever risk mode it was built with.
func (s *CacheService) ForgetStudents(ctx context.Context, studentIDs ...string) {
	if !s.Enabled() {
		return
	}
	for _, id := range studentIDs {
		if id == "" {
			continue
		}
		if err := s.repo.DeleteByPattern(ctx, fmt.Sprintf(studentDashboardPatternFormat, id)); err != nil {
			s.logger.Warn("student dashboard eviction failed", zap.String("student_id", id), zap.Error(err))
		}
	}
}

// ForgetTeachers drops the roster dashboards of the given teachers.
func (s *CacheService) ForgetTeachers(ctx context.Context, teacherIDs ...string) {
	if !s.Enabled() {
		return
	}
	keys := make([]string, 0, len(teacherIDs))
	for _, id := range teacherIDs {
		if id != "" {
			keys = append(keys, teacherDashboardKey(id))
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := s.repo.Delete(ctx, keys...); err != nil {
		s.logger.Warn("teacher dashboard eviction failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// ForgetAllTeachers drops every roster dashboard; used when a student leaves all rosters at once.
func (s *CacheService) ForgetAllTeachers(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.DeleteByPattern(ctx, allTeacherDashboardsPattern); err != nil {
		s.logger.Warn("roster dashboard invalidation failed", zap.Error(err))
	}
}
