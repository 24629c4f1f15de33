package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quizroom-service/internal/domain"
)

// SeedLoader fetches question-set content from a backing store (e.g., the
// document ingestion pipeline's output table).
type SeedLoader interface {
	LoadQuestionSet(ctx context.Context, seedID string) (domain.QuestionSet, error)
}

// SeedRepository caches question sets with TTL to avoid repeated loader hits.
type SeedRepository struct {
	loader SeedLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedSet
}

type cachedSet struct {
	set       domain.QuestionSet
	expiresAt time.Time
}

func NewSeedRepository(loader SeedLoader, ttl time.Duration) *SeedRepository {
	return &SeedRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedSet),
	}
}

func (r *SeedRepository) GetQuestionSet(ctx context.Context, seedID string) (domain.QuestionSet, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[seedID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.set, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(seedID, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[seedID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.set, nil
		}
		r.mu.RUnlock()

		set, err := r.loader.LoadQuestionSet(ctx, seedID)
		if err != nil {
			return domain.QuestionSet{}, err
		}

		r.mu.Lock()
		r.cache[seedID] = cachedSet{
			set:       set,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return result.(domain.QuestionSet), nil
}

// StaticSeedLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticSeedLoader struct {
	sets map[string]domain.QuestionSet
}

func NewStaticSeedLoader(sets map[string]domain.QuestionSet) *StaticSeedLoader {
	return &StaticSeedLoader{sets: sets}
}

func (l *StaticSeedLoader) LoadQuestionSet(_ context.Context, seedID string) (domain.QuestionSet, error) {
	if set, ok := l.sets[seedID]; ok {
		return set, nil
	}
	return domain.QuestionSet{}, domain.ErrSeedNotFound
}

func (r *SeedRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
