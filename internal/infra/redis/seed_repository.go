package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quizroom-service/internal/domain"
)

// SeedLoader fetches question-set content from a backing store.
type SeedLoader interface {
	LoadQuestionSet(ctx context.Context, seedID string) (domain.QuestionSet, error)
}

// SeedRepository caches question sets in Redis (one JSON value per seed)
// and falls back to a loader on cache miss.
// Sets are stored as: SET seed:{seedID}:questions {json} EX {ttl}
type SeedRepository struct {
	client *redis.Client
	loader SeedLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewSeedRepository(client *redis.Client, loader SeedLoader, ttl time.Duration) *SeedRepository {
	return &SeedRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *SeedRepository) GetQuestionSet(ctx context.Context, seedID string) (domain.QuestionSet, error) {
	key := r.key(seedID)

	if raw, err := r.client.Get(ctx, key).Result(); err == nil {
		var set domain.QuestionSet
		if err := json.Unmarshal([]byte(raw), &set); err == nil {
			return set, nil
		}
		// corrupt cache entry, fall through to the loader
		_ = r.client.Del(ctx, key).Err()
	}

	result, err, _ := r.sf.Do(seedID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if raw, err := r.client.Get(ctx, key).Result(); err == nil {
			var set domain.QuestionSet
			if err := json.Unmarshal([]byte(raw), &set); err == nil {
				return set, nil
			}
		}

		set, err := r.loader.LoadQuestionSet(ctx, seedID)
		if err != nil {
			return domain.QuestionSet{}, err
		}

		if data, err := json.Marshal(set); err == nil {
			_ = r.client.Set(ctx, key, data, r.ttlWithJitter()).Err()
		}
		return set, nil
	})
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return result.(domain.QuestionSet), nil
}

func (r *SeedRepository) key(seedID string) string {
	return "seed:" + seedID + ":questions"
}

func (r *SeedRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
