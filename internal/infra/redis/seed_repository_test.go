package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
)

func TestSeedRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	loader := &countingLoader{
		SeedLoader: memory.NewStaticSeedLoader(map[string]domain.QuestionSet{
			"seed-1": sampleSet(),
		}),
	}
	repo := NewSeedRepository(client, loader, time.Minute)

	set, err := repo.GetQuestionSet(context.Background(), "seed-1")
	if err != nil {
		t.Fatalf("get question set: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if len(set.Questions) != 1 || set.Questions[0].Prompt == "" {
		t.Fatalf("cached form lost content: %+v", set)
	}

	// Second call should hit the redis cache with full fidelity.
	again, err := repo.GetQuestionSet(context.Background(), "seed-1")
	if err != nil {
		t.Fatalf("get question set 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if again.Questions[0].Prompt != set.Questions[0].Prompt {
		t.Fatalf("cache round-trip changed the question: %+v", again)
	}
}

type countingLoader struct {
	memory.SeedLoader
	calls int
}

func (l *countingLoader) LoadQuestionSet(ctx context.Context, seedID string) (domain.QuestionSet, error) {
	l.calls++
	return l.SeedLoader.LoadQuestionSet(ctx, seedID)
}

func sampleSet() domain.QuestionSet {
	return domain.QuestionSet{
		ID: "seed-1",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
				},
			},
		},
	}
}
