package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"quizroom-service/internal/domain"
)

func TestSeedRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		SeedLoader: NewStaticSeedLoader(map[string]domain.QuestionSet{
			"seed-1": sampleSet(),
		}),
	}
	repo := NewSeedRepository(loader, time.Minute)

	if _, err := repo.GetQuestionSet(context.Background(), "seed-1"); err != nil {
		t.Fatalf("get question set: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	if _, err := repo.GetQuestionSet(context.Background(), "seed-1"); err != nil {
		t.Fatalf("get question set 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
}

func TestSeedRepositoryUnknownSeed(t *testing.T) {
	repo := NewSeedRepository(NewStaticSeedLoader(nil), time.Minute)
	if _, err := repo.GetQuestionSet(context.Background(), "missing"); !errors.Is(err, domain.ErrSeedNotFound) {
		t.Fatalf("expected ErrSeedNotFound, got %v", err)
	}
}

type countingLoader struct {
	SeedLoader
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
