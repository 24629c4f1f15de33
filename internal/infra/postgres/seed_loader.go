package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizroom-service/internal/domain"
)

// SeedLoader loads question-set JSONB from Postgres. Rows are written by
// the document ingestion service that turns uploaded material into
// question sequences.
type SeedLoader struct {
	pool *pgxpool.Pool
}

func NewSeedLoader(pool *pgxpool.Pool) *SeedLoader {
	return &SeedLoader{pool: pool}
}

func (l *SeedLoader) LoadQuestionSet(ctx context.Context, seedID string) (domain.QuestionSet, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM question_seeds WHERE id=$1`, seedID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuestionSet{}, domain.ErrSeedNotFound
	}
	if err != nil {
		return domain.QuestionSet{}, fmt.Errorf("load question seed: %w", err)
	}
	var set domain.QuestionSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return domain.QuestionSet{}, fmt.Errorf("unmarshal question seed: %w", err)
	}
	return set, nil
}
