package postgres

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"quizroom-service/internal/domain"
)

// ResultRow is one participant's final score for one finished room.
type ResultRow struct {
	bun.BaseModel `bun:"table:room_results"`

	ID            int64  `bun:"id,pk,autoincrement"`
	RoomCode      string `bun:"room_code,notnull"`
	Title         string `bun:"title,notnull"`
	DisplayName   string `bun:"display_name,notnull"`
	Score         int    `bun:"score,notnull"`
	QuestionTotal int    `bun:"question_total,notnull"`
	FinishedAt    bun.NullTime
}

// ScoreArchiver persists final scores beyond the room's lifetime.
type ScoreArchiver struct {
	db *bun.DB
}

func NewScoreArchiver(db *bun.DB) *ScoreArchiver {
	return &ScoreArchiver{db: db}
}

func (a *ScoreArchiver) Archive(ctx context.Context, result domain.RoomResult) error {
	if len(result.Scores) == 0 {
		return nil
	}
	rows := make([]ResultRow, 0, len(result.Scores))
	for _, entry := range result.Scores {
		rows = append(rows, ResultRow{
			RoomCode:      result.RoomCode,
			Title:         result.Title,
			DisplayName:   entry.DisplayName,
			Score:         entry.Score,
			QuestionTotal: result.QuestionTotal,
			FinishedAt:    bun.NullTime{Time: result.FinishedAt},
		})
	}
	if _, err := a.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("archive room results: %w", err)
	}
	return nil
}
