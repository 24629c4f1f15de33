package domain

import "time"

// RoomStatus tracks where a room is in its lifecycle.
type RoomStatus string

const (
	StatusLobby          RoomStatus = "lobby"
	StatusInProgress     RoomStatus = "in_progress"
	StatusShowingResults RoomStatus = "showing_results"
	StatusFinished       RoomStatus = "finished"
)

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
}

// QuestionSet is the fixed question sequence derived from one seed.
type QuestionSet struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// OptionView is the client-facing option shape; the correct flag stays
// server-side until results are shown.
type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ParticipantView is a snapshot-friendly view of one room member.
type ParticipantView struct {
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
	Connected   bool   `json:"connected"`
}

// RoomSnapshot captures a room's externally visible state.
type RoomSnapshot struct {
	Code          string            `json:"code"`
	Title         string            `json:"title"`
	Creator       string            `json:"creator"`
	Status        RoomStatus        `json:"status"`
	QuestionIndex int               `json:"questionIndex"`
	QuestionTotal int               `json:"questionTotal"`
	Participants  []ParticipantView `json:"participants"`
}

// ScoreEntry is one row of a room's scoreboard.
type ScoreEntry struct {
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
}

// RoomResult is the terminal outcome of a room, handed to the archiver.
type RoomResult struct {
	RoomCode      string       `json:"roomCode"`
	Title         string       `json:"title"`
	QuestionTotal int          `json:"questionTotal"`
	FinishedAt    time.Time    `json:"finishedAt"`
	Scores        []ScoreEntry `json:"scores"`
}
