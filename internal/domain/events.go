package domain

import (
	"encoding/json"
	"time"
)

// Client-to-coordinator command types.
const (
	CmdCreateRoom     = "create_room"
	CmdJoinRoom       = "join_room"
	CmdSubmitResponse = "submit_response"
	CmdLeaveRoom      = "leave_room"
	CmdPingRoom       = "ping_room"
)

// Coordinator-to-client event types.
const (
	EvtRoomCreated  = "room_created"
	EvtRoomJoined   = "room_joined"
	EvtUserJoined   = "user_joined"
	EvtUserLeft     = "user_left"
	EvtNextQuestion = "next_question"
	EvtShowResults  = "show_results"
	EvtGameOver     = "game_over"
	EvtRoomClosed   = "room_closed"
	EvtError        = "error"
)

// Envelope frames every message on the wire in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is an outbound message before serialization.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type CreateRoomPayload struct {
	Title       string `json:"title"`
	CreatorName string `json:"creatorName"`
	SeedID      string `json:"seedId"`
}

type JoinRoomPayload struct {
	RoomCode    string `json:"roomCode"`
	DisplayName string `json:"displayName"`
}

type SubmitResponsePayload struct {
	RoomCode      string `json:"roomCode"`
	DisplayName   string `json:"displayName"`
	Option        string `json:"option"`
	QuestionIndex int    `json:"questionIndex"`
}

type LeaveRoomPayload struct {
	RoomCode    string `json:"roomCode"`
	DisplayName string `json:"displayName"`
}

type PingRoomPayload struct {
	RoomCode    string `json:"roomCode"`
	DisplayName string `json:"displayName"`
}

type RoomCreatedPayload struct {
	RoomCode    string `json:"roomCode"`
	CreatorName string `json:"creatorName"`
}

type RoomJoinedPayload struct {
	Snapshot RoomSnapshot `json:"snapshot"`
	Resumed  bool         `json:"resumed"`
}

// PresencePayload rides on user_joined and user_left broadcasts.
type PresencePayload struct {
	DisplayName  string            `json:"displayName"`
	Participants []ParticipantView `json:"participants"`
}

type NextQuestionPayload struct {
	QuestionIndex int          `json:"questionIndex"`
	QuestionTotal int          `json:"questionTotal"`
	Prompt        string       `json:"prompt"`
	Options       []OptionView `json:"options"`
	Deadline      time.Time    `json:"deadline"`
}

type ShowResultsPayload struct {
	QuestionIndex int            `json:"questionIndex"`
	CorrectOption string         `json:"correctOption"`
	Tally         map[string]int `json:"tally"`
	Scores        []ScoreEntry   `json:"scores"`
}

type GameOverPayload struct {
	RoomCode string       `json:"roomCode"`
	Scores   []ScoreEntry `json:"scores"`
}

type RoomClosedPayload struct {
	RoomCode string `json:"roomCode"`
	Reason   string `json:"reason"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
