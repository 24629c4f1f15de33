package domain

import "errors"

var (
	// ErrRoomNotFound is returned when a room code does not resolve to a live room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNameTaken is returned when a display name collides with a connected participant.
	ErrNameTaken = errors.New("display name already taken")
	// ErrAlreadyAnswered marks a duplicate submission for the current question.
	ErrAlreadyAnswered = errors.New("already answered this question")
	// ErrInvalidSeed indicates no questions could be derived from a seed.
	ErrInvalidSeed = errors.New("invalid question seed")
	// ErrSeedNotFound indicates the seed content could not be loaded.
	ErrSeedNotFound = errors.New("question seed not found")
	// ErrRoomClosed is returned when a command reaches a room that has shut down.
	ErrRoomClosed = errors.New("room closed")
	// ErrParticipantNotFound is returned when a user acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrQuestionClosed rejects submissions outside the open question window.
	ErrQuestionClosed = errors.New("question not open")
	// ErrChannelLost is surfaced by the client once reconnection attempts are exhausted.
	ErrChannelLost = errors.New("connection lost")
	// ErrJoinTimeout is surfaced by the client when no join acknowledgment arrives.
	ErrJoinTimeout = errors.New("timed out waiting for join acknowledgment")
)
