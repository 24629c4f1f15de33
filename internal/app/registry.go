package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"quizroom-service/internal/domain"
)

// RoomStore abstracts how the code->room table is held (in-memory, Redis-marked, etc).
type RoomStore interface {
	Put(code string, room *Room) bool
	Get(code string) (*Room, bool)
	Delete(code string)
	Len() int
}

// SeedRepository loads the question sequence derived from one seed.
type SeedRepository interface {
	GetQuestionSet(ctx context.Context, seedID string) (domain.QuestionSet, error)
}

// ScoreArchiver persists final scores once a room finishes.
type ScoreArchiver interface {
	Archive(ctx context.Context, result domain.RoomResult) error
}

// codeAlphabet omits ambiguous glyphs so codes survive being read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

// Registry is the process-wide room table and the entry point for every
// room command. Rooms are independent actors; the registry only guards
// the code->room mapping.
type Registry struct {
	store    RoomStore
	seeds    SeedRepository
	archiver ScoreArchiver
	timing   Timing
	log      *zap.SugaredLogger

	roomCtx context.Context
	cancel  context.CancelFunc
}

func NewRegistry(store RoomStore, seeds SeedRepository, archiver ScoreArchiver, timing Timing, log *zap.SugaredLogger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		store:    store,
		seeds:    seeds,
		archiver: archiver,
		timing:   timing.withDefaults(),
		log:      log.Named("registry"),
		roomCtx:  ctx,
		cancel:   cancel,
	}
}

// Close tears down every live room. Each loop broadcasts room_closed on
// its way out.
func (g *Registry) Close() {
	g.cancel()
}

// CreateRoom builds the question sequence from the seed, allocates a
// fresh code, and starts the room with the creator as sole participant.
func (g *Registry) CreateRoom(ctx context.Context, title, creatorName, seedID string, sink Sink) (domain.RoomSnapshot, error) {
	creatorName = strings.TrimSpace(creatorName)
	if creatorName == "" {
		return domain.RoomSnapshot{}, fmt.Errorf("creator name required")
	}

	set, err := g.seeds.GetQuestionSet(ctx, seedID)
	if err != nil {
		return domain.RoomSnapshot{}, fmt.Errorf("%w: %v", domain.ErrInvalidSeed, err)
	}
	if len(set.Questions) == 0 {
		return domain.RoomSnapshot{}, domain.ErrInvalidSeed
	}

	var room *Room
	var code string
	for {
		code = randomCode()
		room = newRoom(code, title, creatorName, set.Questions, g.timing, g.log, g.archiver, g.store.Delete)
		if g.store.Put(code, room) {
			break
		}
	}

	room.participants = append(room.participants, &participant{
		name:      creatorName,
		connected: true,
		sink:      sink,
	})
	snap := room.snapshot()
	sink.Deliver(domain.Event{Type: domain.EvtRoomCreated, Payload: domain.RoomCreatedPayload{
		RoomCode:    code,
		CreatorName: creatorName,
	}})
	go room.run(g.roomCtx)

	g.log.Infow("room created", "code", code, "creator", creatorName, "questions", len(set.Questions))
	return snap, nil
}

// JoinRoom adds a participant to an existing room, or resumes one
// reconnecting with the same name inside the grace period.
func (g *Registry) JoinRoom(ctx context.Context, code, displayName string, sink Sink) (domain.RoomSnapshot, bool, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return domain.RoomSnapshot{}, false, fmt.Errorf("display name required")
	}
	room, ok := g.lookupRoom(code)
	if !ok {
		return domain.RoomSnapshot{}, false, domain.ErrRoomNotFound
	}
	snap, resumed, err := room.Join(ctx, displayName, sink)
	if err == domain.ErrRoomClosed {
		return domain.RoomSnapshot{}, false, domain.ErrRoomNotFound
	}
	return snap, resumed, err
}

// LeaveRoom removes a participant immediately; no grace period applies.
func (g *Registry) LeaveRoom(ctx context.Context, code, displayName string) error {
	room, ok := g.lookupRoom(code)
	if !ok {
		return domain.ErrRoomNotFound
	}
	return room.Leave(ctx, displayName)
}

// SubmitResponse records an answer for the open question.
func (g *Registry) SubmitResponse(ctx context.Context, code, displayName, option string, questionIndex int) error {
	room, ok := g.lookupRoom(code)
	if !ok {
		return domain.ErrRoomNotFound
	}
	return room.Submit(ctx, displayName, option, questionIndex)
}

// PingRoom resets the room's idle clock on behalf of a keep-alive.
func (g *Registry) PingRoom(ctx context.Context, code, displayName string) error {
	room, ok := g.lookupRoom(code)
	if !ok {
		return domain.ErrRoomNotFound
	}
	return room.Ping(ctx, displayName)
}

// Disconnect marks a participant as dropped after a channel close.
func (g *Registry) Disconnect(ctx context.Context, code, displayName string, sink Sink) error {
	room, ok := g.lookupRoom(code)
	if !ok {
		return domain.ErrRoomNotFound
	}
	return room.Disconnect(ctx, displayName, sink)
}

// Lookup is the out-of-band room-info query used before joining.
func (g *Registry) Lookup(ctx context.Context, code string) (domain.RoomSnapshot, error) {
	room, ok := g.lookupRoom(code)
	if !ok {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}
	snap, err := room.Snapshot(ctx)
	if err == domain.ErrRoomClosed {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}
	return snap, err
}

func (g *Registry) lookupRoom(code string) (*Room, bool) {
	return g.store.Get(NormalizeCode(code))
}

// NormalizeCode canonicalizes a room code; codes are case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func randomCode() string {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}
