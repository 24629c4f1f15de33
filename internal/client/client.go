package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quizroom-service/internal/domain"
)

// Synthetic event types emitted locally by the client, never by the
// coordinator, so views can render connection status.
const (
	EvtReconnecting   = "reconnecting"
	EvtReconnected    = "reconnected"
	EvtConnectionLost = "connection_lost"
)

// Event is one message surfaced to the client's consumer. Err is set
// only on the terminal connection_lost event.
type Event struct {
	Type    string
	Payload json.RawMessage
	Err     error
}

// Config tunes the session client. Zero values get sensible defaults.
type Config struct {
	// URL is the coordinator's websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// RetryLimit bounds reconnection attempts after a channel loss.
	RetryLimit int
	// RetryBackoff is the fixed wait between reconnection attempts.
	RetryBackoff time.Duration
	// PingInterval spaces the keep-alive pings while a room is active.
	PingInterval time.Duration
	// JoinTimeout bounds the wait for a join/create acknowledgment.
	JoinTimeout time.Duration
	Logger      *zap.SugaredLogger
}

func (c Config) withDefaults() Config {
	if c.RetryLimit <= 0 {
		c.RetryLimit = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 10 * time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	return c
}

// Client is the participant-side counterpart of the coordinator: it
// owns one connection channel, reconnects on drop, and resumes its
// room association by re-sending the last known code and display name.
type Client struct {
	cfg    Config
	log    *zap.SugaredLogger
	dialer *websocket.Dialer

	events  chan Event
	joinAck chan struct{}
	done    chan struct{}

	mu       sync.Mutex
	ws       *websocket.Conn
	roomCode string
	name     string
	closed   bool
}

func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:     cfg,
		log:     cfg.Logger.Named("client"),
		dialer:  websocket.DefaultDialer,
		events:  make(chan Event, 64),
		joinAck: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Events is the stream of coordinator broadcasts plus the client's own
// connection-status events. The channel closes when the client does.
func (c *Client) Events() <-chan Event { return c.events }

// Connect dials the coordinator and starts the read and keep-alive loops.
func (c *Client) Connect(ctx context.Context) error {
	ws, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	go c.readLoop()
	go c.pingLoop()
	return nil
}

// Close tears the channel down without a leave; the coordinator sees a
// disconnect and starts the grace period.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ws := c.ws
	c.mu.Unlock()

	close(c.done)
	if ws != nil {
		_ = ws.Close()
	}
}

// CreateRoom asks the coordinator for a fresh room seeded from seedID
// and waits for the acknowledgment.
func (c *Client) CreateRoom(ctx context.Context, title, creatorName, seedID string) error {
	c.setIdentity("", creatorName)
	if err := c.send(domain.CmdCreateRoom, domain.CreateRoomPayload{
		Title:       title,
		CreatorName: creatorName,
		SeedID:      seedID,
	}); err != nil {
		return err
	}
	return c.awaitAck(ctx)
}

// JoinRoom associates this client with an existing room and waits for
// the snapshot acknowledgment.
func (c *Client) JoinRoom(ctx context.Context, roomCode, displayName string) error {
	c.setIdentity(roomCode, displayName)
	if err := c.send(domain.CmdJoinRoom, domain.JoinRoomPayload{
		RoomCode:    roomCode,
		DisplayName: displayName,
	}); err != nil {
		return err
	}
	return c.awaitAck(ctx)
}

// SubmitAnswer sends the chosen option for the given question index.
func (c *Client) SubmitAnswer(option string, questionIndex int) error {
	code, name := c.identity()
	return c.send(domain.CmdSubmitResponse, domain.SubmitResponsePayload{
		RoomCode:      code,
		DisplayName:   name,
		Option:        option,
		QuestionIndex: questionIndex,
	})
}

// Leave detaches from the current room explicitly; no grace period applies.
func (c *Client) Leave() error {
	code, name := c.identity()
	if code == "" {
		return nil
	}
	err := c.send(domain.CmdLeaveRoom, domain.LeaveRoomPayload{RoomCode: code, DisplayName: name})
	c.setIdentity("", "")
	return err
}

func (c *Client) awaitAck(ctx context.Context) error {
	timer := time.NewTimer(c.cfg.JoinTimeout)
	defer timer.Stop()
	select {
	case <-c.joinAck:
		return nil
	case <-timer.C:
		return domain.ErrJoinTimeout
	case <-c.done:
		return domain.ErrChannelLost
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()

		var envelope domain.Envelope
		if err := ws.ReadJSON(&envelope); err != nil {
			if c.isClosed() {
				return
			}
			if !c.reconnect() {
				c.emit(Event{Type: EvtConnectionLost, Err: domain.ErrChannelLost})
				return
			}
			continue
		}
		c.observe(envelope)
		c.emit(Event{Type: envelope.Type, Payload: envelope.Payload})
	}
}

// observe keeps the client's room association current from the
// coordinator's own acknowledgments, so a later resume sends the right code.
func (c *Client) observe(envelope domain.Envelope) {
	switch envelope.Type {
	case domain.EvtRoomCreated:
		var p domain.RoomCreatedPayload
		if err := json.Unmarshal(envelope.Payload, &p); err == nil {
			c.mu.Lock()
			c.roomCode = p.RoomCode
			c.mu.Unlock()
		}
		c.ack()
	case domain.EvtRoomJoined:
		var p domain.RoomJoinedPayload
		if err := json.Unmarshal(envelope.Payload, &p); err == nil {
			c.mu.Lock()
			c.roomCode = p.Snapshot.Code
			c.mu.Unlock()
		}
		c.ack()
	case domain.EvtRoomClosed, domain.EvtGameOver:
		// room is gone or terminal; stop resuming into it
	}
}

func (c *Client) ack() {
	select {
	case c.joinAck <- struct{}{}:
	default:
	}
}

// reconnect redials with bounded attempts and fixed backoff, then
// re-associates with the prior room by re-sending join_room.
func (c *Client) reconnect() bool {
	c.emit(Event{Type: EvtReconnecting})
	for attempt := 1; attempt <= c.cfg.RetryLimit; attempt++ {
		select {
		case <-c.done:
			return false
		case <-time.After(c.cfg.RetryBackoff):
		}

		ws, _, err := c.dialer.Dial(c.cfg.URL, nil)
		if err != nil {
			c.log.Debugw("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		old := c.ws
		c.ws = ws
		code, name := c.roomCode, c.name
		c.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}

		if code != "" && name != "" {
			if err := c.send(domain.CmdJoinRoom, domain.JoinRoomPayload{RoomCode: code, DisplayName: name}); err != nil {
				continue
			}
			if !c.awaitResumeAck(ws) {
				_ = ws.Close()
				continue
			}
		}
		c.emit(Event{Type: EvtReconnected})
		c.log.Infow("reconnected", "attempt", attempt, "room", code)
		return true
	}
	return false
}

// awaitResumeAck reads the coordinator's answer to a resume join. If the
// stale channel still holds the name the coordinator answers with an
// error event; the next attempt runs after the coordinator has observed
// the old channel's close.
func (c *Client) awaitResumeAck(ws *websocket.Conn) bool {
	_ = ws.SetReadDeadline(time.Now().Add(c.cfg.JoinTimeout))
	defer func() { _ = ws.SetReadDeadline(time.Time{}) }()
	for {
		var envelope domain.Envelope
		if err := ws.ReadJSON(&envelope); err != nil {
			return false
		}
		if envelope.Type == domain.EvtError {
			return false
		}
		c.observe(envelope)
		c.emit(Event{Type: envelope.Type, Payload: envelope.Payload})
		if envelope.Type == domain.EvtRoomJoined {
			return true
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			code, name := c.identity()
			if code == "" {
				continue
			}
			if err := c.send(domain.CmdPingRoom, domain.PingRoomPayload{RoomCode: code, DisplayName: name}); err != nil {
				c.log.Debugw("keep-alive failed", "error", err)
			}
		}
	}
}

func (c *Client) send(msgType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.ws == nil {
		return domain.ErrChannelLost
	}
	return c.ws.WriteJSON(domain.Envelope{Type: msgType, Payload: data})
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) setIdentity(code, name string) {
	c.mu.Lock()
	c.roomCode = code
	c.name = name
	c.mu.Unlock()
}

func (c *Client) identity() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomCode, c.name
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ParseDeadline converts a next_question payload into the seconds left
// for a purely cosmetic local countdown; authoritative timing is
// server-side.
func ParseDeadline(p domain.NextQuestionPayload) int {
	remaining := time.Until(p.Deadline)
	if remaining < 0 {
		return 0
	}
	return int(remaining.Round(time.Second) / time.Second)
}
