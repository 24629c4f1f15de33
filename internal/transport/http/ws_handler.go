package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/logging"
)

const sendBufferSize = 32

type WSHandler struct {
	registry *app.Registry
	upgrader websocket.Upgrader
}

func NewWSHandler(registry *app.Registry) *WSHandler {
	return &WSHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// wsConn adapts one websocket connection to the room engine's Sink.
// The writer goroutine is the only one touching the socket's write side.
type wsConn struct {
	ws     *websocket.Conn
	send   chan domain.Event
	closed chan struct{}
	once   sync.Once
	log    *zap.SugaredLogger
}

func newWSConn(ws *websocket.Conn, log *zap.SugaredLogger) *wsConn {
	return &wsConn{
		ws:     ws,
		send:   make(chan domain.Event, sendBufferSize),
		closed: make(chan struct{}),
		log:    log,
	}
}

// Deliver enqueues without blocking; when the buffer is full the oldest
// pending event is dropped so a slow link never stalls the room loop.
func (c *wsConn) Deliver(ev domain.Event) {
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.send <- ev:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- ev:
		case <-c.closed:
		default:
		}
	}
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case ev := <-c.send:
			if err := c.ws.WriteJSON(ev); err != nil {
				c.log.Debugw("ws write failed", "error", err)
				c.close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// ServeWS upgrades HTTP requests to websockets and dispatches the room
// command vocabulary to the registry.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context()).Named("ws").With("conn", uuid.NewString())

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("ws upgrade failed", "error", err)
		return
	}

	conn := newWSConn(ws, log)
	go conn.writeLoop()
	defer conn.close()

	// Identity the connection established via create_room or join_room.
	var roomCode, displayName string

	for {
		var inbound domain.Envelope
		if err := ws.ReadJSON(&inbound); err != nil {
			break
		}
		ctx := r.Context()

		switch inbound.Type {
		case domain.CmdCreateRoom:
			var p domain.CreateRoomPayload
			if !decode(conn, inbound.Payload, &p) {
				continue
			}
			snap, err := h.registry.CreateRoom(ctx, p.Title, p.CreatorName, p.SeedID, conn)
			if err != nil {
				sendError(conn, err)
				continue
			}
			roomCode, displayName = snap.Code, p.CreatorName

		case domain.CmdJoinRoom:
			var p domain.JoinRoomPayload
			if !decode(conn, inbound.Payload, &p) {
				continue
			}
			_, _, err := h.registry.JoinRoom(ctx, p.RoomCode, p.DisplayName, conn)
			if err != nil {
				sendError(conn, err)
				continue
			}
			roomCode, displayName = app.NormalizeCode(p.RoomCode), p.DisplayName

		case domain.CmdSubmitResponse:
			var p domain.SubmitResponsePayload
			if !decode(conn, inbound.Payload, &p) {
				continue
			}
			err := h.registry.SubmitResponse(ctx, roomCode, displayName, p.Option, p.QuestionIndex)
			switch {
			case err == nil, errors.Is(err, domain.ErrAlreadyAnswered):
				// duplicates are an idempotent no-op, retries stay silent
			case errors.Is(err, domain.ErrQuestionClosed):
				log.Debugw("submission outside open window", "room", roomCode, "name", displayName, "index", p.QuestionIndex)
			default:
				sendError(conn, err)
			}

		case domain.CmdLeaveRoom:
			if roomCode == "" {
				continue
			}
			if err := h.registry.LeaveRoom(ctx, roomCode, displayName); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
				sendError(conn, err)
			}
			roomCode, displayName = "", ""

		case domain.CmdPingRoom:
			if roomCode == "" {
				continue
			}
			_ = h.registry.PingRoom(ctx, roomCode, displayName)

		default:
			conn.Deliver(domain.Event{Type: domain.EvtError, Payload: domain.ErrorPayload{Message: "unsupported message type"}})
		}
	}

	// Channel lost without an explicit leave: presence moves to
	// Disconnected and the grace period starts.
	if roomCode != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.registry.Disconnect(ctx, roomCode, displayName, conn); err != nil && !errors.Is(err, domain.ErrRoomNotFound) && !errors.Is(err, domain.ErrRoomClosed) {
			log.Warnw("disconnect bookkeeping failed", "room", roomCode, "error", err)
		}
	}
}

func decode(conn *wsConn, raw json.RawMessage, into any) bool {
	if err := json.Unmarshal(raw, into); err != nil {
		conn.Deliver(domain.Event{Type: domain.EvtError, Payload: domain.ErrorPayload{Message: "invalid payload"}})
		return false
	}
	return true
}

func sendError(conn *wsConn, err error) {
	conn.Deliver(domain.Event{Type: domain.EvtError, Payload: domain.ErrorPayload{Message: err.Error()}})
}
