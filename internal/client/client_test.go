package client_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quizroom-service/internal/app"
	"quizroom-service/internal/client"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
	transport "quizroom-service/internal/transport/http"
)

func newCoordinator(t *testing.T, timing app.Timing) *httptest.Server {
	t.Helper()
	store := memory.NewRoomStore()
	seeds := memory.NewSeedRepository(memory.NewStaticSeedLoader(map[string]domain.QuestionSet{
		"seed-1": {
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
		},
	}), time.Minute)
	registry := app.NewRegistry(store, seeds, nil, timing, zap.NewNop().Sugar())
	t.Cleanup(registry.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", transport.NewWSHandler(registry).ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func wsURL(httpURL string) string {
	return "ws" + httpURL[len("http"):] + "/ws"
}

func waitEvent(t *testing.T, events <-chan client.Event, want string, timeout time.Duration) client.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestClientCreateAnswerAndFinish(t *testing.T) {
	server := newCoordinator(t, app.Timing{
		QuestionTime: 10 * time.Second,
		ResultsTime:  100 * time.Millisecond,
		GracePeriod:  30 * time.Second,
		IdleTTL:      time.Minute,
	})

	c := client.New(client.Config{URL: wsURL(server.URL)})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if err := c.CreateRoom(context.Background(), "Solo", "Alice", "seed-1"); err != nil {
		t.Fatalf("create room: %v", err)
	}

	ev := waitEvent(t, c.Events(), domain.EvtNextQuestion, 2*time.Second)
	var question domain.NextQuestionPayload
	if err := json.Unmarshal(ev.Payload, &question); err != nil {
		t.Fatalf("unmarshal next_question: %v", err)
	}
	if question.QuestionIndex != 0 {
		t.Fatalf("expected question 0, got %d", question.QuestionIndex)
	}

	if err := c.SubmitAnswer("o2", 0); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Sole participant answered: the question closes early and the
	// single-question game finishes after the results window.
	waitEvent(t, c.Events(), domain.EvtShowResults, 2*time.Second)
	ev = waitEvent(t, c.Events(), domain.EvtGameOver, 2*time.Second)
	var over domain.GameOverPayload
	if err := json.Unmarshal(ev.Payload, &over); err != nil {
		t.Fatalf("unmarshal game_over: %v", err)
	}
	if len(over.Scores) != 1 || over.Scores[0].Score != 1 {
		t.Fatalf("expected Alice to finish with 1 point, got %+v", over.Scores)
	}
}

// flakyProxy forwards TCP to the coordinator and can sever or stop
// serving connections to simulate channel loss.
type flakyProxy struct {
	listener net.Listener
	target   string

	mu    sync.Mutex
	conns []net.Conn
	down  bool
}

func newFlakyProxy(t *testing.T, target string) *flakyProxy {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("proxy listen: %v", err)
	}
	p := &flakyProxy{listener: listener, target: target}
	go p.serve()
	t.Cleanup(func() { _ = listener.Close() })
	return p
}

func (p *flakyProxy) serve() {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		if p.down {
			p.mu.Unlock()
			_ = conn.Close()
			continue
		}
		p.conns = append(p.conns, conn)
		p.mu.Unlock()

		upstream, err := net.Dial("tcp", p.target)
		if err != nil {
			_ = conn.Close()
			continue
		}
		p.mu.Lock()
		p.conns = append(p.conns, upstream)
		p.mu.Unlock()
		go func() { _, _ = io.Copy(upstream, conn); _ = upstream.Close() }()
		go func() { _, _ = io.Copy(conn, upstream); _ = conn.Close() }()
	}
}

// sever drops every active connection but keeps accepting new ones.
func (p *flakyProxy) sever() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, conn := range p.conns {
		_ = conn.Close()
	}
	p.conns = nil
}

// blackout drops everything and refuses new connections.
func (p *flakyProxy) blackout() {
	p.mu.Lock()
	p.down = true
	p.mu.Unlock()
	p.sever()
}

func (p *flakyProxy) url() string {
	return "ws://" + p.listener.Addr().String() + "/ws"
}

func TestClientReconnectResumesRoom(t *testing.T) {
	server := newCoordinator(t, app.Timing{
		QuestionTime: 30 * time.Second,
		ResultsTime:  time.Second,
		GracePeriod:  30 * time.Second,
		IdleTTL:      time.Minute,
	})
	proxy := newFlakyProxy(t, server.Listener.Addr().String())

	c := client.New(client.Config{
		URL:          proxy.url(),
		RetryLimit:   5,
		RetryBackoff: 50 * time.Millisecond,
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if err := c.CreateRoom(context.Background(), "Flaky", "Alice", "seed-1"); err != nil {
		t.Fatalf("create room: %v", err)
	}
	waitEvent(t, c.Events(), domain.EvtNextQuestion, 2*time.Second)

	proxy.sever()

	waitEvent(t, c.Events(), client.EvtReconnecting, 2*time.Second)

	// The resumed join carries the prior identity, so the coordinator
	// restores rather than duplicates the participant. Its acknowledgment
	// arrives before the reconnected status event.
	ev := waitEvent(t, c.Events(), domain.EvtRoomJoined, 5*time.Second)
	var joined domain.RoomJoinedPayload
	if err := json.Unmarshal(ev.Payload, &joined); err != nil {
		t.Fatalf("unmarshal room_joined: %v", err)
	}
	if !joined.Resumed {
		t.Fatalf("expected a resume, got a fresh join")
	}
	if len(joined.Snapshot.Participants) != 1 {
		t.Fatalf("reconnect duplicated the participant: %+v", joined.Snapshot.Participants)
	}
	waitEvent(t, c.Events(), client.EvtReconnected, 2*time.Second)
}

// TestClientResumeRetriesWhileNameHeld scripts a coordinator that still
// counts the stale channel as connected when the first resume arrives,
// so the join collides on the display name. The client must treat that
// as a failed attempt and retry after the backoff.
func TestClientResumeRetriesWhileNameHeld(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	var conns atomic.Int32

	handler := func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		n := conns.Add(1)

		var env domain.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return
		}
		switch n {
		case 1:
			if env.Type != domain.CmdCreateRoom {
				t.Errorf("expected create_room first, got %s", env.Type)
			}
			_ = ws.WriteJSON(domain.Event{Type: domain.EvtRoomCreated, Payload: domain.RoomCreatedPayload{
				RoomCode:    "ABC234",
				CreatorName: "Alice",
			}})
			// Dropping the channel here forces a reconnect.
		case 2:
			if env.Type != domain.CmdJoinRoom {
				t.Errorf("expected a resume join, got %s", env.Type)
			}
			// The stale channel still holds the name.
			_ = ws.WriteJSON(domain.Event{Type: domain.EvtError, Payload: domain.ErrorPayload{Message: "display name already taken"}})
			_ = ws.ReadJSON(&env)
		default:
			if env.Type != domain.CmdJoinRoom {
				t.Errorf("expected a retried resume join, got %s", env.Type)
			}
			_ = ws.WriteJSON(domain.Event{Type: domain.EvtRoomJoined, Payload: domain.RoomJoinedPayload{
				Snapshot: domain.RoomSnapshot{
					Code:         "ABC234",
					Creator:      "Alice",
					Participants: []domain.ParticipantView{{DisplayName: "Alice", Connected: true}},
				},
				Resumed: true,
			}})
			_ = ws.ReadJSON(&env)
		}
	}
	server := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(server.Close)

	c := client.New(client.Config{
		URL:          wsURL(server.URL),
		RetryLimit:   5,
		RetryBackoff: 30 * time.Millisecond,
		JoinTimeout:  2 * time.Second,
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if err := c.CreateRoom(context.Background(), "Held", "Alice", "seed-1"); err != nil {
		t.Fatalf("create room: %v", err)
	}

	waitEvent(t, c.Events(), client.EvtReconnecting, 2*time.Second)
	ev := waitEvent(t, c.Events(), domain.EvtRoomJoined, 5*time.Second)
	var joined domain.RoomJoinedPayload
	if err := json.Unmarshal(ev.Payload, &joined); err != nil {
		t.Fatalf("unmarshal room_joined: %v", err)
	}
	if !joined.Resumed {
		t.Fatalf("expected the retried join to resume")
	}
	waitEvent(t, c.Events(), client.EvtReconnected, 2*time.Second)
	if got := conns.Load(); got < 3 {
		t.Fatalf("expected the rejected resume to trigger a retry, saw %d connections", got)
	}
}

func TestClientSurfacesPermanentDisconnect(t *testing.T) {
	server := newCoordinator(t, app.Timing{
		QuestionTime: 30 * time.Second,
		ResultsTime:  time.Second,
		GracePeriod:  30 * time.Second,
		IdleTTL:      time.Minute,
	})
	proxy := newFlakyProxy(t, server.Listener.Addr().String())

	c := client.New(client.Config{
		URL:          proxy.url(),
		RetryLimit:   2,
		RetryBackoff: 30 * time.Millisecond,
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if err := c.CreateRoom(context.Background(), "Doomed", "Alice", "seed-1"); err != nil {
		t.Fatalf("create room: %v", err)
	}

	proxy.blackout()

	ev := waitEvent(t, c.Events(), client.EvtConnectionLost, 5*time.Second)
	if ev.Err != domain.ErrChannelLost {
		t.Fatalf("expected ErrChannelLost, got %v", ev.Err)
	}
}
