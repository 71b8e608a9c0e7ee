package websocket

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/player-leaderboard/internal/domain"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
	return Message{}
}

func TestHubRoutesEventsByTopic(t *testing.T) {
	hub := newTestHub(t)

	players := &Client{id: "players", hub: hub, send: make(chan []byte, sendBuffer), logger: hub.logger}
	board := &Client{id: "board", hub: hub, send: make(chan []byte, sendBuffer), logger: hub.logger}
	idle := &Client{id: "idle", hub: hub, send: make(chan []byte, sendBuffer), logger: hub.logger}
	for _, c := range []*Client{players, board, idle} {
		hub.Register(c)
	}
	hub.Subscribe(players, TopicPlayers)
	hub.Subscribe(board, TopicLeaderboard)
	waitFor(t, func() bool {
		return hub.GetSubscriberCount(TopicPlayers) == 1 && hub.GetSubscriberCount(TopicLeaderboard) == 1
	})

	hub.PublishPlayerEvent(domain.PlayerEvent{
		Type:     domain.PlayerUpdated,
		PlayerID: "p-1",
		Player:   &domain.Player{ID: "p-1", Username: "alice", TotalScore: 42},
	})

	msg := receive(t, players)
	if msg.Type != MessageTypePlayerEvent || msg.Topic != TopicPlayers {
		t.Fatalf("unexpected players message: %+v", msg)
	}
	data, _ := msg.Data.(map[string]any)
	if data["type"] != string(domain.PlayerUpdated) || data["player_id"] != "p-1" {
		t.Fatalf("unexpected event payload: %+v", msg.Data)
	}

	msg = receive(t, board)
	if msg.Type != MessageTypeLeaderboardChanged || msg.Topic != TopicLeaderboard {
		t.Fatalf("unexpected leaderboard message: %+v", msg)
	}

	select {
	case data := <-idle.send:
		t.Fatalf("unsubscribed client received %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnregisterDropsSubscriptions(t *testing.T) {
	hub := newTestHub(t)

	c := &Client{id: "c", hub: hub, send: make(chan []byte, sendBuffer), logger: hub.logger}
	hub.Register(c)
	hub.Subscribe(c, TopicPlayers)
	waitFor(t, func() bool { return hub.GetSubscriberCount(TopicPlayers) == 1 })

	hub.Unregister(c)
	waitFor(t, func() bool { return hub.GetTotalConnections() == 0 })
	if n := hub.GetSubscriberCount(TopicPlayers); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
	if _, ok := <-c.send; ok {
		t.Fatal("expected send channel to be closed")
	}
}

func TestHubStopDropsLateReplies(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run()

	c := &Client{id: "late", hub: hub, send: make(chan []byte, sendBuffer), logger: hub.logger}
	hub.Register(c)
	waitFor(t, func() bool { return hub.GetTotalConnections() == 1 })

	hub.Stop()
	if n := hub.GetTotalConnections(); n != 0 {
		t.Fatalf("expected no clients after stop, got %d", n)
	}

	c.sendReply(&Message{Type: MessageTypePong})
	c.handleMessage(&ClientMessage{Type: MessageTypeSubscribe, Topic: TopicPlayers})
	hub.Unregister(c)

	if _, ok := <-c.send; ok {
		t.Fatal("expected send channel to be closed without queued replies")
	}
}

func TestServeWsSubscribeAndReceive(t *testing.T) {
	hub := newTestHub(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, hub.logger, w, r)
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, Topic: "bogus"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var reply Message
	if err := conn.ReadJSON(&reply); err != nil || reply.Type != MessageTypeError {
		t.Fatalf("expected error reply, got %+v (%v)", reply, err)
	}

	if err := conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, Topic: TopicLeaderboard}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&reply); err != nil || reply.Type != "subscribed" {
		t.Fatalf("expected subscribed ack, got %+v (%v)", reply, err)
	}
	waitFor(t, func() bool { return hub.GetSubscriberCount(TopicLeaderboard) == 1 })

	hub.PublishPlayerEvent(domain.PlayerEvent{Type: domain.PlayerDeleted, PlayerID: "p-9"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if reply.Type != MessageTypeLeaderboardChanged {
		t.Fatalf("unexpected message: %+v", reply)
	}
}

func TestServeWsRejectsForeignOrigin(t *testing.T) {
	hub := newTestHub(t)
	hub.SetAllowedOrigin("http://localhost:5173")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, hub.logger, w, r)
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}
