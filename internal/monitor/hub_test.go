package monitor

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/chatpilot/internal/audit"
	"github.com/ziadkadry99/chatpilot/internal/bot"
)

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	hub := NewHub(true, logrus.NewEntry(l))

	r := chi.NewRouter()
	hub.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var status Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&status); err != nil || status.Type != "status" {
		t.Fatalf("expected status frame, got %+v (%v)", status, err)
	}
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, hub.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	hub, url := newTestHub(t)
	all := dial(t, url)
	filtered := dial(t, url+"?chat=c2")
	waitForClients(t, hub, 2)

	hub.Publish(audit.Entry{ID: "1", Kind: bot.EventReplySent, ChatID: "c1"})
	hub.Publish(audit.Entry{ID: "2", Kind: bot.EventEscalated, ChatID: "c2"})

	var got Message
	all.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := all.ReadJSON(&got); err != nil || got.Entry == nil || got.Entry.ID != "1" {
		t.Fatalf("unfiltered client: got %+v (%v)", got, err)
	}
	if err := all.ReadJSON(&got); err != nil || got.Entry.ID != "2" {
		t.Fatalf("unfiltered client second event: got %+v (%v)", got, err)
	}

	filtered.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := filtered.ReadJSON(&got); err != nil || got.Entry.ID != "2" || got.Entry.Kind != bot.EventEscalated {
		t.Fatalf("filtered client: got %+v (%v)", got, err)
	}
}

func TestClientRemovedOnClose(t *testing.T) {
	hub, url := newTestHub(t)
	conn := dial(t, url)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}
