// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockTransport records sent messages for inspection.
type mockTransport struct {
	sent   []any
	err    error
	closed bool
}

func (m *mockTransport) Send(data any) error {
	m.sent = append(m.sent, data)
	return m.err
}

func (m *mockTransport) Close() error {
	m.closed = true
	return m.err
}

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	a, b := &mockTransport{err: boom}, &mockTransport{}
	m := Multi{a, b}

	if err := m.Send(EventMessage{Type: TypeEvent, Name: "onset"}); !errors.Is(err, boom) {
		t.Errorf("Send error = %v, want boom", err)
	}
	if len(b.sent) != 1 {
		t.Error("failing transport stopped the fan-out")
	}
	if err := m.Close(); !errors.Is(err, boom) || !a.closed || !b.closed {
		t.Errorf("Close = %v, closed = %v/%v", err, a.closed, b.closed)
	}
}

func TestLoggingTransport(t *testing.T) {
	lt := NewLoggingTransport()
	if err := lt.Send(LevelMessage{Type: TypeLevel, RMS: 1}); err != nil {
		t.Errorf("Send: %v", err)
	}
	if err := lt.Send(func() {}); err != nil {
		t.Errorf("Send of unmarshalable value: %v", err)
	}
	if err := lt.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	wst := NewWebSocketTransport("127.0.0.1:0")
	t.Cleanup(func() { _ = wst.Close() })

	srv := httptest.NewServer(wst.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for wst.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	want := LevelMessage{Type: TypeLevel, Seq: 7, Energy: 50, RMS: 3.5, DBFS: -79.4}
	if err := wst.Send(want); err != nil {
		t.Fatalf("Send: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got LevelMessage
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Type != TypeLevel || got.Seq != 7 || got.Energy != 50 {
		t.Errorf("received %+v", got)
	}
}

func TestWebSocketClose(t *testing.T) {
	wst := NewWebSocketTransport("127.0.0.1:0")
	if err := wst.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := wst.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	// Fill the queue; after Close nothing drains it.
	var err error
	for range 300 {
		if err = wst.Send("x"); err != nil {
			break
		}
	}
	if err == nil {
		t.Error("Send after Close never reported an error")
	}
}
