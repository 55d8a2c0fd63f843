package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDecode(t *testing.T) {
	if msg, ok := decode(websocket.BinaryMessage, []byte{1, 2, 3}).(WSFrameMsg); !ok || msg.Size != 3 {
		t.Errorf("binary: got %#v", msg)
	}
	if msg, ok := decode(websocket.TextMessage, []byte("https://example.com/")).(WSURLMsg); !ok || msg.URL != "https://example.com/" {
		t.Errorf("url: got %#v", msg)
	}

	status := decode(websocket.TextMessage, []byte(`{"type":"status","state":"error","error":"driver capture: boom"}`))
	st, ok := status.(WSStatusMsg)
	if !ok || st.Status.State != "error" || st.Status.Error != "driver capture: boom" {
		t.Errorf("status: got %#v", status)
	}

	// A JSON-looking text that is not a status is still a URL.
	if _, ok := decode(websocket.TextMessage, []byte(`{"x":1}`)).(WSURLMsg); !ok {
		t.Error("non-status JSON should decode as a URL")
	}
}

func TestCommandEncoding(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{NavigateCommand("https://example.com"), `{"action":"navigate","url":"https://example.com"}`},
		{KeyCommand("Enter"), `{"action":"key","key":"Enter"}`},
		{ClickCommand(0, 12.5), `{"action":"click","x":0,"y":12.5}`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.cmd)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(data) != tt.want {
			t.Errorf("got %s, want %s", data, tt.want)
		}
	}
}

func TestFrameStatsRate(t *testing.T) {
	var s FrameStats
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		s.Observe(100, start.Add(time.Duration(i)*100*time.Millisecond))
	}

	if s.Count != 10 || s.TotalBytes != 1000 || s.LastBytes != 100 {
		t.Fatalf("stats = %+v", s)
	}
	if got := s.Rate(start.Add(time.Second)); got != 2 {
		t.Errorf("Rate = %v, want 2", got)
	}
	if got := s.Rate(start.Add(time.Minute)); got != 0 {
		t.Errorf("Rate after a quiet minute = %v, want 0", got)
	}
}

func TestHTTPClientGetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"active_connections":2,"seconds_inactive":0,"listening":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	info, err := c.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if info.ActiveConnections != 2 || !info.Listening {
		t.Errorf("info = %+v", info)
	}

	if _, err := c.GetProcess(context.Background()); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("GetProcess on a relay without it: err = %v", err)
	}
}

func TestWSClientSendAndRead(t *testing.T) {
	received := make(chan Command, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("about:blank"))
		var cmd Command
		if err := conn.ReadJSON(&cmd); err == nil {
			received <- cmd
		}
		conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewWSClient("ws" + strings.TrimPrefix(srv.URL, "http"))
	if _, ok := c.Listen(ctx)().(WSConnectedMsg); !ok {
		t.Fatal("Listen did not connect")
	}
	if msg, ok := c.ReadLoop(ctx)().(WSURLMsg); !ok || msg.URL != "about:blank" {
		t.Fatalf("ReadLoop = %#v", msg)
	}

	if err := c.Send(NavigateCommand("https://example.com")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case cmd := <-received:
		if cmd.Action != "navigate" || cmd.URL != "https://example.com" {
			t.Errorf("server got %+v", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the command")
	}

	c.Reconnect()
	if _, ok := c.ReadLoop(ctx)().(WSDisconnectedMsg); !ok {
		t.Error("ReadLoop after Reconnect should report a disconnect")
	}
}
