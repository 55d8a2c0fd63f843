package status

import (
	"strings"
	"testing"
)

func TestViewShowsStateAndURL(t *testing.T) {
	m := New("ws://127.0.0.1:8080/ws")
	m.Width = 120
	m.State = "live"
	m.URL = "https://example.com/"

	v := m.View()
	for _, want := range []string{"live", "ws://127.0.0.1:8080/ws", "https://example.com/"} {
		if !strings.Contains(v, want) {
			t.Errorf("status bar missing %q", want)
		}
	}
}

func TestViewShowsErrorDetail(t *testing.T) {
	m := New("ws://relay/ws")
	m.State = "error"
	m.Detail = "driver capture: target closed"

	if v := m.View(); !strings.Contains(v, "error: driver capture") {
		t.Errorf("status bar missing error detail:\n%s", v)
	}
}
