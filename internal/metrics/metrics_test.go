package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveTick(time.Millisecond)
	c.FrameCaptured()
	c.FramePublished(10)
	c.CommandApplied("click")
	c.CommandDropped(DropQueueFull)
	c.DriverError("capture")
	c.SetViewers(3)
	if c.Registry() != nil {
		t.Error("nil collector returned a registry")
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil collector handler status = %d, want 404", rec.Code)
	}
}

func TestCollectorCounts(t *testing.T) {
	c := New()

	c.ObserveTick(5 * time.Millisecond)
	c.ObserveTick(7 * time.Millisecond)
	c.FrameCaptured()
	c.FramePublished(1234)
	c.CommandApplied("navigate")
	c.CommandApplied("navigate")
	c.CommandDropped(DropMalformed)
	c.DriverError("capture")
	c.SetViewers(2)

	tests := []struct {
		name      string
		collector prometheus.Collector
		want      float64
	}{
		{"ticks", c.ticks, 2},
		{"frames captured", c.framesCaptured, 1},
		{"frames published", c.framesPublished, 1},
		{"frame bytes", c.frameBytes, 1234},
		{"commands applied", c.commandsApplied.WithLabelValues("navigate"), 2},
		{"commands dropped", c.commandsDropped.WithLabelValues(DropMalformed), 1},
		{"driver errors", c.driverErrors.WithLabelValues("capture"), 1},
		{"viewers", c.viewersActive, 2},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(tt.collector); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestHandlerExposesRelayMetrics(t *testing.T) {
	c := New()
	c.FramePublished(42)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	for _, want := range []string{"tabcast_frames_published_total 1", "tabcast_frame_bytes 42"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
