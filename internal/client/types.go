// Package client provides WebSocket and HTTP clients for the tabcast relay.
// Types mirror the relay wire protocol without importing relay packages.
package client

import "time"

// Command is an outbound viewer command.
type Command struct {
	Action string   `json:"action"`
	URL    string   `json:"url,omitempty"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Key    string   `json:"key,omitempty"`
}

// NavigateCommand builds a navigate command for url.
func NavigateCommand(url string) Command {
	return Command{Action: "navigate", URL: url}
}

// KeyCommand builds a key press command.
func KeyCommand(key string) Command {
	return Command{Action: "key", Key: key}
}

// ClickCommand builds a click at viewport coordinates.
func ClickCommand(x, y float64) Command {
	return Command{Action: "click", X: &x, Y: &y}
}

// Status mirrors the relay's session end message.
type Status struct {
	Type  string `json:"type"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// ConnectionInfo mirrors GET /status.
type ConnectionInfo struct {
	ActiveConnections uint64 `json:"active_connections"`
	SecondsInactive   uint64 `json:"seconds_inactive"`
	Listening         bool   `json:"listening"`
}

// ProcessInfo mirrors one entry of GET /api/process.
type ProcessInfo struct {
	PID        int32   `json:"pid"`
	PPID       int32   `json:"ppid,omitempty"`
	Name       string  `json:"name"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Browser    bool    `json:"browser"`
}

// ProcessReport mirrors GET /api/process.
type ProcessReport struct {
	SampledAt       time.Time     `json:"sampled_at"`
	Self            ProcessInfo   `json:"self"`
	Children        []ProcessInfo `json:"children"`
	BrowserRSSBytes uint64        `json:"browser_rss_bytes"`
}

// rateWindow is how far back FrameStats looks when computing the frame rate.
const rateWindow = 5 * time.Second

// FrameStats accumulates received frames.
type FrameStats struct {
	Count      int
	TotalBytes int64
	LastBytes  int
	LastAt     time.Time
	recent     []time.Time
}

// Observe records a frame of n bytes received at t.
func (s *FrameStats) Observe(n int, t time.Time) {
	s.Count++
	s.TotalBytes += int64(n)
	s.LastBytes = n
	s.LastAt = t
	s.recent = append(s.recent, t)
	s.trim(t)
}

// Rate returns frames per second over the last few seconds as of now.
func (s *FrameStats) Rate(now time.Time) float64 {
	s.trim(now)
	return float64(len(s.recent)) / rateWindow.Seconds()
}

func (s *FrameStats) trim(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(s.recent) && !s.recent[i].After(cutoff) {
		i++
	}
	s.recent = s.recent[i:]
}
