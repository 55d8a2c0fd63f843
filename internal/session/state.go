package session

// Frame is one captured viewport image. The relay never looks inside it and
// never mutates it after capture, so a Frame may be shared between readers.
type Frame []byte

// State is the published view of the browser session. The session loop is
// its only writer; everyone else receives copies through the Bus.
type State struct {
	URL   string
	Frame Frame
	// FrameSeq increases by one each time a different frame is captured.
	// Zero means no frame has been captured yet.
	FrameSeq uint64
}

// HasFrame reports whether at least one frame has been captured.
func (s State) HasFrame() bool {
	return s.FrameSeq > 0
}
