package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tabcast/relay/internal/session"
)

var (
	ErrUnknownAction    = errors.New("unknown action")
	ErrMalformedCommand = errors.New("malformed command")
)

// inboundMessage is a viewer command. Fields are pointers so a missing
// field can be told apart from a zero value.
type inboundMessage struct {
	Action session.Action `json:"action"`
	URL    *string        `json:"url"`
	X      *float64       `json:"x"`
	Y      *float64       `json:"y"`
	Key    *string        `json:"key"`
}

func decodeCommand(data []byte) (session.Command, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}

	switch msg.Action {
	case session.ActionNavigate:
		if msg.URL == nil || strings.TrimSpace(*msg.URL) == "" {
			return nil, fmt.Errorf("%w: navigate requires url", ErrMalformedCommand)
		}
		return session.Navigate{URL: strings.TrimSpace(*msg.URL)}, nil
	case session.ActionClick:
		if msg.X == nil || msg.Y == nil {
			return nil, fmt.Errorf("%w: click requires x and y", ErrMalformedCommand)
		}
		return session.Click{X: *msg.X, Y: *msg.Y}, nil
	case session.ActionKey:
		if msg.Key == nil || *msg.Key == "" {
			return nil, fmt.Errorf("%w: key requires key", ErrMalformedCommand)
		}
		return session.KeyPress{Key: *msg.Key}, nil
	case "":
		return nil, fmt.Errorf("%w: missing action", ErrMalformedCommand)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownAction, msg.Action)
	}
}

type StatusState string

const (
	StatusError  StatusState = "error"
	StatusClosed StatusState = "closed"
)

// StatusMessage is sent as a text message when the session ends.
type StatusMessage struct {
	Type  string      `json:"type"`
	State StatusState `json:"state"`
	Error string      `json:"error,omitempty"`
}

func statusMessage(err error) StatusMessage {
	if err == nil || errors.Is(err, session.ErrBusClosed) {
		return StatusMessage{Type: "status", State: StatusClosed}
	}
	return StatusMessage{Type: "status", State: StatusError, Error: err.Error()}
}
