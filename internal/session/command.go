package session

import "fmt"

type Action string

const (
	ActionNavigate Action = "navigate"
	ActionClick    Action = "click"
	ActionKey      Action = "key"
)

// Command is a viewer input waiting to be applied to the browser. The
// concrete types are Navigate, Click and KeyPress.
type Command interface {
	Action() Action
	fmt.Stringer
}

type Navigate struct {
	URL string
}

type Click struct {
	X, Y float64
}

type KeyPress struct {
	Key string
}

func (Navigate) Action() Action { return ActionNavigate }
func (Click) Action() Action    { return ActionClick }
func (KeyPress) Action() Action { return ActionKey }

func (n Navigate) String() string { return fmt.Sprintf("navigate(%s)", n.URL) }
func (c Click) String() string    { return fmt.Sprintf("click(%g,%g)", c.X, c.Y) }
func (k KeyPress) String() string { return fmt.Sprintf("key(%q)", k.Key) }
