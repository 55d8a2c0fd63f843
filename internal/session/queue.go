package session

// Queue carries commands from viewer connections to the session loop. It is
// bounded and never blocks: a full queue drops the command.
type Queue struct {
	ch chan Command
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Command, capacity)}
}

// TryEnqueue adds cmd and reports whether it was accepted.
func (q *Queue) TryEnqueue(cmd Command) bool {
	select {
	case q.ch <- cmd:
		return true
	default:
		return false
	}
}

// TryDequeue returns the oldest pending command, if any.
func (q *Queue) TryDequeue() (Command, bool) {
	select {
	case cmd := <-q.ch:
		return cmd, true
	default:
		return nil, false
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Cap() int {
	return cap(q.ch)
}
