package session

import (
	"context"
	"fmt"
)

// Driver controls the browser tab. The session loop is its only caller, so
// implementations need not be safe for concurrent use.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	// Click performs a press and release at viewport coordinates.
	Click(ctx context.Context, x, y float64) error
	// PressKey sends a key-down/key-up pair for a DOM key identifier.
	PressKey(ctx context.Context, key string) error
	CaptureFrame(ctx context.Context) ([]byte, error)
	CurrentURL(ctx context.Context) (string, error)
}

// Driver operation names, used in errors and metrics.
const (
	OpNavigate = "navigate"
	OpClick    = "click"
	OpKey      = "key"
	OpCapture  = "capture"
	OpURL      = "url"
)

// DriverError wraps a failed Driver call.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}
