package driver

import (
	"bytes"
	"context"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sync"

	"github.com/tabcast/relay/internal/session"
)

// Mock is an in-memory browser. Its frame is a PNG derived from the page
// URL, the last click and the number of keys typed, so it only changes when
// a command is applied or SetURL is called.
type Mock struct {
	mu      sync.Mutex
	width   int
	height  int
	url     string
	clickAt *image.Point
	typed   int
	fail    map[string]error
	calls   map[string]int
}

var _ session.Driver = (*Mock)(nil)

func NewMock(width, height int) *Mock {
	if width <= 0 || height <= 0 {
		width, height = 800, 600
	}
	return &Mock{
		width:  width,
		height: height,
		url:    "about:blank",
		fail:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

// SetURL changes the page URL as if the page navigated by itself.
func (m *Mock) SetURL(url string) {
	m.mu.Lock()
	m.url = url
	m.mu.Unlock()
}

// FailNext makes the next call of op (one of the session.Op names) return err.
func (m *Mock) FailNext(op string, err error) {
	m.mu.Lock()
	m.fail[op] = err
	m.mu.Unlock()
}

// Calls reports how many times op was invoked, failures included.
func (m *Mock) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// enter records a call and returns its injected failure, if any. m.mu must
// be held.
func (m *Mock) enter(op string) error {
	m.calls[op]++
	if err, ok := m.fail[op]; ok {
		delete(m.fail, op)
		return err
	}
	return nil
}

func (m *Mock) Navigate(ctx context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(session.OpNavigate); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.url = url
	m.clickAt = nil
	m.typed = 0
	return nil
}

func (m *Mock) Click(ctx context.Context, x, y float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(session.OpClick); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.clickAt = &image.Point{X: int(x), Y: int(y)}
	return nil
}

func (m *Mock) PressKey(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(session.OpKey); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := resolveKey(key); ok {
		m.typed++
	}
	return nil
}

func (m *Mock) CaptureFrame(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(session.OpCapture); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.render()
}

func (m *Mock) CurrentURL(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(session.OpURL); err != nil {
		return "", err
	}
	return m.url, ctx.Err()
}

// render draws the page. m.mu must be held.
func (m *Mock) render() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, m.width, m.height))

	h := fnv.New32a()
	_, _ = h.Write([]byte(m.url))
	sum := h.Sum32()
	bg := color.RGBA{R: uint8(sum >> 16), G: uint8(sum >> 8), B: uint8(sum), A: 0xff}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)

	// One bar segment per typed key along the top edge.
	fg := color.RGBA{R: ^bg.R, G: ^bg.G, B: ^bg.B, A: 0xff}
	if m.typed > 0 {
		w := min(m.typed*8, m.width)
		draw.Draw(img, image.Rect(0, 0, w, 6), &image.Uniform{C: fg}, image.Point{}, draw.Src)
	}

	if m.clickAt != nil {
		p := *m.clickAt
		r := image.Rect(p.X-4, p.Y-4, p.X+5, p.Y+5).Intersect(img.Bounds())
		draw.Draw(img, r, &image.Uniform{C: fg}, image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
