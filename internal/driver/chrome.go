// Package driver implements session.Driver against a real Chrome tab over
// the DevTools protocol, plus an in-memory Mock.
package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/tabcast/relay/internal/session"
)

type ChromeConfig struct {
	// CDPURL attaches to a running browser. Empty launches a local one.
	CDPURL      string
	ChromePath  string
	Headless    bool
	Width       int
	Height      int
	CallTimeout time.Duration
}

// Chrome drives a single tab. It is not safe for concurrent use; the session
// loop is its only caller.
type Chrome struct {
	cfg    ChromeConfig
	logger *log.Logger

	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

// NewChrome allocates a browser (remote or local), opens a tab and sets its
// viewport. ctx bounds only the setup; the tab lives until Close.
func NewChrome(ctx context.Context, cfg ChromeConfig, logger *log.Logger) (*Chrome, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 800, 600
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if strings.TrimSpace(cfg.CDPURL) != "" {
		wsURL, err := ResolveCDPURL(ctx, cfg.CDPURL)
		if err != nil {
			return nil, fmt.Errorf("resolve cdp url: %w", err)
		}
		logger.Info("attaching to browser", "url", wsURL)
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), wsURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("disable-gpu", cfg.Headless),
			chromedp.WindowSize(cfg.Width, cfg.Height),
		)
		if path := strings.TrimSpace(cfg.ChromePath); path != "" {
			opts = append(opts, chromedp.ExecPath(path))
		}
		logger.Info("launching browser", "headless", cfg.Headless, "path", cfg.ChromePath)
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debugf(format, args...)
		}),
	)

	c := &Chrome{
		cfg:         cfg,
		logger:      logger,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}
	if err := c.open(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return c, nil
}

// open performs the first Run on the tab. chromedp binds the browser (and,
// for a remote allocator, the tab) to the context of the first Run, so it
// runs on tabCtx itself. ctx and the call timeout still bound the wait.
func (c *Chrome) open(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- chromedp.Run(c.tabCtx, chromedp.EmulateViewport(int64(c.cfg.Width), int64(c.cfg.Height)))
	}()

	timer := time.NewTimer(c.cfg.CallTimeout)
	defer timer.Stop()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		c.tabCancel()
		<-errCh
		return ctx.Err()
	case <-timer.C:
		c.tabCancel()
		<-errCh
		return fmt.Errorf("timed out after %s", c.cfg.CallTimeout)
	}
}

var _ session.Driver = (*Chrome)(nil)

// run executes actions on the tab, bounded by the call timeout and by ctx.
// It must not be used before open has succeeded.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(c.tabCtx, c.cfg.CallTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Navigate starts loading url without waiting for the load to finish. A
// page load error (DNS failure, refused connection) is not a driver failure:
// Chrome shows its error page, which the next capture picks up.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errorText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			c.logger.Warn("page load failed", "url", url, "error", errorText)
		}
		return nil
	}))
}

func (c *Chrome) Click(ctx context.Context, x, y float64) error {
	return c.run(ctx, chromedp.MouseClickXY(x, y, chromedp.ButtonType(input.Left)))
}

// PressKey sends the key to the focused element. Key names chromedp cannot
// encode are logged and skipped.
func (c *Chrome) PressKey(ctx context.Context, key string) error {
	keys, ok := resolveKey(key)
	if !ok {
		c.logger.Warn("unknown key, skipping", "key", key)
		return nil
	}
	return c.run(ctx, chromedp.KeyEvent(keys))
}

// CaptureFrame returns a PNG of the current viewport.
func (c *Chrome) CaptureFrame(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := c.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := c.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Close closes the tab and releases the allocator. A launched browser is
// terminated; a remote one is only detached from.
func (c *Chrome) Close() {
	c.tabCancel()
	c.allocCancel()
}
