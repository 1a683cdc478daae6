// Package browser implements the Worker's browser driver: a
// persistent-profile, extension-loaded, stealth-patched chromedp instance
// that can fetch a page and produce the four capture artifacts.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/talemon/core/config"
)

// Capture is everything the Worker needs out of one navigation: the raw
// response body, the live DOM's outer HTML, an MHTML export and a
// full-page screenshot, plus the observed status. SourceHTML falls back to
// the live DOM's outer HTML when no response for the requested URL was seen
// (e.g. after a redirect) or its body could not be read.
type Capture struct {
	SourceHTML []byte
	DOMHTML    []byte
	MHTML      []byte
	Screenshot []byte
	HTTPStatus int
	FinalURL   string
	FetchedAt  time.Time
}

// Driver is the capability interface the Worker depends on, so tests can
// substitute a fake instead of launching a real browser.
type Driver interface {
	Fetch(ctx context.Context, url string) (Capture, error)
	Close()
}

// ChromeDriver drives a single persistent headless Chrome instance with a
// persistent profile, optional extensions, a stealth pass and MHTML plus
// full-page screenshot capture alongside the raw response and live DOM.
type ChromeDriver struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	cfg         *config.BrowserConfig
}

// stealthScript patches the most common automation tells before any page
// script runs, injected via Page.addScriptToEvaluateOnNewDocument.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
window.chrome = window.chrome || { runtime: {} };
`

func NewChromeDriver(cfg *config.BrowserConfig) *ChromeDriver {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(cfg.ProfileDir),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecutablePath))
	}
	if extPaths := loadedExtensions(cfg.ExtensionsDir); len(extPaths) > 0 {
		opts = append(opts,
			chromedp.Flag("disable-extensions-except", extPaths),
			chromedp.Flag("load-extension", extPaths),
		)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &ChromeDriver{allocCtx: allocCtx, allocCancel: allocCancel, cfg: cfg}
}

func (d *ChromeDriver) Close() {
	d.allocCancel()
}

// Fetch navigates to url and produces all four capture artifacts in one
// browser tab lifetime, so the DOM, MHTML and screenshot are guaranteed to
// reflect the same page load.
func (d *ChromeDriver) Fetch(parent context.Context, url string) (Capture, error) {
	ctx, cancel := chromedp.NewContext(d.allocCtx)
	defer cancel()

	cap_ := Capture{FinalURL: url}
	var docRequestID network.RequestID
	chromedp.ListenTarget(ctx, func(event interface{}) {
		switch ev := event.(type) {
		case *network.EventResponseReceived:
			if ev.Response.URL == url || ev.Response.URL == url+"/" {
				cap_.HTTPStatus = int(ev.Response.Status)
				docRequestID = ev.RequestID
			}
		case *network.EventRequestWillBeSent:
			if ev.RedirectResponse != nil {
				cap_.FinalURL = ev.Request.URL
			}
		}
	})

	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		network.Enable(),
		page.Enable(),
		chromedp.Navigate(url),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return chromedp.WaitReady("body").Do(ctx)
		}),
	)
	if err != nil {
		return cap_, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	cap_.FetchedAt = time.Now()

	if err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		rootNode, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		outer, err := dom.GetOuterHTML().WithNodeID(rootNode.NodeID).Do(ctx)
		if err != nil {
			return err
		}
		cap_.DOMHTML = []byte(outer)
		cap_.SourceHTML = []byte(outer)
		if docRequestID != "" {
			if body, err := network.GetResponseBody(docRequestID).Do(ctx); err == nil {
				cap_.SourceHTML = body
			}
		}
		return nil
	})); err != nil {
		return cap_, fmt.Errorf("browser: read dom %s: %w", url, err)
	}

	if err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		data, err := page.CaptureSnapshot().WithFormat(page.CaptureSnapshotFormatMhtml).Do(ctx)
		if err != nil {
			return err
		}
		cap_.MHTML = []byte(data)
		return nil
	})); err != nil {
		return cap_, fmt.Errorf("browser: capture mhtml %s: %w", url, err)
	}

	if err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, contentSize, _, _, _, err := page.GetLayoutMetrics().Do(ctx)
		shot := page.CaptureScreenshot().WithCaptureBeyondViewport(true)
		if err == nil && contentSize != nil {
			shot = shot.WithClip(&page.Viewport{
				X: 0, Y: 0, Width: contentSize.Width, Height: contentSize.Height, Scale: 1,
			})
		}
		data, err := shot.Do(ctx)
		if err != nil {
			return err
		}
		cap_.Screenshot = data
		return nil
	})); err != nil {
		return cap_, fmt.Errorf("browser: capture screenshot %s: %w", url, err)
	}

	if cap_.HTTPStatus == 0 {
		cap_.HTTPStatus = http.StatusOK
	}
	return cap_, nil
}

func loadedExtensions(dir string) string {
	if dir == "" {
		return ""
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("failed to read browser extensions dir.", slog.String("dir", dir), slog.String("err", err.Error()))
		return ""
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return ""
	}
	joined := paths[0]
	for _, p := range paths[1:] {
		joined += "," + p
	}
	return joined
}
