package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/maxischmaxi/chatsnap/internal/apperr"
	"github.com/maxischmaxi/chatsnap/internal/logging"
	"github.com/maxischmaxi/chatsnap/internal/region"
	"github.com/maxischmaxi/chatsnap/internal/tools"
	"go.uber.org/zap"
)

const (
	NavigationTimeout = 2 * time.Second
	ScrollSettle      = 500 * time.Millisecond
	captureTimeout    = 30 * time.Second
)

var webURL = regexp.MustCompile(`^https?://`)

// CaptureOptions selects the capture shape. Clip wins over ScrollTo; Element
// captures the ScrollTo element itself. Without either, the whole page is
// captured, scrolled to ScrollTo when set.
type CaptureOptions struct {
	Clip     *region.Rect
	Element  bool
	ScrollTo string
}

func (o CaptureOptions) shape() string {
	switch {
	case o.Clip != nil:
		return "clip"
	case o.Element:
		return "element"
	default:
		return "full"
	}
}

// CheckURL rejects every URL that is not http(s).
func CheckURL(rawURL string) error {
	if !webURL.MatchString(rawURL) {
		return apperr.ErrBlockedNavigation.With(rawURL)
	}
	return nil
}

// CaptureScreenshot loads rawURL in a fresh tab and writes a PNG into the
// screenshot directory, returning its path. The tab is closed on every path.
func (s *Session) CaptureScreenshot(ctx context.Context, rawURL string, opts CaptureOptions) (string, error) {
	browserCtx, err := s.context()
	if err != nil {
		return "", err
	}
	if err := CheckURL(rawURL); err != nil {
		return "", err
	}
	if opts.Element && opts.ScrollTo == "" {
		return "", apperr.ErrInvalidRequest.With("no element selector provided")
	}

	log := logging.With(zap.String("url", rawURL), zap.String("shape", opts.shape()))
	log.Info("capturing page")

	tab, closeTab, err := s.newTab(ctx, browserCtx)
	if err != nil {
		return "", err
	}
	defer closeTab()

	if err := bounded(ctx, tab, actionTimeout, blockFileRequests(tab)); err != nil {
		return "", fmt.Errorf("enable request interception: %w", err)
	}

	if err := bounded(ctx, tab, NavigationTimeout, chromedp.Navigate(rawURL)); err != nil {
		log.Error("navigation failed", zap.Error(err))
		return "", fmt.Errorf("navigate: %w", err)
	}
	if err := bounded(ctx, tab, captureTimeout, zoomAction(s.cfg.Window.Zoom)); err != nil {
		return "", fmt.Errorf("set zoom: %w", err)
	}

	if opts.ScrollTo != "" {
		var found bool
		if err := bounded(ctx, tab, captureTimeout, chromedp.Evaluate(
			fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(opts.ScrollTo)), &found,
		)); err != nil {
			return "", fmt.Errorf("locate element: %w", err)
		}
		if !found {
			return "", apperr.ErrElementNotFound.With(opts.ScrollTo)
		}
		if err := bounded(ctx, tab, captureTimeout, instantScroll(opts.ScrollTo)); err != nil {
			return "", fmt.Errorf("scroll to element: %w", err)
		}
		if err := sleep(ctx, ScrollSettle); err != nil {
			return "", err
		}
	}

	var buf []byte
	var action chromedp.Action
	switch opts.shape() {
	case "clip":
		action = clipScreenshot(*opts.Clip, &buf)
	case "element":
		action = chromedp.Screenshot(opts.ScrollTo, &buf, chromedp.ByQuery)
	default:
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := bounded(ctx, tab, captureTimeout, action); err != nil {
		log.Error("capture failed", zap.Error(err))
		return "", fmt.Errorf("capture: %w", err)
	}

	path, err := s.writeScreenshot(buf)
	if err != nil {
		return "", err
	}
	log.Info("screenshot saved", zap.String("path", path))
	return path, nil
}

func (s *Session) writeScreenshot(data []byte) (string, error) {
	path := filepath.Join(s.cfg.ScreenshotDir, tools.ScreenshotName(time.Now()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logging.L.Error("failed to write screenshot", zap.String("path", path), zap.Error(err))
		return "", err
	}
	return path, nil
}

// blockFileRequests pauses every request of the tab and fails the ones
// reaching for the local filesystem.
func blockFileRequests(tab context.Context) chromedp.Action {
	chromedp.ListenTarget(tab, func(ev any) {
		e, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			c := chromedp.FromContext(tab)
			ectx := cdp.WithExecutor(tab, c.Target)
			var err error
			if strings.HasPrefix(e.Request.URL, "file://") {
				logging.L.Warn("blocked file url", zap.String("url", e.Request.URL))
				err = fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(ectx)
			} else {
				err = fetch.ContinueRequest(e.RequestID).Do(ectx)
			}
			if err != nil {
				logging.L.Debug("request interception", zap.String("url", e.Request.URL), zap.Error(err))
			}
		}()
	})
	return fetch.Enable().WithPatterns([]*fetch.RequestPattern{{URLPattern: "*"}})
}

func clipScreenshot(r region.Rect, buf *[]byte) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		*buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithCaptureBeyondViewport(false).
			WithClip(&page.Viewport{
				X:      float64(r.X),
				Y:      float64(r.Y),
				Width:  float64(r.Width),
				Height: float64(r.Height),
				Scale:  1,
			}).Do(ctx)
		return err
	})
}

func instantScroll(selector string) chromedp.Action {
	return chromedp.Evaluate(fmt.Sprintf(
		`document.querySelector(%s).scrollIntoView({behavior: "instant", block: "start"})`,
		jsString(selector),
	), nil)
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func jsonValue(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return string(b), nil
}

func jsStrings(s []string) string {
	if s == nil {
		s = []string{}
	}
	b, _ := json.Marshal(s)
	return string(b)
}
