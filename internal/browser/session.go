package browser

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"
	"github.com/maxischmaxi/chatsnap/internal/apperr"
	"github.com/maxischmaxi/chatsnap/internal/config"
	"github.com/maxischmaxi/chatsnap/internal/logging"
	"go.uber.org/zap"
)

const CrashCheckInterval = 5 * time.Second

// Viewport is the usable inner size of a browser window in CSS pixels.
type Viewport struct {
	Width  int `json:"innerWidth"`
	Height int `json:"innerHeight"`
}

// Session owns one Chrome process and, when a chat token is configured, the
// logged-in chat document living in its own browser context.
type Session struct {
	cfg  *config.Config
	args []string

	mu         sync.RWMutex
	browserCtx context.Context
	stop       context.CancelFunc
	viewport   Viewport

	chat       *discord
	chatCancel context.CancelFunc
	watchStop  context.CancelFunc
	watchDone  <-chan struct{}
}

func New(cfg *config.Config) *Session {
	return &Session{
		cfg:  cfg,
		args: LaunchArgs(cfg),
		viewport: Viewport{
			Width:  cfg.Window.Width,
			Height: cfg.Window.Height,
		},
	}
}

// Init launches the browser, probes the inner window size, prepares the
// screenshot directory and, if enabled, logs into chat. A failed Init leaves
// the session closed.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browserCtx != nil {
		return apperr.ErrAlreadyInitialized
	}

	logging.L.Info("launching browser", zap.Strings("args", s.args), zap.Bool("headless", s.cfg.Headless))
	browserCtx, stop, err := launch(context.WithoutCancel(ctx), s.cfg, s.args)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	s.browserCtx, s.stop = browserCtx, stop

	if err := s.initInnerSize(ctx); err != nil {
		s.closeLocked()
		return fmt.Errorf("probe window size: %w", err)
	}
	logging.L.Info("browser launched", zap.Int("innerWidth", s.viewport.Width), zap.Int("innerHeight", s.viewport.Height))

	if err := os.MkdirAll(s.cfg.ScreenshotDir, 0o755); err != nil {
		s.closeLocked()
		return fmt.Errorf("create screenshot dir: %w", err)
	}

	if s.cfg.UseChat() {
		if err := s.initChat(ctx); err != nil {
			s.closeLocked()
			return err
		}
	}
	return nil
}

func (s *Session) initChat(ctx context.Context) error {
	tab, cancel, err := s.newTab(ctx, s.browserCtx, chromedp.WithNewBrowserContext())
	if err != nil {
		return fmt.Errorf("create chat context: %w", err)
	}
	logging.L.Info("created chat context")

	d := newDiscord(tab, s.cfg)
	if err := d.login(ctx, s.cfg.ChatToken); err != nil {
		cancel()
		return err
	}

	watchCtx, watchStop := context.WithCancel(s.browserCtx)
	s.chat, s.chatCancel = d, cancel
	s.watchStop = watchStop
	s.watchDone = watchCrashes(watchCtx, d, CrashCheckInterval)
	return nil
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.browserCtx == nil {
		return
	}
	if s.watchStop != nil {
		s.watchStop()
		<-s.watchDone
		s.watchStop, s.watchDone = nil, nil
	}
	if s.chatCancel != nil {
		s.chatCancel()
		s.chatCancel = nil
	}
	s.chat = nil
	s.stop()
	s.browserCtx, s.stop = nil, nil
	logging.L.Info("browser closed")
}

// Chat returns the logged-in chat driver.
func (s *Session) Chat() (ChatDriver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.chat == nil {
		return nil, apperr.ErrChatNotInitialized
	}
	return s.chat, nil
}

func (s *Session) Viewport() Viewport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewport
}

func (s *Session) context() (context.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.browserCtx == nil {
		return nil, apperr.ErrNotInitialized
	}
	return s.browserCtx, nil
}

func (s *Session) initInnerSize(ctx context.Context) error {
	if s.cfg.Headless {
		s.viewport = Viewport{Width: s.cfg.Window.Width, Height: s.cfg.Window.Height}
		return nil
	}

	tab, cancel, err := s.newTab(ctx, s.browserCtx)
	if err != nil {
		return err
	}
	defer cancel()

	var vp Viewport
	if err := bounded(ctx, tab, actionTimeout, chromedp.Evaluate(
		`({innerWidth: window.innerWidth, innerHeight: window.innerHeight})`, &vp,
	)); err != nil {
		return err
	}
	s.viewport = vp
	return nil
}

// newTab opens a target under parent with the page defaults applied. The
// returned cancel closes the tab. Setup is bounded by actionTimeout and
// aborted when ctx is done.
func (s *Session) newTab(ctx, parent context.Context, opts ...chromedp.ContextOption) (context.Context, context.CancelFunc, error) {
	tab, cancel := chromedp.NewContext(parent, opts...)

	// The first Run allocates the target and has to use the tab context
	// itself, so the deadline closes the tab instead.
	deadline, stopDeadline := context.WithTimeout(ctx, actionTimeout)
	stop := context.AfterFunc(deadline, cancel)
	err := chromedp.Run(tab)
	if !stop() && err == nil {
		err = fmt.Errorf("open tab: %w", context.Cause(deadline))
	}
	stopDeadline()

	if err == nil {
		err = bounded(ctx, tab, actionTimeout, pageDefaults(s.cfg))
	}
	if err != nil {
		cancel()
		logging.L.Error("failed to open tab", zap.Error(err))
		return nil, nil, err
	}
	return tab, cancel, nil
}

func pageDefaults(cfg *config.Config) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if _, err := page.AddScriptToEvaluateOnNewDocument(stealth.JS).Do(ctx); err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
		if cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user agent: %w", err)
			}
		}
		if cfg.Headless {
			if err := chromedp.EmulateViewport(int64(cfg.Window.Width), int64(cfg.Window.Height)).Do(ctx); err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
		}
		if cfg.Timezone != "" {
			if err := emulation.SetTimezoneOverride(cfg.Timezone).Do(ctx); err != nil {
				return fmt.Errorf("set timezone: %w", err)
			}
		}
		return nil
	})
}

// zoomAction sets the CSS zoom of the document body, a no-op at zoom 1.
func zoomAction(zoom float64) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if zoom == 1 {
			return nil
		}
		return chromedp.Evaluate(fmt.Sprintf(`document.body.style.zoom = %g`, zoom), nil).Do(ctx)
	})
}

// bounded runs actions on tab with a deadline; cancelling ctx aborts the run
// without closing the tab.
func bounded(ctx, tab context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	tctx, cancel := context.WithTimeout(tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(tctx, actions...)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
