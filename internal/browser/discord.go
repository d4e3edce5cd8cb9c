package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/maxischmaxi/chatsnap/internal/apperr"
	"github.com/maxischmaxi/chatsnap/internal/config"
	"github.com/maxischmaxi/chatsnap/internal/logging"
	"github.com/maxischmaxi/chatsnap/internal/region"
	"github.com/maxischmaxi/chatsnap/internal/substitute"
	"github.com/maxischmaxi/chatsnap/internal/window"
	"go.uber.org/zap"
)

const (
	LoginURL     = "https://discord.com/login"
	HomeSelector = `[data-list-item-id="guildsnav___home"]`

	CrashSelector  = `[class*="errorPage"]`
	AvatarSelector = `img[class*="avatar_"][class*="clickable_"]`

	LoginTimeout        = 30 * time.Second
	MessageTimeout      = 2 * time.Second
	LoginPageTimeout    = 60 * time.Second
	ModuleLoadTimeout   = 5 * time.Second
	ModuleLoadPoll      = 100 * time.Millisecond
	ClassicLayoutSettle = 1500 * time.Millisecond
	NewLayoutSettle     = 500 * time.Millisecond

	actionTimeout = 10 * time.Second
)

const preloadScript = `Object.defineProperty(window, "__s_localStorage", {
	value: localStorage,
	configurable: false,
	enumerable: false,
	writable: true
});`

const moduleHooksScript = `(() => {
	const wpRequire = webpackChunkdiscord_app.push([[Symbol()], {}, r => r]);
	webpackChunkdiscord_app.pop();

	window.__s_wpRequire = id => (id == null ? undefined : wpRequire(id));
	window.__s_findModule = cb => {
		const found = Object.entries(wpRequire.c).find(([, value]) => Boolean(cb(value?.exports)));
		return found?.[0] ?? null;
	};

	const dispatcher = __s_wpRequire(__s_findModule(e => e?.Wb?._handleDispatch))?.Wb;
	if (dispatcher != null) window.__s_handleDispatch = dispatcher._handleDispatch.bind(dispatcher);

	window.__s_channelCache = __s_wpRequire(89892)?.Z;
	return true;
})()`

const hideChromeScript = `(() => {
	const bar = document.querySelector('[class^="newMessagesBar"]');
	if (bar) bar.style.display = "none";

	const chatBox = document.querySelector('[class^="messagesWrapper"]')?.nextElementSibling;
	if (chatBox) chatBox.style.display = "none";
})()`

const hideFlashesScript = `(() => {
	for (const flash of document.querySelectorAll('[class^="flash"]')) {
		const message = flash.firstElementChild;
		if (!message) continue;
		flash.parentNode.insertBefore(message, flash.nextElementSibling);
		flash.removeChild = () => {};
		flash.appendChild(document.createElement("div"));
	}
})()`

const hideExceptScript = `((selectors) => {
	document.querySelectorAll("body *").forEach(el => {
		const keep = selectors.some(sel => el.matches(sel) || el.closest(sel) || el.querySelector(sel));
		if (!keep) el.style.display = "none";
	});
})(%s)`

// Pushing the target then a placeholder and stepping back makes the client
// router pick up the route without a page load.
const historyNavScript = `((target) => {
	if (window.location.pathname !== target) {
		window.history.pushState(null, "", target);
		window.history.pushState(null, "", null);
		window.history.go(-1);
	}
})(%s)`

const boxScript = `((sel) => {
	const el = document.querySelector(sel);
	if (!el) return null;
	const r = el.getBoundingClientRect();
	return {x: r.x, y: r.y, width: r.width, height: r.height};
})(%s)`

const profilePictureScript = `((sel, pfp) => {
	const box = el => {
		const r = el.getBoundingClientRect();
		return {x: r.x, y: r.y, width: r.width, height: r.height};
	};
	const el = document.querySelector(sel);
	if (!el) return null;
	const avatar = el.querySelector(pfp);
	return {message: box(el), avatar: avatar ? box(avatar) : null};
})(%s, %s)`

const cachedMessagesScript = `((channelId) => {
	const cache = window.__s_channelCache?.get(channelId);
	if (!cache) return [];
	const list = typeof cache.toArray === "function" ? cache.toArray() : (cache._array ?? []);
	return list.map(m => ({id: String(m.id), authorId: String(m.author?.id ?? "")}));
})(%s)`

const cachedMessageScript = `((channelId, messageId) => {
	const cache = __s_channelCache.get(channelId);
	return cache?.get(messageId) ?? null;
})(%s, %s)`

const setContentScript = `((data, content) => {
	data.content = content;
	__s_handleDispatch(data, "MESSAGE_UPDATE", {});
})(%s, %s)`

// discord drives the chat web client inside its own browser context.
type discord struct {
	tab  context.Context
	cfg  *config.Config
	zoom float64
}

var _ ChatDriver = (*discord)(nil)

func newDiscord(tab context.Context, cfg *config.Config) *discord {
	return &discord{tab: tab, cfg: cfg, zoom: cfg.Window.Zoom}
}

func (d *discord) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	return bounded(ctx, d.tab, timeout, actions...)
}

func (d *discord) eval(ctx context.Context, expr string, res any) error {
	return d.run(ctx, actionTimeout, chromedp.Evaluate(expr, res))
}

func (d *discord) login(ctx context.Context, token string) error {
	err := d.run(ctx, actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(preloadScript).Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("install preload patches: %w", err)
	}

	logging.L.Info("navigating to chat login page")
	if err := d.run(ctx, LoginPageTimeout, chromedp.Navigate(LoginURL)); err != nil {
		logging.L.Error("chat navigation failed", zap.Error(err))
		return fmt.Errorf("open login page: %w", err)
	}

	logging.L.Debug("setting chat token")
	if err := d.eval(ctx, fmt.Sprintf(`window.__s_localStorage.setItem("token", JSON.stringify(%s))`, jsString(token)), nil); err != nil {
		return fmt.Errorf("store token: %w", err)
	}

	logging.L.Info("reloading page to authenticate")
	if err := d.Reload(ctx); err != nil {
		return err
	}

	logging.L.Info("waiting for homepage")
	err = d.run(ctx, LoginTimeout, chromedp.WaitReady(HomeSelector, chromedp.ByQuery))
	switch {
	case err == nil:
		logging.L.Info("logged into chat")
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		logging.L.Error("chat login timed out, the token is likely invalid; update it and restart",
			zap.Duration("timeout", LoginTimeout))
		e := apperr.ErrLoginTimeout.With(map[string]any{"timeout": LoginTimeout.String()})
		e.LikelyInvalidToken = true
		return e
	default:
		logging.L.Error("chat login failed", zap.Error(err))
		return apperr.ErrLoginTimeout.Wrap(err)
	}
}

// Reload reloads the chat document and re-applies the module hooks.
func (d *discord) Reload(ctx context.Context) error {
	logging.L.Info("reloading chat page")
	if err := d.run(ctx, LoginPageTimeout, chromedp.Reload()); err != nil {
		logging.L.Error("chat reload failed", zap.Error(err))
		return fmt.Errorf("reload: %w", err)
	}
	return d.loadingPatches(ctx)
}

func (d *discord) loadingPatches(ctx context.Context) error {
	ok, err := d.waitModules(ctx)
	if err != nil || !ok {
		return err
	}
	logging.L.Debug("applying chat loading patches")
	var done bool
	if err := d.eval(ctx, moduleHooksScript, &done); err != nil {
		return fmt.Errorf("install module hooks: %w", err)
	}
	return nil
}

// waitModules polls for the client's module registry. Not finding it in time
// is reported as false, not as an error.
func (d *discord) waitModules(ctx context.Context) (bool, error) {
	deadline := time.Now().Add(ModuleLoadTimeout)
	for {
		var ready bool
		if err := d.eval(ctx, `typeof window.webpackChunkdiscord_app !== "undefined"`, &ready); err != nil {
			return false, err
		}
		if ready {
			return true, nil
		}
		if time.Now().After(deadline) {
			logging.L.Warn("module registry not found, skipping loading patches")
			return false, nil
		}
		if err := sleep(ctx, ModuleLoadPoll); err != nil {
			return false, err
		}
	}
}

func (d *discord) NavigateToMessage(ctx context.Context, loc Locator, opts NavigateOptions) error {
	log := logging.With(zap.String("server", loc.ServerID), zap.String("channel", loc.ChannelID), zap.String("message", loc.MessageID))
	log.Info("navigating to message")

	if err := d.eval(ctx, fmt.Sprintf(historyNavScript, jsString(loc.Path())), nil); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}

	err := d.run(ctx, MessageTimeout, chromedp.WaitReady(loc.Selector(), chromedp.ByQuery))
	if errors.Is(err, context.DeadlineExceeded) {
		log.Info("message not found")
		return apperr.ErrMessageNotFound.With(loc.MessageID)
	}
	if err != nil {
		return fmt.Errorf("wait for message: %w", err)
	}

	if !d.cfg.UseNewNav {
		if err := d.eval(ctx, hideChromeScript, nil); err != nil {
			return fmt.Errorf("hide chat elements: %w", err)
		}
	}
	if err := d.eval(ctx, hideFlashesScript, nil); err != nil {
		return fmt.Errorf("hide flashes: %w", err)
	}
	if opts.ScrollToTop {
		if err := d.run(ctx, actionTimeout, instantScroll(loc.Selector())); err != nil {
			return fmt.Errorf("scroll to message: %w", err)
		}
	}

	settle := ClassicLayoutSettle
	if d.cfg.UseNewNav {
		settle = NewLayoutSettle
	}
	if err := sleep(ctx, settle); err != nil {
		return err
	}
	log.Info("message found")
	return nil
}

func (d *discord) HideExcept(ctx context.Context, selectors []string) error {
	return d.eval(ctx, fmt.Sprintf(hideExceptScript, jsStrings(selectors)), nil)
}

func (d *discord) Box(ctx context.Context, selector string) (*region.Box, error) {
	var box *region.Box
	if err := d.eval(ctx, fmt.Sprintf(boxScript, jsString(selector)), &box); err != nil {
		return nil, err
	}
	return box, nil
}

func (d *discord) ProfilePicture(ctx context.Context, selector string) (*region.Box, *region.Box, error) {
	var res *struct {
		Message *region.Box `json:"message"`
		Avatar  *region.Box `json:"avatar"`
	}
	if err := d.eval(ctx, fmt.Sprintf(profilePictureScript, jsString(selector), jsString(AvatarSelector)), &res); err != nil {
		return nil, nil, err
	}
	if res == nil {
		return nil, nil, nil
	}
	return res.Message, res.Avatar, nil
}

func (d *discord) CachedMessages(ctx context.Context, channelID string) ([]window.Message, error) {
	var msgs []window.Message
	if err := d.eval(ctx, fmt.Sprintf(cachedMessagesScript, jsString(channelID)), &msgs); err != nil {
		return nil, fmt.Errorf("read message cache: %w", err)
	}
	return msgs, nil
}

func (d *discord) CachedMessage(ctx context.Context, channelID, messageID string) (substitute.Handle, error) {
	var data map[string]any
	if err := d.eval(ctx, fmt.Sprintf(cachedMessageScript, jsString(channelID), jsString(messageID)), &data); err != nil {
		return nil, fmt.Errorf("read cached message: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: channel %s, message %s", ErrCachedMessageNotFound, channelID, messageID)
	}
	return &cachedMessage{d: d, data: data}, nil
}

func (d *discord) SetZoom(ctx context.Context) error {
	return d.run(ctx, actionTimeout, zoomAction(d.zoom))
}

func (d *discord) CaptureElement(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, captureTimeout, chromedp.Screenshot(selector, &buf, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("capture element: %w", err)
	}
	return buf, nil
}

func (d *discord) CaptureClip(ctx context.Context, r region.Rect) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, captureTimeout, clipScreenshot(r, &buf)); err != nil {
		return nil, fmt.Errorf("capture clip: %w", err)
	}
	return buf, nil
}

func (d *discord) Crashed(ctx context.Context) (bool, error) {
	var crashed bool
	err := d.eval(ctx, fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(CrashSelector)), &crashed)
	return crashed, err
}

// cachedMessage is a by-value copy of a client cache entry. Writes go through
// the client's update dispatch so the rendered message follows.
type cachedMessage struct {
	d    *discord
	data map[string]any
}

func (m *cachedMessage) Content() string {
	s, _ := m.data["content"].(string)
	return s
}

func (m *cachedMessage) SetContent(ctx context.Context, content string) error {
	m.data["content"] = content
	payload, err := jsonValue(m.data)
	if err != nil {
		return err
	}
	if err := m.d.eval(ctx, fmt.Sprintf(setContentScript, payload, jsString(content)), nil); err != nil {
		return fmt.Errorf("dispatch message update: %w", err)
	}
	return nil
}
