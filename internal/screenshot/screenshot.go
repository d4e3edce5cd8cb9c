// Package screenshot composes chat message captures out of the primitives a
// browser.ChatDriver offers.
package screenshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/maxischmaxi/chatsnap/internal/apperr"
	"github.com/maxischmaxi/chatsnap/internal/browser"
	"github.com/maxischmaxi/chatsnap/internal/config"
	"github.com/maxischmaxi/chatsnap/internal/logging"
	"github.com/maxischmaxi/chatsnap/internal/raster"
	"github.com/maxischmaxi/chatsnap/internal/region"
	"github.com/maxischmaxi/chatsnap/internal/sidecar"
	"github.com/maxischmaxi/chatsnap/internal/substitute"
	"github.com/maxischmaxi/chatsnap/internal/tools"
	"github.com/maxischmaxi/chatsnap/internal/window"
	"go.uber.org/zap"
)

var (
	SubstituteDelay = 200 * time.Millisecond
	MultiSettle     = 300 * time.Millisecond
	restoreTimeout  = 10 * time.Second
)

// Session is the part of browser.Session the chat pipeline uses.
type Session interface {
	Chat() (browser.ChatDriver, error)
	Viewport() browser.Viewport
}

type Request struct {
	ServerID   string
	ChannelID  string
	MessageIDs []string
	// Trim defaults to true.
	Trim *bool
	Sed  *substitute.Spec
	// Window expands a single message id into its grouped block.
	Window int
}

func (r Request) trim() bool { return r.Trim == nil || *r.Trim }

type Service struct {
	sess Session
	cfg  *config.Config
}

func NewService(sess Session, cfg *config.Config) *Service {
	return &Service{sess: sess, cfg: cfg}
}

// CaptureMessage captures one message, or the region spanning several, and
// returns the path of the written PNG with its sidecar record appended.
func (s *Service) CaptureMessage(ctx context.Context, req Request) (string, error) {
	driver, err := s.sess.Chat()
	if err != nil {
		return "", err
	}
	if req.ServerID == "" || req.ChannelID == "" || len(req.MessageIDs) == 0 {
		return "", apperr.ErrInvalidRequest.With("server, channel and message ids are required")
	}

	ids := req.MessageIDs
	anchor := browser.Locator{ServerID: req.ServerID, ChannelID: req.ChannelID, MessageID: ids[0]}
	log := logging.With(zap.String("channel", req.ChannelID), zap.String("message", anchor.MessageID))
	log.Info("locating message")

	expand := len(ids) == 1 && req.Window > 1
	if err := driver.NavigateToMessage(ctx, anchor, browser.NavigateOptions{
		ScrollToTop: len(ids) > 1 || expand,
	}); err != nil {
		return "", err
	}

	if expand {
		msgs, err := driver.CachedMessages(ctx, req.ChannelID)
		if err != nil {
			return "", err
		}
		ids = window.Resolve(anchor.MessageID, msgs, req.Window)
		log.Debug("expanded message window", zap.Strings("ids", ids))
	}

	selectors := make([]string, len(ids))
	for i, id := range ids {
		selectors[i] = browser.MessageSelector(req.ChannelID, id)
	}

	if s.cfg.UseNewNav {
		if err := driver.HideExcept(ctx, selectors); err != nil {
			return "", fmt.Errorf("isolate messages: %w", err)
		}
	}

	data, err := s.capture(ctx, driver, req, selectors)
	if err != nil {
		log.Error("message capture failed", zap.Error(err))
		return "", err
	}

	if req.trim() {
		data, err = raster.TrimPNG(data, raster.TrimOptions{
			Threshold: s.cfg.Trim.BackgroundThreshold(),
			MinWidth:  s.cfg.Trim.MinWidth,
		})
		if err != nil {
			return "", fmt.Errorf("trim: %w", err)
		}
	}

	msgBox, avatar, err := driver.ProfilePicture(ctx, selectors[0])
	if err != nil {
		return "", fmt.Errorf("locate profile picture: %w", err)
	}

	path, err := s.write(data, region.ProfilePicture(msgBox, avatar))
	if err != nil {
		return "", err
	}
	log.Info("screenshot saved", zap.String("path", path), zap.Int("messages", len(ids)))
	return path, nil
}

// capture runs the optional substitution around the raster capture. The
// original content is restored on every exit path once it was replaced.
func (s *Service) capture(ctx context.Context, driver browser.ChatDriver, req Request, selectors []string) ([]byte, error) {
	if req.Sed != nil {
		h, err := driver.CachedMessage(ctx, req.ChannelID, req.MessageIDs[0])
		if err != nil {
			return nil, err
		}
		restore, err := substitute.Substitute(ctx, h, *req.Sed)
		if err != nil {
			return nil, err
		}
		defer func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
			defer cancel()
			_ = sleepCtx(rctx, SubstituteDelay)
			if rerr := restore(rctx); rerr != nil {
				logging.L.Error("failed to restore message content", zap.Error(rerr))
			}
		}()
		if err := sleepCtx(ctx, SubstituteDelay); err != nil {
			return nil, err
		}
	}

	if err := driver.SetZoom(ctx); err != nil {
		return nil, fmt.Errorf("set zoom: %w", err)
	}

	if len(selectors) == 1 {
		return driver.CaptureElement(ctx, selectors[0])
	}

	if err := sleepCtx(ctx, MultiSettle); err != nil {
		return nil, err
	}
	boxes := make([]*region.Box, len(selectors))
	for i, sel := range selectors {
		box, err := driver.Box(ctx, sel)
		if err != nil {
			return nil, fmt.Errorf("measure %s: %w", sel, err)
		}
		boxes[i] = box
	}
	rect, err := region.Enclose(boxes, s.sess.Viewport().Height)
	if err != nil {
		return nil, err
	}
	return driver.CaptureClip(ctx, rect)
}

func (s *Service) write(data []byte, pfp region.Rect) (path string, err error) {
	path = filepath.Join(s.cfg.ScreenshotDir, tools.ScreenshotName(time.Now()))
	f, err := os.Create(path)
	if err != nil {
		logging.L.Error("failed to create screenshot", zap.String("path", path), zap.Error(err))
		return "", err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
			path = ""
		}
	}()

	if _, err = f.Write(data); err != nil {
		return path, err
	}
	if err = sidecar.Append(f, pfp); err != nil {
		return path, fmt.Errorf("append sidecar: %w", err)
	}
	return path, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
