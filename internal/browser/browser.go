// Package browser owns the single Chrome process behind every capture and
// the chat document kept logged in inside it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/maxischmaxi/chatsnap/internal/config"
	"github.com/maxischmaxi/chatsnap/internal/logging"
	"github.com/maxischmaxi/chatsnap/internal/tools"
	"go.uber.org/zap"
)

var DefaultArgs = []string{"--disable-gpu", "--no-sandbox"}

// LaunchTimeout bounds the browser start.
const LaunchTimeout = 30 * time.Second

// LaunchArgs merges the base flags with the configured extras and, for a
// visible window, the window geometry flag.
func LaunchArgs(cfg *config.Config) []string {
	args := tools.DedupeArgs(DefaultArgs, cfg.Args...)
	if !cfg.Headless {
		if cfg.Window.Fullscreen {
			args = append(args, "--start-maximized")
		} else {
			args = append(args, fmt.Sprintf("--window-size=%d,%d", cfg.Window.Width, cfg.Window.Height))
		}
	}
	return tools.DedupeArgs(args)
}

func allocatorOptions(cfg *config.Config, args []string) []chromedp.ExecAllocatorOption {
	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("force-color-profile", "srgb"),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.UserDataDir(cfg.UserDataDir),
	)

	for _, a := range args {
		if name, value, ok := tools.SplitFlag(a); ok {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	switch bin := os.Getenv("CHROME_BIN"); {
	case bin != "" && tools.FileExists(bin):
		opts = append(opts, chromedp.ExecPath(bin))
	case bin != "":
		logging.L.Warn("CHROME_BIN does not exist, ignoring", zap.String("path", bin))
	default:
		if p, err := FindChrome(); err == nil {
			opts = append(opts, chromedp.ExecPath(p))
		} else {
			logging.L.Warn("chrome binary not found in standard paths, relying on system PATH")
		}
	}
	return opts
}

// launch starts Chrome and returns the browser-wide context.
func launch(root context.Context, cfg *config.Config, args []string) (context.Context, context.CancelFunc, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(root, allocatorOptions(cfg, args)...)
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logging.S.Infof),
		chromedp.WithErrorf(logging.S.Debugf),
	)
	// the browser lives as long as the context of its first Run, so a stuck
	// start is cut off by cancelling that context
	timer := time.AfterFunc(LaunchTimeout, cancel)
	err := chromedp.Run(ctx)
	if !timer.Stop() && err == nil {
		err = fmt.Errorf("browser start exceeded %s", LaunchTimeout)
	}
	if err != nil {
		cancel()
		allocCancel()
		logging.L.Error("failed to start browser", zap.Error(err))
		return nil, nil, err
	}

	return ctx, func() {
		cancel()
		allocCancel()
	}, nil
}

// ErrChromeNotFound is returned by FindChrome when no known binary exists.
var ErrChromeNotFound = errors.New("chrome not found")

var chromeCandidates = map[string][]string{
	"darwin": {
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	},
	"linux": {"google-chrome-stable", "google-chrome", "chromium", "chromium-browser", "headless-shell"},
	"windows": {
		`%LOCALAPPDATA%\Google\Chrome\Application\chrome.exe`,
		`%ProgramFiles%\Google\Chrome\Application\chrome.exe`,
		`%ProgramFiles(x86)%\Google\Chrome\Application\chrome.exe`,
	},
}

// FindChrome looks for a Chrome or Chromium binary in the usual places for
// the running OS.
func FindChrome() (string, error) {
	for _, c := range chromeCandidates[runtime.GOOS] {
		c = expandWindowsEnv(c)
		if p, err := exec.LookPath(c); err == nil {
			return p, nil
		}
		if tools.FileExists(c) {
			return c, nil
		}
	}
	return "", ErrChromeNotFound
}

func expandWindowsEnv(s string) string {
	for _, name := range []string{"LOCALAPPDATA", "ProgramFiles(x86)", "ProgramFiles"} {
		s = strings.ReplaceAll(s, "%"+name+"%", os.Getenv(name))
	}
	return s
}
