package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"

	"github.com/maxischmaxi/chatsnap/internal/browser"
	"github.com/maxischmaxi/chatsnap/internal/region"
	"github.com/maxischmaxi/chatsnap/internal/substitute"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type pageRequest struct {
	URL      string          `json:"url"`
	Clip     json.RawMessage `json:"clip"`
	ScrollTo json.RawMessage `json:"scrollTo"`
}

type clipRect struct {
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
}

var (
	errNoURL       = errors.New("URL is required")
	errBadClip     = errors.New("Invalid clip provided")
	errBadClipRect = errors.New("Invalid clip provided. It must have x, y, width, and height")
	errBadSelector = errors.New("Invalid selector provided")
	errNoIDs       = errors.New("Server, channel and message ids are required")
	errBadID       = errors.New("Invalid message ID")
	errBadSed      = errors.New("Invalid sed options. regex is required")
	errBadWindow   = errors.New("Invalid window. It must be a positive integer")
)

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// options validates the request into capture options.
func (p pageRequest) options() (browser.CaptureOptions, error) {
	var opts browser.CaptureOptions
	if p.URL == "" {
		return opts, errNoURL
	}

	if !isNull(p.ScrollTo) {
		if err := json.Unmarshal(p.ScrollTo, &opts.ScrollTo); err != nil {
			return opts, errBadSelector
		}
	}

	if isNull(p.Clip) {
		return opts, nil
	}
	var mode string
	if err := json.Unmarshal(p.Clip, &mode); err == nil {
		if mode != "element" {
			return opts, errBadClip
		}
		opts.Element = true
		return opts, nil
	}
	var c clipRect
	if err := json.Unmarshal(p.Clip, &c); err != nil {
		return opts, errBadClip
	}
	if c.X == nil || c.Y == nil || c.Width == nil || c.Height == nil {
		return opts, errBadClipRect
	}
	opts.Clip = &region.Rect{
		X:      int(math.Floor(*c.X)),
		Y:      int(math.Floor(*c.Y)),
		Width:  int(math.Floor(*c.Width)),
		Height: int(math.Floor(*c.Height)),
	}
	if opts.Clip.Width <= 0 || opts.Clip.Height <= 0 {
		return opts, errBadClipRect
	}
	return opts, nil
}

// messageIDs accepts either a single id or a list of ids.
type messageIDs []string

func (m *messageIDs) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*m = messageIDs{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errBadID
	}
	*m = many
	return nil
}

type messageRequest struct {
	ServerID  string           `json:"serverId"`
	ChannelID string           `json:"channelId"`
	MessageID messageIDs       `json:"messageId"`
	Trim      *bool            `json:"trim"`
	Sed       *substitute.Spec `json:"sed"`
	Window    *int             `json:"window"`
}

func (m messageRequest) validate() error {
	if m.ServerID == "" || m.ChannelID == "" || len(m.MessageID) == 0 {
		return errNoIDs
	}
	for _, id := range m.MessageID {
		if id == "" {
			return errBadID
		}
	}
	if m.Sed != nil && m.Sed.Pattern == "" {
		return errBadSed
	}
	if m.Window != nil && *m.Window < 1 {
		return errBadWindow
	}
	return nil
}
