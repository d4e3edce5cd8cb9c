package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/maxischmaxi/chatsnap/internal/region"
	"github.com/maxischmaxi/chatsnap/internal/substitute"
	"github.com/maxischmaxi/chatsnap/internal/window"
)

// ErrCachedMessageNotFound means the client cache has no entry for a message,
// even though the message may be rendered.
var ErrCachedMessageNotFound = errors.New("cached message not found")

// Locator addresses one chat message.
type Locator struct {
	ServerID  string
	ChannelID string
	MessageID string
}

// Path is the in-app route that opens the message.
func (l Locator) Path() string {
	return fmt.Sprintf("/channels/%s/%s/%s", l.ServerID, l.ChannelID, l.MessageID)
}

func (l Locator) Selector() string {
	return MessageSelector(l.ChannelID, l.MessageID)
}

// MessageSelector is the CSS selector of a rendered message.
func MessageSelector(channelID, messageID string) string {
	return fmt.Sprintf("#chat-messages-%s-%s", channelID, messageID)
}

type NavigateOptions struct {
	// ScrollToTop aligns the message with the top of the viewport.
	ScrollToTop bool
}

// ChatDriver is everything the capture pipeline needs from the logged-in
// chat document. All selectors are CSS selectors.
type ChatDriver interface {
	// NavigateToMessage opens the message's channel in place and waits for
	// the message to render; apperr.ErrMessageNotFound if it never does.
	NavigateToMessage(ctx context.Context, loc Locator, opts NavigateOptions) error
	// HideExcept hides every element that is neither a target, inside one,
	// nor an ancestor of one.
	HideExcept(ctx context.Context, selectors []string) error
	// Box returns the element's bounding box, nil when absent.
	Box(ctx context.Context, selector string) (*region.Box, error)
	// ProfilePicture returns the message box and its avatar box; avatar is
	// nil for grouped follow-up messages.
	ProfilePicture(ctx context.Context, selector string) (message, avatar *region.Box, err error)
	// CachedMessages lists the client's cached messages of a channel in
	// chronological order.
	CachedMessages(ctx context.Context, channelID string) ([]window.Message, error)
	// CachedMessage returns an editable handle on a cached message.
	CachedMessage(ctx context.Context, channelID, messageID string) (substitute.Handle, error)
	SetZoom(ctx context.Context) error
	CaptureElement(ctx context.Context, selector string) ([]byte, error)
	CaptureClip(ctx context.Context, r region.Rect) ([]byte, error)
	Crashed(ctx context.Context) (bool, error)
	Reload(ctx context.Context) error
}
