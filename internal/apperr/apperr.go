// Package apperr defines the failure kinds shared by the capture core.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	NotInitialized Kind = iota + 1
	AlreadyInitialized
	BlockedNavigation
	ElementNotFound
	MessageNotFound
	InvalidPattern
	NoMatchFound
	EmptyResult
	NoBoundingBoxes
	RegionTooTall
	LoginTimeout
	InvalidRequest
)

var kindNames = map[Kind]string{
	NotInitialized:     "NotInitialized",
	AlreadyInitialized: "AlreadyInitialized",
	BlockedNavigation:  "BlockedNavigation",
	ElementNotFound:    "ElementNotFound",
	MessageNotFound:    "MessageNotFound",
	InvalidPattern:     "InvalidPattern",
	NoMatchFound:       "NoMatchFound",
	EmptyResult:        "EmptyResult",
	NoBoundingBoxes:    "NoBoundingBoxes",
	RegionTooTall:      "RegionTooTall",
	LoginTimeout:       "LoginTimeout",
	InvalidRequest:     "InvalidRequest",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a capture failure with a kind and optional structured details
// (offending rectangle, pattern, id, ...). Two errors match under errors.Is
// when their kinds are equal.
type Error struct {
	Kind    Kind
	Message string
	Details any

	// LikelyInvalidToken is only meaningful for LoginTimeout.
	LikelyInvalidToken bool

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// With returns a copy of e carrying details.
func (e *Error) With(details any) *Error {
	c := *e
	c.Details = details
	return &c
}

// Wrap returns a copy of e that unwraps to cause.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

var (
	ErrNotInitialized     = &Error{Kind: NotInitialized, Message: "browser is not initialized"}
	ErrChatNotInitialized = &Error{Kind: NotInitialized, Message: "chat client is not initialized"}
	ErrAlreadyInitialized = &Error{Kind: AlreadyInitialized, Message: "browser is already initialized"}
	ErrBlockedNavigation  = &Error{Kind: BlockedNavigation, Message: "blocked navigation to non-web URL"}
	ErrElementNotFound    = &Error{Kind: ElementNotFound, Message: "element not found"}
	ErrMessageNotFound    = &Error{Kind: MessageNotFound, Message: "message not found"}
	ErrInvalidPattern     = &Error{Kind: InvalidPattern, Message: "invalid regex or flags"}
	ErrNoMatchFound       = &Error{Kind: NoMatchFound, Message: "no matching text found"}
	ErrEmptyResult        = &Error{Kind: EmptyResult, Message: "can't edit with empty content"}
	ErrNoBoundingBoxes    = &Error{Kind: NoBoundingBoxes, Message: "no valid bounding boxes found for the messages"}
	ErrRegionTooTall      = &Error{Kind: RegionTooTall, Message: "messages too tall, they don't fit in the browser window"}
	ErrLoginTimeout       = &Error{Kind: LoginTimeout, Message: "chat login failed"}
	ErrInvalidRequest     = &Error{Kind: InvalidRequest, Message: "invalid request"}
)

// KindOf reports the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// DetailsOf returns the details of the first *Error in err's chain.
func DetailsOf(err error) any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}
