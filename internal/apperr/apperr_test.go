package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByKind(t *testing.T) {
	err := ErrMessageNotFound.With("123")
	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.NotErrorIs(t, err, ErrElementNotFound)

	// both sentinels share NotInitialized
	assert.ErrorIs(t, ErrChatNotInitialized, ErrNotInitialized)

	wrapped := fmt.Errorf("capture: %w", err)
	assert.ErrorIs(t, wrapped, ErrMessageNotFound)
	assert.Equal(t, MessageNotFound, KindOf(wrapped))
	assert.Equal(t, "123", DetailsOf(wrapped))
}

func TestWithDoesNotMutateSentinel(t *testing.T) {
	_ = ErrRegionTooTall.With(map[string]int{"maxY": 2000})
	assert.Nil(t, ErrRegionTooTall.Details)
}

func TestWrap(t *testing.T) {
	cause := errors.New("deadline exceeded")
	err := ErrLoginTimeout.Wrap(cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrLoginTimeout)
	assert.Equal(t, "chat login failed: deadline exceeded", err.Error())
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(0), KindOf(errors.New("boom")))
	assert.Nil(t, DetailsOf(errors.New("boom")))
	assert.Equal(t, "Kind(99)", Kind(99).String())
	assert.Equal(t, "RegionTooTall", RegionTooTall.String())
}
