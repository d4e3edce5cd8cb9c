package substitute

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/maxischmaxi/chatsnap/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplace(t *testing.T) {
	tests := []struct {
		name    string
		content string
		spec    Spec
		want    string
	}{
		{"default is case-insensitive and first only", "Cat cat CAT", Spec{Pattern: "cat", Replacement: "dog"}, "dog cat CAT"},
		{"global", "Cat cat CAT", Spec{Pattern: "cat", Replacement: "dog", Flags: "gi"}, "dog dog dog"},
		{"case-sensitive when flags given", "Cat cat", Spec{Pattern: "cat", Replacement: "dog", Flags: "g"}, "Cat dog"},
		{"numbered groups", "john smith", Spec{Pattern: `(\w+) (\w+)`, Replacement: "$2, $1"}, "smith, john"},
		{"whole match and dollar", "5", Spec{Pattern: `\d`, Replacement: "$$$&"}, "$5"},
		{"named group", "v=42", Spec{Pattern: `v=(?P<num>\d+)`, Replacement: "n:$<num>"}, "n:42"},
		{"prefix and suffix", "abc", Spec{Pattern: "b", Replacement: "[$`|$']"}, "a[a|c]c"},
		{"unknown group is literal", "ab", Spec{Pattern: "a", Replacement: "$9"}, "$9b"},
		{"group then digit", "ab", Spec{Pattern: "(a)", Replacement: "$10"}, "a0b"},
		{"dotall", "a\nb", Spec{Pattern: "a.b", Replacement: "x", Flags: "s"}, "x"},
		{"multiline", "x\ny", Spec{Pattern: "^y$", Replacement: "z", Flags: "m"}, "x\nz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Replace(tt.content, tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReplaceErrors(t *testing.T) {
	_, err := Replace("abc", Spec{Pattern: "(", Replacement: "x"})
	assert.ErrorIs(t, err, apperr.ErrInvalidPattern)

	_, err = Replace("abc", Spec{Pattern: "a", Flags: "q"})
	assert.ErrorIs(t, err, apperr.ErrInvalidPattern)

	_, err = Replace("abc", Spec{Pattern: "a", Flags: "gg"})
	assert.ErrorIs(t, err, apperr.ErrInvalidPattern)

	// backreferences and lookarounds are not RE2
	_, err = Replace("aa", Spec{Pattern: `(a)\1`})
	assert.ErrorIs(t, err, apperr.ErrInvalidPattern)

	_, err = Replace("abc", Spec{Pattern: "zzz", Replacement: "x"})
	assert.ErrorIs(t, err, apperr.ErrNoMatchFound)

	_, err = Replace("abc", Spec{Pattern: ".*", Replacement: ""})
	assert.ErrorIs(t, err, apperr.ErrEmptyResult)
}

func TestReplaceLinearTime(t *testing.T) {
	// classic catastrophic-backtracking input
	content := strings.Repeat("a", 5000) + "!"
	start := time.Now()
	_, err := Replace(content, Spec{Pattern: "^(a+)+$", Replacement: "x"})
	assert.ErrorIs(t, err, apperr.ErrNoMatchFound)
	assert.Less(t, time.Since(start), 2*time.Second)
}

type fakeHandle struct {
	content string
	pushes  []string
	fail    error
}

func (h *fakeHandle) Content() string { return h.content }

func (h *fakeHandle) SetContent(_ context.Context, c string) error {
	if h.fail != nil {
		return h.fail
	}
	h.pushes = append(h.pushes, c)
	h.content = c
	return nil
}

func TestSubstituteAndRestore(t *testing.T) {
	h := &fakeHandle{content: "hello world"}
	restore, err := Substitute(context.Background(), h, Spec{Pattern: "world", Replacement: "gophers"})
	require.NoError(t, err)
	assert.Equal(t, "hello gophers", h.content)

	require.NoError(t, restore(context.Background()))
	assert.Equal(t, "hello world", h.content)
	assert.Equal(t, []string{"hello gophers", "hello world"}, h.pushes)
}

func TestSubstituteNoMatchLeavesDocument(t *testing.T) {
	h := &fakeHandle{content: "hello world"}
	restore, err := Substitute(context.Background(), h, Spec{Pattern: "nope", Replacement: "x"})
	assert.ErrorIs(t, err, apperr.ErrNoMatchFound)
	assert.Nil(t, restore)
	assert.Empty(t, h.pushes)
	assert.Equal(t, "hello world", h.content)
}

func TestSubstitutePushFailure(t *testing.T) {
	boom := errors.New("dispatch missing")
	h := &fakeHandle{content: "abc", fail: boom}
	_, err := Substitute(context.Background(), h, Spec{Pattern: "b", Replacement: "x"})
	assert.ErrorIs(t, err, boom)
}
