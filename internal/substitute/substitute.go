// Package substitute rewrites a chat message's content for the duration of
// a capture.
//
// Patterns are caller supplied, so they are compiled with Go's regexp
// package, which is RE2 and runs in time linear in the input.
package substitute

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/maxischmaxi/chatsnap/internal/apperr"
)

const DefaultFlags = "i"

// Spec describes one substitution, sed style.
type Spec struct {
	Pattern     string `json:"regex"`
	Replacement string `json:"replace"`
	Flags       string `json:"flags,omitempty"`
}

// Substitution is a compiled Spec.
type Substitution struct {
	re     *regexp.Regexp
	global bool
	tmpl   string
	spec   Spec
}

// Compile validates spec. Flags default to case-insensitive; supported flags
// are i, m, s and g, while u and y are accepted and ignored.
func Compile(spec Spec) (*Substitution, error) {
	flags := spec.Flags
	if flags == "" {
		flags = DefaultFlags
	}

	invalid := apperr.ErrInvalidPattern.With(map[string]string{"regex": spec.Pattern, "flags": flags})

	var inline strings.Builder
	global := false
	seen := map[rune]bool{}
	for _, f := range flags {
		if seen[f] {
			return nil, invalid
		}
		seen[f] = true
		switch f {
		case 'i', 'm', 's':
			inline.WriteRune(f)
		case 'g':
			global = true
		case 'u', 'y':
		default:
			return nil, invalid
		}
	}

	expr := spec.Pattern
	if inline.Len() > 0 {
		expr = "(?" + inline.String() + ")" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, invalid.Wrap(err)
	}

	return &Substitution{re: re, global: global, tmpl: spec.Replacement, spec: spec}, nil
}

// Apply returns content with the substitution applied.
func (s *Substitution) Apply(content string) (string, error) {
	n := 1
	if s.global {
		n = -1
	}
	matches := s.re.FindAllStringSubmatchIndex(content, n)
	if len(matches) == 0 {
		return "", apperr.ErrNoMatchFound.With(map[string]string{"regex": s.re.String(), "content": content})
	}

	var out strings.Builder
	last := 0
	for _, m := range matches {
		out.WriteString(content[last:m[0]])
		s.expand(&out, content, m)
		last = m[1]
	}
	out.WriteString(content[last:])

	if out.Len() == 0 {
		return "", apperr.ErrEmptyResult
	}
	return out.String(), nil
}

// expand writes the replacement template for one match. It understands
// $$, $&, $`, $', $n, $nn and $<name>; anything else is literal.
func (s *Substitution) expand(out *strings.Builder, src string, m []int) {
	t := s.tmpl
	groups := len(m)/2 - 1
	for i := 0; i < len(t); i++ {
		c := t[i]
		if c != '$' || i+1 >= len(t) {
			out.WriteByte(c)
			continue
		}
		next := t[i+1]
		switch {
		case next == '$':
			out.WriteByte('$')
			i++
		case next == '&':
			out.WriteString(src[m[0]:m[1]])
			i++
		case next == '`':
			out.WriteString(src[:m[0]])
			i++
		case next == '\'':
			out.WriteString(src[m[1]:])
			i++
		case next >= '0' && next <= '9':
			num, width := groupRef(t[i+1:], groups)
			if width == 0 {
				out.WriteByte(c)
				continue
			}
			if m[2*num] >= 0 {
				out.WriteString(src[m[2*num]:m[2*num+1]])
			}
			i += width
		case next == '<':
			end := strings.IndexByte(t[i+2:], '>')
			if end < 0 {
				out.WriteByte(c)
				continue
			}
			name := t[i+2 : i+2+end]
			idx := s.re.SubexpIndex(name)
			if idx < 0 {
				out.WriteByte(c)
				continue
			}
			if m[2*idx] >= 0 {
				out.WriteString(src[m[2*idx]:m[2*idx+1]])
			}
			i += end + 2
		default:
			out.WriteByte(c)
		}
	}
}

// groupRef parses a one or two digit group reference, preferring two digits
// when that group exists. Width 0 means no valid reference.
func groupRef(s string, groups int) (num, width int) {
	if len(s) >= 2 && s[1] >= '0' && s[1] <= '9' {
		if n, _ := strconv.Atoi(s[:2]); n >= 1 && n <= groups {
			return n, 2
		}
	}
	n := int(s[0] - '0')
	if n >= 1 && n <= groups {
		return n, 1
	}
	return 0, 0
}

// Replace compiles spec and applies it to content.
func Replace(content string, spec Spec) (string, error) {
	s, err := Compile(spec)
	if err != nil {
		return "", err
	}
	return s.Apply(content)
}

// Handle is a cached message whose content can be pushed into the live
// document without a network round trip.
type Handle interface {
	Content() string
	SetContent(ctx context.Context, content string) error
}

// Restore puts the original content back.
type Restore func(ctx context.Context) error

// Substitute edits h's content in place. Nothing is pushed unless the new
// content is valid, so a failed substitution leaves the document untouched.
// The caller must run the returned Restore on every exit path.
func Substitute(ctx context.Context, h Handle, spec Spec) (Restore, error) {
	original := h.Content()
	updated, err := Replace(original, spec)
	if err != nil {
		return nil, err
	}
	if err := h.SetContent(ctx, updated); err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		if original == "" {
			return nil
		}
		return h.SetContent(ctx, original)
	}, nil
}
