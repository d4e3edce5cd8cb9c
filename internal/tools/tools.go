package tools

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// EnsureEOF fails when dec still holds another YAML document.
func EnsureEOF(dec *yaml.Decoder) error {
	var extra any
	err := dec.Decode(&extra)
	switch {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		return err
	default:
		return errors.New("expected a single YAML document, found more")
	}
}

// ExpandPath resolves a leading "~" and returns a clean absolute path.
func ExpandPath(path string) (string, error) {
	if rest, ok := strings.CutPrefix(path, "~"); ok {
		if rest != "" && !strings.HasPrefix(rest, "/") {
			return "", fmt.Errorf("cannot expand user in path: %s", path)
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = home + rest
	}
	return filepath.Abs(path)
}

// DedupeArgs trims every argument and drops empties and repeats, keeping
// first-seen order.
func DedupeArgs(base []string, extra ...string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, a := range append(append([]string{}, base...), extra...) {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// SplitFlag turns "--name=value" into ("name", "value", true) and "--name"
// into ("name", "", false).
func SplitFlag(arg string) (name, value string, hasValue bool) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	name, value, hasValue = strings.Cut(arg, "=")
	return name, value, hasValue
}

func Clamp(x, lo, hi float64) float64 {
	return math.Max(math.Min(x, hi), lo)
}

// ScreenshotName returns a timestamped file name that stays unique across
// concurrent captures within the same millisecond.
func ScreenshotName(now time.Time) string {
	return fmt.Sprintf("screenshot_%d_%s.png", now.UnixMilli(), uuid.NewString()[:8])
}

// ParseValidity accepts time.ParseDuration syntax plus a trailing "d" for days.
func ParseValidity(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid validity %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid validity %q", s)
	}
	return d, nil
}
