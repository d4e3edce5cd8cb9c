package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/maxischmaxi/chatsnap/internal/auth"
	"github.com/maxischmaxi/chatsnap/internal/gate"
	"github.com/maxischmaxi/chatsnap/internal/logging"
	"go.uber.org/zap"
)

// Envelope is the body every non-2xx response is rewritten into.
type Envelope struct {
	Error bool `json:"error"`
	Code  int  `json:"code"`
	Data  any  `json:"data"`
}

type envelopeWriter struct {
	http.ResponseWriter
	code   int
	failed bool
	buf    bytes.Buffer
}

func (w *envelopeWriter) WriteHeader(code int) {
	if w.code != 0 {
		return
	}
	w.code = code
	if code < 200 || code >= 300 {
		w.failed = true
		return
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *envelopeWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if w.failed {
		return w.buf.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

func (w *envelopeWriter) finish() {
	if !w.failed {
		return
	}
	var data any
	body := w.buf.Bytes()
	if strings.Contains(w.Header().Get("Content-Type"), "application/json") && json.Valid(body) {
		data = json.RawMessage(body)
	} else {
		data = map[string]string{"message": strings.TrimSpace(string(body))}
	}

	h := w.Header()
	h.Del("Content-Length")
	h.Del("Content-Disposition")
	h.Del("X-Content-Type-Options")
	h.Set("Content-Type", "application/json; charset=utf-8")
	w.ResponseWriter.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w.ResponseWriter).Encode(Envelope{Error: true, Code: w.code, Data: data})
}

// WrapErrors turns every non-2xx response into an HTTP 200 carrying an
// Envelope, so clients only ever have to parse one error shape.
func WrapErrors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ew := &envelopeWriter{ResponseWriter: w}
		defer ew.finish()
		next.ServeHTTP(ew, r)
	})
}

// RequestLogger logs one line per request with the status the handler set.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logging.L.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("requestId", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

type userKey struct{}

// UserFrom returns the user authenticated by RequireToken.
func UserFrom(ctx context.Context) *auth.User {
	u, _ := ctx.Value(userKey{}).(*auth.User)
	return u
}

// RequireToken checks the "Authorization: Token <jwt>" header.
func RequireToken(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, _ := strings.Cut(r.Header.Get("Authorization"), " ")
			if scheme != "" && scheme != "Token" {
				authError(w, http.StatusUnauthorized, "Invalid token", nil)
				return
			}
			if token == "" {
				authError(w, http.StatusUnauthorized, "No token provided", nil)
				return
			}

			u, err := a.Verify(token)
			switch {
			case errors.Is(err, auth.ErrInvalidCredentials):
				authError(w, http.StatusUnauthorized, "Invalid credentials", err)
				return
			case err != nil:
				authError(w, http.StatusForbidden, "Invalid token", err)
				return
			}

			logging.L.Info("authenticated", zap.String("user", u.Username))
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, u)))
		})
	}
}

func authError(w http.ResponseWriter, code int, msg string, err error) {
	logging.L.Error("auth error", zap.String("error", msg), zap.Error(err))
	writeJSON(w, code, map[string]string{"error": msg})
}

// Lock lets one request per URL path through at a time and answers 503 to
// the rest. The query string is not part of the key.
func Lock(g *gate.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := r.URL.Path
			if !g.Acquire(name) {
				logging.L.Warn("route locked", zap.String("route", name))
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, "The %q route is currently locked. Please try again later.", name)
				return
			}
			defer g.Release(name)
			next.ServeHTTP(w, r)
		})
	}
}
