// Package server exposes the capture engines over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/maxischmaxi/chatsnap/internal/apperr"
	"github.com/maxischmaxi/chatsnap/internal/auth"
	"github.com/maxischmaxi/chatsnap/internal/browser"
	"github.com/maxischmaxi/chatsnap/internal/gate"
	"github.com/maxischmaxi/chatsnap/internal/logging"
	"github.com/maxischmaxi/chatsnap/internal/raster"
	"github.com/maxischmaxi/chatsnap/internal/screenshot"
	"go.uber.org/zap"
)

const (
	PhashHeader     = "X-Capture-Phash"
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

type PageCapturer interface {
	CaptureScreenshot(ctx context.Context, url string, opts browser.CaptureOptions) (string, error)
}

type MessageCapturer interface {
	CaptureMessage(ctx context.Context, req screenshot.Request) (string, error)
}

type Options struct {
	Auth  *auth.Authenticator
	Pages PageCapturer
	// Messages is nil when chat automation is off; the route is then not
	// registered.
	Messages MessageCapturer
	// MaxWindow caps the window a chat request may ask for.
	MaxWindow int
}

type Server struct {
	opts Options
	gate *gate.Gate
}

func New(opts Options) *Server {
	if opts.MaxWindow < 1 {
		opts.MaxWindow = 1
	}
	return &Server{opts: opts, gate: gate.New()}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(WrapErrors)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Post("/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(RequireToken(s.opts.Auth))
		r.Post("/screenshot", s.handleScreenshot)
		if s.opts.Messages != nil {
			r.With(Lock(s.gate)).Post("/messageScreenshot", s.handleMessageScreenshot)
		}
	})
	return r
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logging.L.Info("listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logging.L.Info("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil || req.Username == "" || req.Password == "" {
		requestError(w, "Login", http.StatusBadRequest, "Username and password are required")
		return
	}

	token, err := s.opts.Auth.Login(req.Username, req.Password)
	if err != nil {
		requestError(w, "Login", http.StatusUnauthorized, "Invalid credentials")
		return
	}
	logging.L.Info("user logged in", zap.String("user", req.Username))
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	var req pageRequest
	if err := decode(r, &req); err != nil {
		requestError(w, "Request", http.StatusBadRequest, "Invalid request body")
		return
	}
	opts, err := req.options()
	if err != nil {
		requestError(w, "Request", http.StatusBadRequest, err.Error())
		return
	}

	logging.L.Info("page capture requested", userField(r), zap.String("url", req.URL))
	path, err := s.opts.Pages.CaptureScreenshot(r.Context(), req.URL, opts)
	if err != nil {
		captureError(w, "Failed to capture screenshot", err)
		return
	}
	sendCapture(w, r, path)
}

func (s *Server) handleMessageScreenshot(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decode(r, &req); err != nil {
		msg := "Invalid request body"
		if errors.Is(err, errBadID) {
			msg = errBadID.Error()
		}
		requestError(w, "Request", http.StatusBadRequest, msg)
		return
	}
	if err := req.validate(); err != nil {
		requestError(w, "Request", http.StatusBadRequest, err.Error())
		return
	}

	window := 1
	if req.Window != nil {
		window = min(*req.Window, s.opts.MaxWindow)
	}

	logging.L.Info("message capture requested", userField(r),
		zap.String("channel", req.ChannelID), zap.Strings("messages", req.MessageID))
	path, err := s.opts.Messages.CaptureMessage(r.Context(), screenshot.Request{
		ServerID:   req.ServerID,
		ChannelID:  req.ChannelID,
		MessageIDs: req.MessageID,
		Trim:       req.Trim,
		Sed:        req.Sed,
		Window:     window,
	})
	if err != nil {
		captureError(w, "Failed to capture message screenshot", err)
		return
	}
	sendCapture(w, r, path)
}

func userField(r *http.Request) zap.Field {
	if u := UserFrom(r.Context()); u != nil {
		return zap.String("user", u.Username)
	}
	return zap.Skip()
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func requestError(w http.ResponseWriter, kind string, code int, msg string) {
	logging.L.Error(kind+" error", zap.String("error", msg))
	writeJSON(w, code, map[string]string{"error": msg})
}

func statusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.MessageNotFound:
		return http.StatusNotFound
	case apperr.InvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func captureError(w http.ResponseWriter, msg string, err error) {
	logging.L.Error(msg, zap.Error(err))
	body := map[string]any{"error": msg, "details": err.Error()}
	if k := apperr.KindOf(err); k != 0 {
		body["kind"] = k.String()
		if d := apperr.DetailsOf(err); d != nil {
			body["context"] = d
		}
	}
	writeJSON(w, statusOf(err), body)
}

// sendCapture streams the file as an attachment and deletes it afterwards.
func sendCapture(w http.ResponseWriter, r *http.Request, path string) {
	defer func() {
		if err := os.Remove(path); err != nil {
			logging.L.Error("failed to remove screenshot", zap.String("path", path), zap.Error(err))
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		captureError(w, "Failed to read screenshot", err)
		return
	}
	defer f.Close()

	if hash, err := raster.FingerprintPNG(f); err == nil {
		w.Header().Set(PhashHeader, hash)
	} else {
		logging.L.Warn("failed to fingerprint screenshot", zap.String("path", path), zap.Error(err))
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		captureError(w, "Failed to read screenshot", err)
		return
	}

	st, err := f.Stat()
	if err != nil {
		captureError(w, "Failed to read screenshot", err)
		return
	}
	name := filepath.Base(path)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, st.ModTime(), f)
}
