package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maxischmaxi/chatsnap/internal/apperr"
	"github.com/maxischmaxi/chatsnap/internal/auth"
	"github.com/maxischmaxi/chatsnap/internal/browser"
	"github.com/maxischmaxi/chatsnap/internal/logging"
	"github.com/maxischmaxi/chatsnap/internal/screenshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const secret = "0123456789abcdef0123456789abcdef"

func writePNG(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 32))
	for x := 0; x < 64; x++ {
		img.SetNRGBA(x, x%32, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	f, err := os.CreateTemp(dir, "screenshot_*.png")
	require.NoError(t, err)
	_, err = f.Write(buf.Bytes())
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

type fakePages struct {
	t   *testing.T
	dir string
	err error

	mu   sync.Mutex
	opts browser.CaptureOptions
	path string
}

func (f *fakePages) CaptureScreenshot(_ context.Context, _ string, opts browser.CaptureOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = opts
	if f.err != nil {
		return "", f.err
	}
	f.path = writePNG(f.t, f.dir)
	return f.path, nil
}

func (f *fakePages) last() (browser.CaptureOptions, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts, f.path
}

type fakeMessages struct {
	t       *testing.T
	dir     string
	err     error
	block   chan struct{}
	entered chan struct{}

	mu  sync.Mutex
	req screenshot.Request
}

func (f *fakeMessages) CaptureMessage(_ context.Context, req screenshot.Request) (string, error) {
	f.mu.Lock()
	f.req = req
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return "", f.err
	}
	return writePNG(f.t, f.dir), nil
}

func (f *fakeMessages) last() screenshot.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.req
}

type fixture struct {
	srv      *httptest.Server
	pages    *fakePages
	messages *fakeMessages
	token    string
}

func newFixture(t *testing.T, withChat bool) *fixture {
	t.Helper()
	u, err := auth.NewUser("alice", "hunter2", time.Now())
	require.NoError(t, err)
	users, err := auth.NewUsers([]auth.User{u})
	require.NoError(t, err)
	a, err := auth.New(secret, users)
	require.NoError(t, err)

	dir := t.TempDir()
	fx := &fixture{pages: &fakePages{t: t, dir: dir}}
	opts := Options{Auth: a, Pages: fx.pages, MaxWindow: 3}
	if withChat {
		fx.messages = &fakeMessages{t: t, dir: dir}
		opts.Messages = fx.messages
	}
	fx.srv = httptest.NewServer(New(opts).Routes())
	t.Cleanup(fx.srv.Close)

	fx.token, err = a.Login("alice", "hunter2")
	require.NoError(t, err)
	return fx
}

func (fx *fixture) post(t *testing.T, path, auth, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, fx.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

type envelope struct {
	Error bool                   `json:"error"`
	Code  int                    `json:"code"`
	Data  map[string]interface{} `json:"data"`
}

func readEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.StatusCode, "errors are wrapped into a 200")
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.True(t, env.Error)
	return env
}

func TestLogin(t *testing.T) {
	fx := newFixture(t, false)

	t.Run("missing fields", func(t *testing.T) {
		env := readEnvelope(t, fx.post(t, "/login", "", `{"username":"alice"}`))
		assert.Equal(t, http.StatusBadRequest, env.Code)
		assert.Equal(t, "Username and password are required", env.Data["error"])
	})

	t.Run("bad password", func(t *testing.T) {
		env := readEnvelope(t, fx.post(t, "/login", "", `{"username":"alice","password":"nope"}`))
		assert.Equal(t, http.StatusUnauthorized, env.Code)
		assert.Equal(t, "Invalid credentials", env.Data["error"])
	})

	t.Run("ok", func(t *testing.T) {
		resp := fx.post(t, "/login", "", `{"username":"alice","password":"hunter2"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.NotEmpty(t, body.Token)
	})
}

func TestRequireToken(t *testing.T) {
	fx := newFixture(t, false)
	body := `{"url":"https://example.com"}`

	tests := []struct {
		name   string
		header string
		code   int
		msg    string
	}{
		{"missing", "", http.StatusUnauthorized, "No token provided"},
		{"wrong scheme", "Bearer " + fx.token, http.StatusUnauthorized, "Invalid token"},
		{"empty token", "Token ", http.StatusUnauthorized, "No token provided"},
		{"garbage", "Token abc.def.ghi", http.StatusForbidden, "Invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := readEnvelope(t, fx.post(t, "/screenshot", tt.header, body))
			assert.Equal(t, tt.code, env.Code)
			assert.Equal(t, tt.msg, env.Data["error"])
		})
	}
}

func TestScreenshotValidation(t *testing.T) {
	fx := newFixture(t, false)
	auth := "Token " + fx.token

	tests := map[string]struct {
		body string
		msg  string
	}{
		"no url":         {`{}`, "URL is required"},
		"partial clip":   {`{"url":"https://a","clip":{"x":1,"y":2}}`, errBadClipRect.Error()},
		"clip mode":      {`{"url":"https://a","clip":"viewport"}`, errBadClip.Error()},
		"clip type":      {`{"url":"https://a","clip":12}`, errBadClip.Error()},
		"selector type":  {`{"url":"https://a","scrollTo":5}`, errBadSelector.Error()},
		"malformed json": {`{"url":`, "Invalid request body"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			env := readEnvelope(t, fx.post(t, "/screenshot", auth, tt.body))
			assert.Equal(t, http.StatusBadRequest, env.Code)
			assert.Equal(t, tt.msg, env.Data["error"])
		})
	}
}

func TestScreenshotSendsAndRemovesFile(t *testing.T) {
	fx := newFixture(t, false)

	resp := fx.post(t, "/screenshot", "Token "+fx.token,
		`{"url":"https://example.com","clip":{"x":1.7,"y":2,"width":30,"height":40.9}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	assert.NotEmpty(t, resp.Header.Get(PhashHeader))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	opts, path := fx.pages.last()
	require.NotNil(t, opts.Clip)
	assert.Equal(t, 1, opts.Clip.X)
	assert.Equal(t, 40, opts.Clip.Height)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond, "file removed after sending")
}

func TestScreenshotElementMode(t *testing.T) {
	fx := newFixture(t, false)
	resp := fx.post(t, "/screenshot", "Token "+fx.token, `{"url":"https://a","clip":"element","scrollTo":"#x"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	opts, _ := fx.pages.last()
	assert.Equal(t, browser.CaptureOptions{Element: true, ScrollTo: "#x"}, opts)
}

func TestCaptureLogsUser(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := logging.L
	logging.L = zap.New(core)
	defer func() { logging.L = prev }()

	fx := newFixture(t, true)
	resp := fx.post(t, "/screenshot", "Token "+fx.token, `{"url":"https://a"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = fx.post(t, "/messageScreenshot", "Token "+fx.token, `{"serverId":"1","channelId":"2","messageId":"3"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, msg := range []string{"page capture requested", "message capture requested"} {
		entries := logs.FilterMessage(msg).All()
		require.Len(t, entries, 1, msg)
		assert.Equal(t, "alice", entries[0].ContextMap()["user"], msg)
	}
}

func TestScreenshotCaptureFailure(t *testing.T) {
	fx := newFixture(t, false)
	fx.pages.err = apperr.ErrElementNotFound.With("#missing")

	env := readEnvelope(t, fx.post(t, "/screenshot", "Token "+fx.token, `{"url":"https://a","scrollTo":"#missing"}`))
	assert.Equal(t, http.StatusInternalServerError, env.Code)
	assert.Equal(t, "Failed to capture screenshot", env.Data["error"])
	assert.Equal(t, "element not found", env.Data["details"])
	assert.Equal(t, "ElementNotFound", env.Data["kind"])
	assert.Equal(t, "#missing", env.Data["context"])
}

func TestMessageRouteDisabledWithoutChat(t *testing.T) {
	fx := newFixture(t, false)
	env := readEnvelope(t, fx.post(t, "/messageScreenshot", "Token "+fx.token, `{}`))
	assert.Equal(t, http.StatusNotFound, env.Code)
}

func TestMessageScreenshot(t *testing.T) {
	fx := newFixture(t, true)
	auth := "Token " + fx.token

	t.Run("single id, window capped", func(t *testing.T) {
		resp := fx.post(t, "/messageScreenshot", auth,
			`{"serverId":"1","channelId":"2","messageId":"3","window":10,"trim":false}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		req := fx.messages.last()
		assert.Equal(t, []string{"3"}, req.MessageIDs)
		assert.Equal(t, 3, req.Window)
		require.NotNil(t, req.Trim)
		assert.False(t, *req.Trim)
	})

	t.Run("id list", func(t *testing.T) {
		resp := fx.post(t, "/messageScreenshot", auth,
			`{"serverId":"1","channelId":"2","messageId":["3","4"],"sed":{"regex":"a","replace":"b"}}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		req := fx.messages.last()
		assert.Equal(t, []string{"3", "4"}, req.MessageIDs)
		assert.Equal(t, 1, req.Window)
		require.NotNil(t, req.Sed)
		assert.Equal(t, "a", req.Sed.Pattern)
	})

	for name, tc := range map[string]struct{ body, msg string }{
		"missing ids":   {`{"serverId":"1","channelId":"2"}`, errNoIDs.Error()},
		"numeric id":    {`{"serverId":"1","channelId":"2","messageId":[3]}`, errBadID.Error()},
		"empty regex":   {`{"serverId":"1","channelId":"2","messageId":"3","sed":{"regex":""}}`, errBadSed.Error()},
		"window zero":   {`{"serverId":"1","channelId":"2","messageId":"3","window":0}`, errBadWindow.Error()},
		"empty id list": {`{"serverId":"1","channelId":"2","messageId":[]}`, errNoIDs.Error()},
	} {
		t.Run(name, func(t *testing.T) {
			env := readEnvelope(t, fx.post(t, "/messageScreenshot", auth, tc.body))
			assert.Equal(t, http.StatusBadRequest, env.Code)
			assert.Equal(t, tc.msg, env.Data["error"])
		})
	}

	t.Run("not found", func(t *testing.T) {
		fx.messages.err = apperr.ErrMessageNotFound.With("3")
		defer func() { fx.messages.err = nil }()
		env := readEnvelope(t, fx.post(t, "/messageScreenshot", auth, `{"serverId":"1","channelId":"2","messageId":"3"}`))
		assert.Equal(t, http.StatusNotFound, env.Code)
		assert.Equal(t, "Failed to capture message screenshot", env.Data["error"])
	})

	t.Run("cache miss is a server error", func(t *testing.T) {
		fx.messages.err = fmt.Errorf("%w: channel 2, message 3", browser.ErrCachedMessageNotFound)
		defer func() { fx.messages.err = nil }()
		env := readEnvelope(t, fx.post(t, "/messageScreenshot", auth, `{"serverId":"1","channelId":"2","messageId":"3","sed":{"regex":"a"}}`))
		assert.Equal(t, http.StatusInternalServerError, env.Code)
		assert.Equal(t, "cached message not found: channel 2, message 3", env.Data["details"])
		assert.Nil(t, env.Data["kind"])
	})
}

func TestMessageScreenshotLocked(t *testing.T) {
	fx := newFixture(t, true)
	fx.messages.block = make(chan struct{})
	fx.messages.entered = make(chan struct{}, 1)
	auth := "Token " + fx.token
	body := `{"serverId":"1","channelId":"2","messageId":"3"}`

	done := make(chan int)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, fx.srv.URL+"/messageScreenshot", strings.NewReader(body))
		req.Header.Set("Authorization", auth)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			done <- -1
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()
	<-fx.messages.entered

	env := readEnvelope(t, fx.post(t, "/messageScreenshot", auth, body))
	assert.Equal(t, http.StatusServiceUnavailable, env.Code)
	assert.Equal(t, `The "/messageScreenshot" route is currently locked. Please try again later.`, env.Data["message"])

	// a query string does not open a second chat capture
	env = readEnvelope(t, fx.post(t, "/messageScreenshot?retry=1", auth, body))
	assert.Equal(t, http.StatusServiceUnavailable, env.Code)

	close(fx.messages.block)
	assert.Equal(t, http.StatusOK, <-done)

	fx.messages.block = nil
	fx.messages.entered = nil
	resp := fx.post(t, "/messageScreenshot", auth, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "lock released after the first request")
}

func TestWrapErrorsPassesSuccess(t *testing.T) {
	h := WrapErrors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("made"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "made", rec.Body.String())
}

func TestWrapErrorsPlainText(t *testing.T) {
	h := WrapErrors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"error":true,"code":418,"data":{"message":"teapot"}}`, rec.Body.String())
}

func TestServeShutsDown(t *testing.T) {
	s := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
