package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proctord/internal/metrics"
	"proctord/internal/proctor"
	"proctord/internal/report"
	"proctord/internal/store"
)

func quietConfig() *proctor.Config {
	return proctor.DefaultConfig().
		WithAutoFullscreen(false).
		WithLiveness(0, 0)
}

type testEnv struct {
	srv   *Server
	http  *httptest.Server
	store *store.Store
	fwd   *report.Forwarder
}

func newTestEnv(t *testing.T, cfg Config, withStore bool) *testEnv {
	t.Helper()

	env := &testEnv{}
	opts := Options{
		MonitorConfig: quietConfig,
		Metrics:       metrics.New(nil),
	}
	if withStore {
		st, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })

		fcfg := report.DefaultForwarderConfig()
		fcfg.FlushInterval = 20 * time.Millisecond
		fwd := report.NewForwarder(st, fcfg)
		ctx, cancel := context.WithCancel(context.Background())
		fwd.Start(ctx)
		t.Cleanup(func() {
			fwd.Close()
			cancel()
		})

		env.store, env.fwd = st, fwd
		opts.Forwarder = fwd
		opts.History = st
	}

	srv, err := New(cfg, opts)
	require.NoError(t, err)
	env.srv = srv
	env.http = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		env.http.Close()
	})
	return env
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws/session"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// readUntil reads frames until match accepts one.
func readUntil(t *testing.T, ws *websocket.Conn, match func(ServerFrame) bool) ServerFrame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f ServerFrame
		require.NoError(t, ws.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func activeStatus(f ServerFrame) bool {
	return f.Type == FrameStatus && f.Status != nil && f.Status.Active
}

func activate(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	send(t, ws, `{"action":"activate"}`)
	f := readUntil(t, ws, activeStatus)
	require.NotEmpty(t, f.Status.SessionID)
	return f.Status.SessionID
}

func TestSessionNotice(t *testing.T) {
	env := newTestEnv(t, Config{}, false)
	ws := env.dial(t)

	send(t, ws, `{"action":"hello","capabilities":{"fullscreen":true}}`)
	hello := readUntil(t, ws, func(f ServerFrame) bool { return f.Type == FrameStatus })
	assert.False(t, hello.Status.Active)

	sessionID := activate(t, ws)

	send(t, ws, `{"event":"context_menu"}`)
	outcome := readUntil(t, ws, func(f ServerFrame) bool { return f.Type == FrameOutcome })
	assert.Equal(t, "context_menu", outcome.Event)
	assert.True(t, outcome.Prevented)

	notice := readUntil(t, ws, func(f ServerFrame) bool { return f.Type == FrameNotice })
	require.NotNil(t, notice.Notice)
	assert.Equal(t, sessionID, notice.Notice.SessionID)
	assert.Equal(t, proctor.ViolationRightClick, notice.Notice.Violation.Type)
	assert.Equal(t, proctor.TreatmentToast, notice.Notice.Treatment)

	send(t, ws, `{"action":"status"}`)
	st := readUntil(t, ws, func(f ServerFrame) bool { return f.Type == FrameStatus })
	assert.Equal(t, 1, st.Status.Counters[string(proctor.ViolationRightClick)])
}

func TestEventsIgnoredWhileInactive(t *testing.T) {
	env := newTestEnv(t, Config{}, false)
	ws := env.dial(t)

	send(t, ws, `{"event":"context_menu"}`)
	send(t, ws, `{"action":"status"}`)
	st := readUntil(t, ws, func(f ServerFrame) bool { return f.Type == FrameStatus })
	assert.False(t, st.Status.Active)
	assert.Zero(t, st.Status.Counters[string(proctor.ViolationRightClick)])
}

func TestMalformedFrames(t *testing.T) {
	env := newTestEnv(t, Config{}, false)
	ws := env.dial(t)

	tests := []struct {
		frame string
		want  string
	}{
		{`not json`, "malformed frame"},
		{`{}`, "exactly one of action and event"},
		{`{"action":"activate","event":"blur"}`, "exactly one of action and event"},
		{`{"action":"dance"}`, "unknown action"},
		{`{"event":"telepathy"}`, "telepathy"},
		{`{"action":"metrics"}`, "requires window"},
	}
	for _, tt := range tests {
		send(t, ws, tt.frame)
		f := readUntil(t, ws, func(f ServerFrame) bool { return f.Type == FrameError })
		assert.Contains(t, f.Error, tt.want, "frame %s", tt.frame)
	}
}

func TestFullscreenRoundTrip(t *testing.T) {
	env := newTestEnv(t, Config{}, false)
	ws := env.dial(t)
	activate(t, ws)

	send(t, ws, `{"action":"enter_fullscreen"}`)
	cmd := readUntil(t, ws, func(f ServerFrame) bool { return f.Type == FrameCommand })
	assert.Equal(t, CommandRequestFullscreen, cmd.Command)

	send(t, ws, `{"action":"fullscreen_result"}`)
	send(t, ws, `{"event":"fullscreen_change","fullscreen":true}`)
	send(t, ws, `{"action":"status"}`)
	st := readUntil(t, ws, func(f ServerFrame) bool {
		return f.Type == FrameStatus && f.Status.Fullscreen
	})
	assert.False(t, st.Status.FullscreenRequired)

	// Leaving presentation mode while active is critical.
	send(t, ws, `{"event":"fullscreen_change","fullscreen":false}`)
	notice := readUntil(t, ws, func(f ServerFrame) bool { return f.Type == FrameNotice })
	assert.Equal(t, proctor.ViolationFullscreen, notice.Notice.Violation.Type)
	assert.Equal(t, proctor.TreatmentAcknowledge, notice.Notice.Treatment)

	send(t, ws, `{"action":"acknowledge"}`)
	readUntil(t, ws, func(f ServerFrame) bool {
		return f.Type == FrameStatus && !f.Status.AwaitingAcknowledgment &&
			f.Status.Counters[string(proctor.ViolationFullscreen)] == 1
	})
}

func TestFullscreenFailures(t *testing.T) {
	tests := []struct {
		name       string
		result     string
		wantNotice bool
	}{
		{"denied", "NotAllowedError", false},
		{"unsupported", "unsupported", false},
		{"unknown failure", "display exploded", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Config{}, false)
			ws := env.dial(t)
			activate(t, ws)

			send(t, ws, `{"action":"enter_fullscreen"}`)
			readUntil(t, ws, func(f ServerFrame) bool { return f.Type == FrameCommand })
			send(t, ws, `{"action":"fullscreen_result","error":"`+tt.result+`"}`)

			errFrame := readUntil(t, ws, func(f ServerFrame) bool { return f.Type == FrameError })
			assert.NotEmpty(t, errFrame.Error)

			send(t, ws, `{"action":"status"}`)
			st := readUntil(t, ws, func(f ServerFrame) bool { return f.Type == FrameStatus })
			got := st.Status.Counters[string(proctor.ViolationFullscreen)]
			if tt.wantNotice {
				assert.Equal(t, 1, got)
			} else {
				assert.Zero(t, got)
			}
		})
	}
}

func TestFullscreenTimeout(t *testing.T) {
	env := newTestEnv(t, Config{FullscreenTimeout: 50 * time.Millisecond}, false)
	ws := env.dial(t)
	activate(t, ws)

	send(t, ws, `{"action":"enter_fullscreen"}`)
	readUntil(t, ws, func(f ServerFrame) bool { return f.Type == FrameCommand })
	f := readUntil(t, ws, func(f ServerFrame) bool { return f.Type == FrameError })
	assert.Contains(t, f.Error, "timed out")
}

func TestSignalRateLimit(t *testing.T) {
	env := newTestEnv(t, Config{SignalsPerSecond: 0.001, SignalBurst: 1}, false)
	ws := env.dial(t)
	activate(t, ws)

	send(t, ws, `{"event":"mouse_move"}`)
	send(t, ws, `{"event":"mouse_move"}`)
	f := readUntil(t, ws, func(f ServerFrame) bool { return f.Type == FrameError })
	assert.Equal(t, "rate limited: mouse_move", f.Error)
}

func TestDeactivateStoresSealedLog(t *testing.T) {
	env := newTestEnv(t, Config{}, true)
	ws := env.dial(t)
	sessionID := activate(t, ws)

	send(t, ws, `{"event":"context_menu"}`)
	readUntil(t, ws, func(f ServerFrame) bool { return f.Type == FrameNotice })
	send(t, ws, `{"action":"deactivate"}`)
	readUntil(t, ws, func(f ServerFrame) bool {
		return f.Type == FrameStatus && !f.Status.Active
	})

	require.Eventually(t, func() bool {
		_, err := env.store.Log(context.Background(), sessionID)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	l, err := env.store.Log(context.Background(), sessionID)
	require.NoError(t, err)
	require.NoError(t, l.Verify())
	require.Len(t, l.Violations, 1)
	assert.Equal(t, proctor.ViolationRightClick, l.Violations[0].Type)

	t.Run("api", func(t *testing.T) {
		resp, err := http.Get(env.http.URL + "/api/sessions")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var list []SessionSummary
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
		require.Len(t, list, 1)
		assert.Equal(t, sessionID, list[0].ID)
		assert.True(t, list[0].Closed)

		resp, err = http.Get(env.http.URL + "/api/sessions/" + sessionID)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var detail SessionDetail
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&detail))
		assert.Len(t, detail.ViolationList, 1)

		resp, err = http.Get(env.http.URL + "/api/sessions/" + sessionID + "/log")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, err = http.Get(env.http.URL + "/api/sessions/missing")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestDisconnectEndsSession(t *testing.T) {
	env := newTestEnv(t, Config{}, true)
	ws := env.dial(t)
	sessionID := activate(t, ws)
	ws.Close()

	require.Eventually(t, func() bool {
		_, err := env.store.Log(context.Background(), sessionID)
		return err == nil && env.srv.Sessions() == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestMaxSessions(t *testing.T) {
	env := newTestEnv(t, Config{MaxSessions: 1}, false)
	env.dial(t)
	require.Eventually(t, func() bool { return env.srv.Sessions() == 1 }, time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws/session"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", nil, "", true},
		{"same host", nil, "http://example.test", true},
		{"cross host", nil, "http://evil.test", false},
		{"listed", []string{"https://app.test"}, "https://app.test", true},
		{"unlisted", []string{"https://app.test"}, "https://other.test", false},
		{"wildcard", []string{"*"}, "https://other.test", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := New(Config{AllowedOrigins: tt.allowed}, Options{MonitorConfig: quietConfig})
			require.NoError(t, err)
			r := httptest.NewRequest(http.MethodGet, "http://example.test/ws/session", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, srv.checkOrigin(r))
		})
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, Config{}, false)

	for _, path := range []string{"/healthz", "/livez", "/metrics"} {
		resp, err := http.Get(env.http.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	// Not ready until Serve is running.
	resp, err := http.Get(env.http.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestFullscreenError(t *testing.T) {
	assert.NoError(t, fullscreenError(""))
	assert.ErrorIs(t, fullscreenError("NotAllowedError"), proctor.ErrFullscreenDenied)
	assert.ErrorIs(t, fullscreenError(" unsupported "), proctor.ErrFullscreenUnsupported)
	assert.ErrorIs(t, fullscreenError("gesture_required"), proctor.ErrGestureRequired)
	assert.EqualError(t, fullscreenError("boom"), "boom")
}

func TestNewRequiresMonitorConfig(t *testing.T) {
	_, err := New(Config{}, Options{})
	assert.Error(t, err)
}

func TestCORSForAllowedOrigins(t *testing.T) {
	env := newTestEnv(t, Config{AllowedOrigins: []string{"https://dashboard.test"}}, false)

	req, err := http.NewRequest(http.MethodGet, env.http.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dashboard.test")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://dashboard.test", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://elsewhere.test")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
