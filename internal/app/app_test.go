package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/verbe/internal/app"
	"github.com/MrWong99/verbe/internal/config"
	audiomock "github.com/MrWong99/verbe/pkg/audio/mock"
	"github.com/MrWong99/verbe/pkg/provider/llm"
	llmmock "github.com/MrWong99/verbe/pkg/provider/llm/mock"
	"github.com/MrWong99/verbe/pkg/provider/s2s"
	s2smock "github.com/MrWong99/verbe/pkg/provider/s2s/mock"
)

// testConfig returns a config with defaults applied and keys set.
func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Providers.LLM.APIKey = "llm-key"
	cfg.Providers.S2S.APIKey = "s2s-key"
	return cfg
}

func testProviders() *app.Providers {
	return &app.Providers{
		LLM: &llmmock.Provider{},
		S2S: &s2smock.Provider{Block: make(chan struct{})},
	}
}

func newApp(t *testing.T, cfg *config.Config, backend *audiomock.Backend, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithTempDir(t.TempDir())}, opts...)
	a, err := app.New(cfg, testProviders(), backend, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return a
}

// serve runs a on a loopback listener and returns its address. The server is
// stopped and shut down when the test ends.
func serve(t *testing.T, a *app.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Serve() error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve() did not return within 5s")
		}
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := a.Shutdown(sctx); err != nil {
			t.Errorf("Shutdown() error: %v", err)
		}
	})
	return ln.Addr().String()
}

type frame struct {
	Type     string `json:"type"`
	Error    string `json:"error"`
	Snapshot struct {
		Mode                    string `json:"mode"`
		Processing              string `json:"processing"`
		Error                   string `json:"error"`
		NeedsPermissionSettings bool   `json:"needs_permission_settings"`
		OverlayVisible          bool   `json:"overlay_visible"`
	} `json:"snapshot"`
}

func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("write %s: %v", msg, err)
	}
}

// readUntil reads frames until match returns true or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if match(f) {
			return f
		}
	}
}

// eventually polls cond until it holds or five seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLive_ConsecutiveSessionsPlayAudio(t *testing.T) {
	t.Parallel()
	backend := &audiomock.Backend{Authorized: true}
	live := &s2smock.Provider{}
	a, err := app.New(testConfig(), &app.Providers{LLM: &llmmock.Provider{}, S2S: live}, backend,
		app.WithTempDir(t.TempDir()))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	serve(t, a)
	ctx := t.Context()
	ctrl := a.Controller()

	var prev *audiomock.OutputStream
	for round := 1; round <= 2; round++ {
		if err := a.Do(ctx, ctrl.StartLive); err != nil {
			t.Fatalf("round %d: StartLive: %v", round, err)
		}
		eventually(t, "provider connect", func() bool { return len(live.Sessions()) == round })
		sess := live.Sessions()[round-1]
		out := backend.LastOutput()
		if out == nil || out == prev {
			t.Fatalf("round %d: no fresh output stream opened", round)
		}

		sess.Emit(s2s.Event{Kind: s2s.EventSetupComplete})
		sess.Emit(s2s.Event{Kind: s2s.EventAudio, Audio: []byte{0x00, 0x10, 0x00, 0x20}})
		eventually(t, "model audio on the output stream", func() bool { return out.Pending() > 0 })

		if err := a.Do(ctx, ctrl.StopLive); err != nil {
			t.Fatalf("round %d: StopLive: %v", round, err)
		}
		eventually(t, "output stream closed", out.Closed)
		prev = out
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := app.New(nil, nil, &audiomock.Backend{}); err == nil {
		t.Error("New(nil config) = nil error")
	}
	if _, err := app.New(testConfig(), nil, nil); err == nil {
		t.Error("New(nil backend) = nil error")
	}
	if _, err := app.New(testConfig(), nil, &audiomock.Backend{}); err != nil {
		t.Errorf("New(nil providers) error: %v", err)
	}
}

func TestBridge_SnapshotOnConnect(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), &audiomock.Backend{Authorized: true})
	conn := dial(t, serve(t, a))

	f := readUntil(t, conn, func(frame) bool { return true })
	if f.Type != app.MsgSnapshot {
		t.Fatalf("first frame type = %q, want %q", f.Type, app.MsgSnapshot)
	}
	if f.Snapshot.Mode != "none" {
		t.Errorf("mode = %q, want none", f.Snapshot.Mode)
	}
}

func TestBridge_StartAndCancelCommand(t *testing.T) {
	t.Parallel()
	backend := &audiomock.Backend{Authorized: true}
	a := newApp(t, testConfig(), backend)
	conn := dial(t, serve(t, a))

	send(t, conn, `{"type":"start","mode":"command"}`)
	f := readUntil(t, conn, func(f frame) bool { return f.Snapshot.Mode == "command" })
	if !f.Snapshot.OverlayVisible {
		t.Error("overlay not visible after command start")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if in := backend.LastInput(); in != nil && in.Running() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("input stream not running after command start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	send(t, conn, `{"type":"cancel"}`)
	readUntil(t, conn, func(f frame) bool { return f.Type == app.MsgSnapshot && f.Snapshot.Mode == "none" })
}

func TestBridge_PermissionDenied(t *testing.T) {
	t.Parallel()
	backend := &audiomock.Backend{Authorized: false}
	a := newApp(t, testConfig(), backend)
	conn := dial(t, serve(t, a))

	send(t, conn, `{"type":"start","mode":"live"}`)
	f := readUntil(t, conn, func(f frame) bool { return f.Snapshot.NeedsPermissionSettings })
	if f.Snapshot.Mode != "live" {
		t.Errorf("mode = %q, want live", f.Snapshot.Mode)
	}
	if f.Snapshot.Error == "" {
		t.Error("no error surfaced")
	}
	if backend.LastInput() != nil {
		t.Error("input device opened despite denied permission")
	}
}

func TestBridge_OverlayAndHide(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), &audiomock.Backend{Authorized: true})
	conn := dial(t, serve(t, a))

	send(t, conn, `{"type":"overlay","visible":true}`)
	readUntil(t, conn, func(f frame) bool { return f.Snapshot.OverlayVisible })

	send(t, conn, `{"type":"hide"}`)
	readUntil(t, conn, func(f frame) bool { return f.Type == app.MsgSnapshot && !f.Snapshot.OverlayVisible })
}

func TestBridge_ErrorReplies(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), &audiomock.Backend{Authorized: true})
	conn := dial(t, serve(t, a))

	tests := []struct {
		msg     string
		wantErr string
	}{
		{msg: `not json`, wantErr: "malformed message"},
		{msg: `{"type":"dance"}`, wantErr: `unknown message type "dance"`},
		{msg: `{"type":"start","mode":"karaoke"}`, wantErr: `start: unknown mode "karaoke"`},
		{msg: `{"type":"stop"}`, wantErr: `stop: unknown mode ""`},
		{msg: `{"type":"image"}`, wantErr: "image: prompt is required"},
	}
	for _, tt := range tests {
		send(t, conn, tt.msg)
		f := readUntil(t, conn, func(f frame) bool { return f.Type == app.MsgError })
		if !strings.Contains(f.Error, tt.wantErr) {
			t.Errorf("%s: error = %q, want substring %q", tt.msg, f.Error, tt.wantErr)
		}
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Providers.S2S.APIKey = ""
	a := newApp(t, cfg, &audiomock.Backend{Authorized: true},
		app.WithDeviceProbe(func() error { return nil }))
	addr := serve(t, a)

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{path: "/healthz", wantCode: http.StatusOK, wantBody: `"status":"ok"`},
		{path: "/readyz", wantCode: http.StatusServiceUnavailable, wantBody: `"s2s":"fail: API key is not configured"`},
		{path: "/metrics", wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		resp, err := http.Get("http://" + addr + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tt.wantCode {
			t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.wantCode)
		}
		if tt.wantBody != "" && !strings.Contains(string(body), tt.wantBody) {
			t.Errorf("GET %s body = %s, want substring %s", tt.path, body, tt.wantBody)
		}
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	var built atomic.Int32
	reg := config.NewRegistry()
	reg.RegisterLLM("gemini", func(config.ProviderEntry) (llm.Provider, error) {
		built.Add(1)
		return &llmmock.Provider{}, nil
	})

	lv := new(slog.LevelVar)
	old := testConfig()
	a := newApp(t, old, &audiomock.Backend{Authorized: true}, app.WithLevelVar(lv), app.WithRegistry(reg))

	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	next.Providers.LLM.Model = "gemini-other"
	d := config.Diff(old, next)

	a.ApplyConfig(old, next, d)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
	if built.Load() != 1 {
		t.Errorf("llm factory calls = %d, want 1", built.Load())
	}
}

func TestServe_ListenerClosed(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), &audiomock.Backend{Authorized: true})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ln.Close()

	err = a.Serve(context.Background(), ln)
	if err == nil || errors.Is(err, context.Canceled) {
		t.Fatalf("Serve() on closed listener = %v, want serve error", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error: %v", err)
	}
}
