package livesync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loyaltyconsole/livesync/internal/cache"
	"github.com/loyaltyconsole/livesync/internal/config"
	"github.com/loyaltyconsole/livesync/internal/connection"
	"github.com/loyaltyconsole/livesync/internal/event"
	"github.com/loyaltyconsole/livesync/internal/flagstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// consoleServer fakes the console backend: REST resources plus the push
// endpoint at /ws.
type consoleServer struct {
	*httptest.Server

	push chan string

	wsConns   atomic.Int32
	fetches   sync.Map // path -> *atomic.Int32
	rejectAll atomic.Bool
}

func newConsoleServer(t *testing.T) *consoleServer {
	t.Helper()

	cs := &consoleServer{push: make(chan string, 16)}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		cs.wsConns.Add(1)

		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for msg := range cs.push {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if cs.rejectAll.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n, _ := cs.fetches.LoadOrStore(r.URL.Path, new(atomic.Int32))
		count := n.(*atomic.Int32).Add(1)
		fmt.Fprintf(w, `{"path": %q, "version": %d}`, r.URL.Path, count)
	})

	cs.Server = httptest.NewServer(mux)
	t.Cleanup(func() {
		close(cs.push)
		cs.Server.Close()
	})
	return cs
}

func (cs *consoleServer) fetchCount(path string) int32 {
	n, ok := cs.fetches.Load(path)
	if !ok {
		return 0
	}
	return n.(*atomic.Int32).Load()
}

type testOpts struct {
	liveEnabled bool
	wsURL       string
	maxAttempts int
	pollEvery   time.Duration
}

func defaultTestOpts() testOpts {
	return testOpts{liveEnabled: true, maxAttempts: 5, pollEvery: time.Hour}
}

func loadTestConfig(t *testing.T, restURL string, o testOpts) *config.Config {
	t.Helper()

	dir := t.TempDir()
	yaml := fmt.Sprintf(`
instance:
  id: console-test
api:
  rest_url: %s
  ws_url: %q
  token: session-1
  max_retries: 1
live:
  enabled: %t
  max_attempts: %d
  reconnect_base_delay: 10ms
  reconnect_max_delay: 40ms
flags:
  backend: file
  path: %s
poller:
  interval: %s
metrics:
  port: 9999
`, restURL, o.wsURL, o.liveEnabled, o.maxAttempts, filepath.Join(dir, "flags.yaml"), o.pollEvery)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate: %v", err)
	}
	return cfg
}

func startService(t *testing.T, cfg *config.Config, opts ...Option) *Service {
	t.Helper()

	svc, err := New(context.Background(), cfg, discardLogger(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})
	return svc
}

func eventually(t *testing.T, desc string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", desc)
}

func connectionState(svc *Service) connection.State {
	return svc.Health(context.Background()).Connection.State
}

func TestService_PushInvalidatesCache(t *testing.T) {
	cs := newConsoleServer(t)
	svc := startService(t, loadTestConfig(t, cs.URL, defaultTestOpts()))
	ctx := context.Background()

	eventually(t, "open", func() bool { return connectionState(svc) == connection.StateOpen })

	mem, ok := svc.Cache().(*cache.Memory)
	if !ok {
		t.Fatalf("cache = %T, want *cache.Memory", svc.Cache())
	}

	for _, key := range []string{"transactions", "dashboardStats", "promotions"} {
		if _, err := mem.Get(ctx, key); err != nil {
			t.Fatalf("Get(%s): %v", key, err)
		}
	}

	var seen atomic.Int32
	unsubscribe := svc.On(event.TopicTransaction, func(ev event.Event) error {
		seen.Add(1)
		return nil
	})
	defer unsubscribe()

	cs.push <- `{"topic":"transaction","payload":{"id":"tx-1","amount":1200}}`
	cs.push <- `{"topic":"mystery","payload":{}}`
	cs.push <- `not json`

	eventually(t, "dispatch", func() bool {
		h := svc.Health(context.Background()).Dispatcher
		return h.FramesReceived == 3 && h.EventsDispatched == 1
	})

	if !mem.IsStale("transactions") || !mem.IsStale("dashboardStats") {
		t.Error("transaction event should invalidate transactions and dashboardStats")
	}
	if mem.IsStale("promotions") {
		t.Error("promotions should be untouched")
	}
	if seen.Load() != 1 {
		t.Errorf("subscriber saw %d events, want 1", seen.Load())
	}

	h := svc.Health(context.Background())
	if h.Dispatcher.UnknownTopics != 1 || h.Dispatcher.DecodeErrors != 1 {
		t.Errorf("dispatcher stats = %+v, want 1 unknown topic and 1 decode error", h.Dispatcher)
	}
	if h.Status != "ok" {
		t.Errorf("health status = %q, want ok", h.Status)
	}

	body, err := mem.Get(ctx, "transactions")
	if err != nil {
		t.Fatalf("Get after invalidation: %v", err)
	}
	if !strings.Contains(string(body), `"version": 2`) {
		t.Errorf("refetched body = %s, want version 2", body)
	}
	if got := cs.fetchCount("/promotions"); got != 1 {
		t.Errorf("promotions fetched %d times, want 1", got)
	}
}

func TestService_LiveDisabledByConfig(t *testing.T) {
	cs := newConsoleServer(t)
	o := defaultTestOpts()
	o.liveEnabled = false
	svc := startService(t, loadTestConfig(t, cs.URL, o))

	time.Sleep(50 * time.Millisecond)

	if cs.wsConns.Load() != 0 {
		t.Errorf("websocket connections = %d, want 0", cs.wsConns.Load())
	}
	h := svc.Health(context.Background())
	if h.Status != "off" || h.LiveEnabled {
		t.Errorf("health = %+v, want off", h)
	}

	// Login does not override the toggle.
	if err := svc.Login(context.Background(), ""); err != nil {
		t.Fatalf("Login: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if cs.wsConns.Load() != 0 {
		t.Errorf("websocket connections after login = %d, want 0", cs.wsConns.Load())
	}
}

func TestService_PersistedFlagThenLogin(t *testing.T) {
	cs := newConsoleServer(t)
	cfg := loadTestConfig(t, cs.URL, defaultTestOpts())

	flags := flagstore.NewFileStore(cfg.Flags.Path)
	if err := flags.SetDisabled(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	svc := startService(t, cfg)

	if got := connectionState(svc); got != connection.StatePermanentlyDisabled {
		t.Fatalf("state = %v, want permanently_disabled", got)
	}
	time.Sleep(50 * time.Millisecond)
	if cs.wsConns.Load() != 0 {
		t.Fatalf("connected despite persisted flag")
	}

	if err := svc.Login(context.Background(), "session-2"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	eventually(t, "open after login", func() bool { return connectionState(svc) == connection.StateOpen })

	if disabled, _ := flags.Disabled(context.Background()); disabled {
		t.Error("Login should clear the persisted flag")
	}

	svc.Logout()
	if got := connectionState(svc); got != connection.StatePermanentlyDisabled {
		t.Errorf("state after logout = %v, want permanently_disabled", got)
	}
	if disabled, _ := flags.Disabled(context.Background()); disabled {
		t.Error("Logout should not persist the flag")
	}
}

func TestService_ExhaustedRetriesFallBackToPolling(t *testing.T) {
	cs := newConsoleServer(t)
	o := defaultTestOpts()
	o.wsURL = "ws" + strings.TrimPrefix(cs.URL, "http") + "/no-such-endpoint"
	o.maxAttempts = 3
	o.pollEvery = 20 * time.Millisecond
	cfg := loadTestConfig(t, cs.URL, o)

	svc := startService(t, cfg)

	eventually(t, "disabled", func() bool {
		return connectionState(svc) == connection.StatePermanentlyDisabled
	})

	h := svc.Health(context.Background())
	if h.Connection.Attempt != 3 {
		t.Errorf("attempt = %d, want 3", h.Connection.Attempt)
	}
	if h.Status != "degraded" {
		t.Errorf("status = %q, want degraded", h.Status)
	}

	flags := flagstore.NewFileStore(cfg.Flags.Path)
	eventually(t, "persisted flag", func() bool {
		disabled, _ := flags.Disabled(context.Background())
		return disabled
	})
	if !svc.Health(context.Background()).DisableFlag {
		t.Error("health should report the persisted flag")
	}

	eventually(t, "fallback poll", func() bool { return svc.Health(context.Background()).Poller.Cycles > 0 })
}

func TestService_UnauthorizedStopsLiveUpdates(t *testing.T) {
	cs := newConsoleServer(t)
	svc := startService(t, loadTestConfig(t, cs.URL, defaultTestOpts()))

	eventually(t, "open", func() bool { return connectionState(svc) == connection.StateOpen })

	cs.rejectAll.Store(true)
	if _, err := svc.Cache().Get(context.Background(), "notifications"); err == nil {
		t.Fatal("expected unauthorized error")
	}

	if got := connectionState(svc); got != connection.StatePermanentlyDisabled {
		t.Errorf("state = %v, want permanently_disabled", got)
	}
}

func TestService_CustomRules(t *testing.T) {
	cs := newConsoleServer(t)
	cfg := loadTestConfig(t, cs.URL, defaultTestOpts())
	cfg.Invalidation.Rules = map[string][]string{"notification": {"notifications", "inbox"}}

	svc, err := New(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Stop(context.Background())

	if got := svc.Rules().Prefixes(event.TopicNotification); len(got) != 2 || got[1] != "inbox" {
		t.Errorf("notification prefixes = %v", got)
	}
	if got := svc.Rules().Prefixes(event.TopicTransaction); len(got) != 0 {
		t.Errorf("transaction prefixes = %v, want none with custom rules", got)
	}

	cfg.Invalidation.Rules = map[string][]string{"weather": {"forecast"}}
	if _, err := New(context.Background(), cfg, discardLogger()); err == nil {
		t.Error("expected error for unknown topic in rules")
	}
}

func TestDefaultLifecycle(t *testing.T) {
	cs := newConsoleServer(t)
	cfg := loadTestConfig(t, cs.URL, defaultTestOpts())
	ctx := context.Background()

	if Default() != nil {
		t.Fatal("Default should be nil before Init")
	}

	first, err := Init(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	second, err := Init(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if first != second || Default() != first {
		t.Error("Init should return the existing instance")
	}

	if err := ResetDefault(ctx); err != nil {
		t.Fatalf("ResetDefault: %v", err)
	}
	if Default() != nil {
		t.Error("Default should be nil after ResetDefault")
	}

	third, err := Init(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("Init after reset: %v", err)
	}
	if third == first {
		t.Error("Init after reset should build a fresh instance")
	}
	if err := ResetDefault(ctx); err != nil {
		t.Fatalf("ResetDefault: %v", err)
	}
}

func TestService_ObserveRefreshesOnPush(t *testing.T) {
	cs := newConsoleServer(t)
	svc := startService(t, loadTestConfig(t, cs.URL, defaultTestOpts()))
	ctx := context.Background()

	eventually(t, "open", func() bool { return connectionState(svc) == connection.StateOpen })

	release := svc.Observe("notifications")
	defer release()
	if _, err := svc.Cache().Get(ctx, "notifications"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	cs.push <- `{"topic":"notification","payload":{"id":"n-1"}}`

	eventually(t, "background refetch", func() bool { return cs.fetchCount("/notifications") == 2 })

	mem := svc.Cache().(*cache.Memory)
	eventually(t, "fresh entry", func() bool { return !mem.IsStale("notifications") })

	body, err := svc.Cache().Get(ctx, "notifications")
	if err != nil {
		t.Fatalf("Get after push: %v", err)
	}
	if !strings.Contains(string(body), `"version": 2`) {
		t.Errorf("body = %s, want version 2", body)
	}
	if got := cs.fetchCount("/notifications"); got != 2 {
		t.Errorf("notifications fetched %d times, want 2", got)
	}
}
