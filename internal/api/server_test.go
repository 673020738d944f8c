package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"grid-preload/internal/bootstrap"
	"grid-preload/internal/events"
	"grid-preload/internal/grid"
	"grid-preload/internal/handle"
	"grid-preload/internal/metrics"
)

func newEngine(t *testing.T, opts ...bootstrap.Option) *bootstrap.Engine {
	t.Helper()

	cfg := bootstrap.DefaultConfig()
	cfg.NodeID = "1"
	cfg.Workers = 4
	cfg.RecordsPerWorker = 100
	cfg.SettleDelay = time.Millisecond
	cfg.VerifyPoll = 10 * time.Millisecond
	cfg.VerifyTimeout = 5 * time.Second

	start := func(ctx context.Context) (handle.Handle, error) {
		gcfg := grid.DefaultConfig()
		gcfg.Partitions = 32
		gcfg.WriteSync = grid.FullSync
		gcfg.Region = grid.Region{Name: "test", InitialSize: 1 << 22, MaxSize: 1 << 22}

		g, err := grid.New(gcfg)
		if err != nil {
			return nil, err
		}
		g.Start(ctx)
		t.Cleanup(g.Stop)
		for i := range 2 {
			if _, err := g.StartNode(ctx, fmt.Sprintf("%d", i+1), grid.RoleServer); err != nil {
				return nil, err
			}
		}
		return g, nil
	}
	return bootstrap.New(cfg, start, opts...)
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestStatusBeforeRun(t *testing.T) {
	s := NewServer("127.0.0.1:0", newEngine(t))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var status StatusResponse
	getJSON(t, ts.URL+"/api/status", &status)

	assert.Equal(t, "1", status.NodeID)
	assert.True(t, status.Coordinator)
	assert.Equal(t, string(metrics.PhaseStarting), status.Phase)
	assert.Zero(t, status.Servers)

	resp, err := http.Get(ts.URL + "/api/report")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/members")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestStatusAfterRun(t *testing.T) {
	m := metrics.New()
	engine := newEngine(t, bootstrap.WithMetrics(m))
	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	s := NewServer("127.0.0.1:0", engine)
	s.SetGatherer(m.Gatherer())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var status StatusResponse
	getJSON(t, ts.URL+"/api/status", &status)
	assert.Equal(t, string(metrics.PhaseReady), status.Phase)
	assert.Equal(t, 2, status.Servers)
	assert.Equal(t, 400, status.CacheSize)
	assert.Equal(t, int64(400), status.Written)
	assert.True(t, status.Converged)
	assert.Equal(t, bootstrap.SuccessVerdict, status.LastVerdict)

	var members []MemberInfo
	getJSON(t, ts.URL+"/api/members", &members)
	require.Len(t, members, 2)
	assert.Equal(t, "1", members[0].ID)
	assert.Equal(t, "server", members[0].Role)
	assert.Equal(t, 800, members[0].Size+members[1].Size, "each entry has one backup")

	resp, err := http.Get(ts.URL + "/api/report")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "PRELOAD REPORT")

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "preload_load_records_total 400")
}

func TestMethodNotAllowed(t *testing.T) {
	s := NewServer("127.0.0.1:0", newEngine(t))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	for _, path := range []string{"/api/status", "/api/members", "/api/report", "/api/presets"} {
		resp, err := http.Post(ts.URL+path, "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, path)
	}
}

func TestPresets(t *testing.T) {
	s := NewServer("127.0.0.1:0", newEngine(t))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var presets []string
	getJSON(t, ts.URL+"/api/presets", &presets)
	assert.Contains(t, presets, "default")
	assert.Contains(t, presets, "quick")
}

func TestWebSocketForwardsEvents(t *testing.T) {
	bus := events.NewBus()
	s := NewServer("127.0.0.1:0", newEngine(t))
	s.SetEventBus(bus)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	ws, err := websocket.Dial("ws://"+ln.Addr().String()+"/ws", "", "http://localhost/")
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return s.clientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	bus.Publish(events.NewPhaseEvent("1", "loading"))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg string
		require.NoError(t, websocket.Message.Receive(ws, &msg))

		var frame struct {
			Type  string       `json:"type"`
			Event events.Event `json:"event"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg), &frame))
		if frame.Type != "event" {
			continue
		}
		assert.Equal(t, events.EventPhase, frame.Event.Type)
		assert.Equal(t, "loading", frame.Event.Data.Phase)
		return
	}
}

func TestWebSocketSendsCurrentPhaseOnConnect(t *testing.T) {
	bus := events.NewBus()
	bus.Publish(events.NewPhaseEvent("1", "verifying"))

	s := NewServer("127.0.0.1:0", newEngine(t))
	s.SetEventBus(bus)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ws, err := websocket.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", "", "http://localhost/")
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg string
	require.NoError(t, websocket.Message.Receive(ws, &msg))

	var frame struct {
		Type  string       `json:"type"`
		Event events.Event `json:"event"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg), &frame))
	assert.Equal(t, "event", frame.Type)
	assert.Equal(t, "verifying", frame.Event.Data.Phase)
}
