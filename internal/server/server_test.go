package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexlipsync/internal/audio"
	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/lipsync"
)

type fakeController struct {
	mu       sync.Mutex
	active   bool
	started  []string
	vowels   []string
	weights  []float32
	updates  []lipsync.ConfigUpdate
	channels map[string]float32
	received []float32
	seqRuns  int
	seqDone  chan struct{}
	gate     chan struct{} // when set, Start waits for it to close
}

func newFakeController() *fakeController {
	return &fakeController{
		channels: map[string]float32{"vrc.v_aa": 0},
		seqDone:  make(chan struct{}, 1),
	}
}

func (f *fakeController) Start(ctx context.Context, src audio.Source) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = true
	f.started = append(f.started, src.ID())
	return src.Start(ctx, func(samples []float32) {
		f.mu.Lock()
		f.received = append(f.received, samples...)
		f.mu.Unlock()
	})
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
}

func (f *fakeController) TestVowel(name string, weight float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "xx" {
		return lipsync.ErrUnknownVowel
	}
	f.vowels = append(f.vowels, name)
	f.weights = append(f.weights, weight)
	return nil
}

func (f *fakeController) RunTestSequence(ctx context.Context) error {
	f.mu.Lock()
	f.seqRuns++
	f.mu.Unlock()
	<-ctx.Done()
	f.seqDone <- struct{}{}
	return ctx.Err()
}

func (f *fakeController) UpdateConfig(u lipsync.ConfigUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.Sensitivity != nil && *u.Sensitivity < 0 {
		return lipsync.ErrInvalidConfig
	}
	f.updates = append(f.updates, u)
	return nil
}

func (f *fakeController) Status() lipsync.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return lipsync.Status{IsActive: f.active, CurrentVowel: "aa"}
}

func (f *fakeController) SetChannel(name string, v float32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[name]; !ok {
		return false
	}
	f.channels[name] = v
	return true
}

func (f *fakeController) receivedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

type harness struct {
	ctrl *fakeController
	bus  *bus.EventBus
	srv  *Server
	http *httptest.Server
}

func newHarness(t *testing.T, sources SourceFactory) *harness {
	t.Helper()
	h := &harness{ctrl: newFakeController(), bus: bus.NewEventBus()}
	h.srv = New(Options{
		Controller: h.ctrl,
		Sources:    sources,
		Bus:        h.bus,
		Logger:     zerolog.Nop(),
		SendQueue:  8,
	})
	h.http = httptest.NewServer(h.srv.Handler())
	t.Cleanup(func() {
		h.srv.Close()
		h.http.Close()
	})
	return h
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return h.srv.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestStatusEndpoint(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := http.Get(h.http.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["isActive"])
	assert.Equal(t, "aa", body["currentVowel"])
	assert.Contains(t, body, "currentVolume")
	assert.Contains(t, body, "vowelWeights")
}

func TestStatusEndpointRejectsPost(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := http.Post(h.http.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestTestVowelCommand(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": CmdTestVowel, "vowel": "oh", "weight": 0.5}))
	msg := readMessage(t, conn)
	assert.Equal(t, "status", msg["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": CmdTestVowel, "vowel": "ih"}))
	readMessage(t, conn)

	h.ctrl.mu.Lock()
	assert.Equal(t, []string{"oh", "ih"}, h.ctrl.vowels)
	assert.Equal(t, []float32{0.5, 1}, h.ctrl.weights)
	h.ctrl.mu.Unlock()
}

func TestCommandErrors(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	tests := []struct {
		name    string
		payload any
		command string
		message string
	}{
		{"unknown vowel", map[string]any{"type": CmdTestVowel, "vowel": "xx"}, CmdTestVowel, lipsync.ErrUnknownVowel.Error()},
		{"unknown channel", map[string]any{"type": CmdSetChannel, "channel": "nope", "value": 1}, CmdSetChannel, `unknown channel "nope"`},
		{"unknown command", map[string]any{"type": "dance"}, "dance", `unknown command "dance"`},
		{"invalid config", map[string]any{"type": CmdConfig, "sensitivity": -1}, CmdConfig, lipsync.ErrInvalidConfig.Error()},
		{"no sources", map[string]any{"type": CmdStart}, CmdStart, "no audio sources configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteJSON(tt.payload))
			msg := readMessage(t, conn)
			assert.Equal(t, "error", msg["type"])
			assert.Equal(t, tt.command, msg["command"])
			assert.Contains(t, msg["message"], tt.message)
		})
	}
}

func TestMalformedCommand(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["message"], "invalid command")
}

func TestConfigCommand(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":               CmdConfig,
		"smoothing":          0.5,
		"update_interval_ms": 32,
	}))
	readMessage(t, conn)

	h.ctrl.mu.Lock()
	defer h.ctrl.mu.Unlock()
	require.Len(t, h.ctrl.updates, 1)
	u := h.ctrl.updates[0]
	require.NotNil(t, u.Smoothing)
	assert.Equal(t, 0.5, *u.Smoothing)
	require.NotNil(t, u.UpdateInterval)
	assert.Equal(t, 32*time.Millisecond, *u.UpdateInterval)
	assert.Nil(t, u.Sensitivity)
	assert.Nil(t, u.MinVolume)
}

func TestSetChannelCommand(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": CmdSetChannel, "channel": "vrc.v_aa", "value": 0.75}))
	assert.Equal(t, "status", readMessage(t, conn)["type"])

	h.ctrl.mu.Lock()
	assert.Equal(t, float32(0.75), h.ctrl.channels["vrc.v_aa"])
	h.ctrl.mu.Unlock()
}

func TestStartWithNamedSource(t *testing.T) {
	var (
		reqMu     sync.Mutex
		requested []string
	)
	sources := func(name string) (audio.Source, error) {
		reqMu.Lock()
		requested = append(requested, name)
		reqMu.Unlock()
		if name == "missing" {
			return nil, errors.New("no such source")
		}
		return audio.NewStreamSource("file:"+name, 16000), nil
	}
	h := newHarness(t, sources)
	conn := h.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": CmdStart}))
	msg := readMessage(t, conn)
	assert.Equal(t, "status", msg["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": CmdStart, "source": "missing"}))
	msg = readMessage(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["message"], "no such source")

	reqMu.Lock()
	assert.Equal(t, []string{"", "missing"}, requested)
	reqMu.Unlock()
	h.ctrl.mu.Lock()
	assert.Equal(t, []string{"file:"}, h.ctrl.started)
	h.ctrl.mu.Unlock()
}

func TestStreamIngest(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	pcm := make([]byte, 2*4)
	for i, v := range []int16{16384, -16384, 0, 32767} {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(v))
	}

	// binary frames before a stream start are rejected
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pcm))
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": CmdStart, "source": SourceStream, "sample_rate": 22050}))
	msg = readMessage(t, conn)
	require.Equal(t, "status", msg["type"])

	h.ctrl.mu.Lock()
	assert.Equal(t, []string{"ws-stream@22050"}, h.ctrl.started)
	h.ctrl.mu.Unlock()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pcm))
	require.Eventually(t, func() bool { return h.ctrl.receivedCount() == 4 }, time.Second, 5*time.Millisecond)

	h.ctrl.mu.Lock()
	assert.InDelta(t, 0.5, h.ctrl.received[0], 1e-4)
	assert.InDelta(t, -0.5, h.ctrl.received[1], 1e-4)
	h.ctrl.mu.Unlock()
}

func TestStopWhileStartPending(t *testing.T) {
	h := newHarness(t, nil)
	h.ctrl.gate = make(chan struct{})
	conn := h.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": CmdStart, "source": SourceStream}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": CmdStop}))

	msg := readMessage(t, conn)
	assert.Equal(t, "status", msg["type"], "stop is answered while start waits")

	close(h.ctrl.gate)
	msg = readMessage(t, conn)
	assert.Equal(t, "status", msg["type"])

	h.ctrl.mu.Lock()
	assert.Equal(t, []string{"ws-stream@16000"}, h.ctrl.started)
	h.ctrl.mu.Unlock()
}

func TestFrameBroadcast(t *testing.T) {
	h := newHarness(t, nil)
	first := h.dial(t)

	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer second.Close()
	require.Eventually(t, func() bool { return h.srv.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	h.bus.PublishSync(bus.Event{
		Type: bus.EventTypeLipSyncFrame,
		Data: map[string]any{"volume": float32(0.25), "vowel": "oh"},
	})

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		assert.Equal(t, "frame", msg["type"])
		assert.Equal(t, 0.25, msg["volume"])
		assert.Equal(t, "oh", msg["vowel"])
	}
}

func TestLifecycleEventsBroadcastStatus(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	h.bus.PublishSync(bus.Event{Type: bus.EventTypeLipSyncStopped})

	msg := readMessage(t, conn)
	assert.Equal(t, "status", msg["type"])
	status, ok := msg["status"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, status["isActive"])
}

func TestStopCancelsSequence(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": CmdTestSequence}))
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": CmdStop}))
	readMessage(t, conn)

	select {
	case <-h.ctrl.seqDone:
	case <-time.After(2 * time.Second):
		t.Fatal("test sequence was not cancelled by stop")
	}
}

func TestSlowClientDropsFrames(t *testing.T) {
	c := &client{send: make(chan []byte, 2), done: make(chan struct{})}

	assert.True(t, c.trySend([]byte("a")))
	assert.True(t, c.trySend([]byte("b")))
	assert.False(t, c.trySend([]byte("c")))
	assert.Len(t, c.send, 2)
}

func TestCloseDisconnectsClients(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	h.srv.Close()
	assert.Equal(t, 0, h.srv.ClientCount())
	assert.Equal(t, 0, h.bus.Count(bus.EventTypeLipSyncFrame))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
