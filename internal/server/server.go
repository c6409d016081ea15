// Package server exposes the lip-sync engine over a WebSocket control and
// event stream, plus a JSON status endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexlipsync/internal/audio"
	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/lipsync"
)

const (
	writeWait     = 5 * time.Second
	streamID      = "ws-stream"
	defaultStream = 16000
)

// Controller is the slice of the engine the server drives
type Controller interface {
	Start(ctx context.Context, src audio.Source) error
	Stop()
	TestVowel(name string, weight float32) error
	RunTestSequence(ctx context.Context) error
	UpdateConfig(u lipsync.ConfigUpdate) error
	Status() lipsync.Status
	SetChannel(name string, v float32) bool
}

// SourceFactory resolves a named source for the start command. The empty
// name asks for the default source.
type SourceFactory func(name string) (audio.Source, error)

// Options configures a Server
type Options struct {
	Controller Controller
	Sources    SourceFactory
	Bus        *bus.EventBus
	Logger     zerolog.Logger
	SendQueue  int // per-client buffered messages (default: 64)
}

// Server is the WebSocket hub
type Server struct {
	ctrl      Controller
	sources   SourceFactory
	bus       *bus.EventBus
	logger    zerolog.Logger
	upgrader  websocket.Upgrader
	sendQueue int
	subs      []bus.SubscriptionID

	mu      sync.RWMutex
	clients map[*client]struct{}
	stream  *audio.StreamSource

	seqMu     sync.Mutex
	seqCancel context.CancelFunc
}

// New creates a server and subscribes it to the engine's bus events
func New(opts Options) *Server {
	if opts.SendQueue <= 0 {
		opts.SendQueue = 64
	}
	s := &Server{
		ctrl:      opts.Controller,
		sources:   opts.Sources,
		bus:       opts.Bus,
		logger:    opts.Logger.With().Str("component", "server").Logger(),
		sendQueue: opts.SendQueue,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // local control surface
		},
		clients: make(map[*client]struct{}),
	}

	if s.bus != nil {
		s.subs = append(s.subs,
			s.bus.Subscribe(bus.EventTypeLipSyncFrame, s.onFrame),
			s.bus.Subscribe(bus.EventTypeLipSyncStarted, s.onLifecycle),
			s.bus.Subscribe(bus.EventTypeLipSyncStopped, s.onLifecycle),
		)
	}
	return s
}

// Handler returns the HTTP routes: /ws and /status
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.wsHandler)
	mux.HandleFunc("/status", s.statusHandler)
	return mux
}

// ListenAndServe serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Control server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.Close()
		return err
	}
}

// Close drops every client and bus subscription
func (s *Server) Close() {
	if s.bus != nil {
		for _, id := range s.subs {
			s.bus.Unsubscribe(id)
		}
		s.subs = nil
	}
	s.cancelSequence()

	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.ctrl.Status()); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write status")
	}
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := newClient(conn, s.sendQueue)
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("Client connected")

	go c.writeLoop(s.logger)
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		c.close()
		s.logger.Debug().Str("remote", r.RemoteAddr).Msg("Client disconnected")
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			s.ingest(c, data)
		case websocket.TextMessage:
			var cmd Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				c.sendJSON(ErrorMessage{Type: "error", Message: "invalid command: " + err.Error()})
				continue
			}
			s.handle(c, cmd)
		}
	}
}

func (s *Server) handle(c *client, cmd Command) {
	fail := func(err error) {
		c.sendJSON(ErrorMessage{Type: "error", Command: cmd.Type, Message: err.Error()})
	}

	switch cmd.Type {
	case CmdStart:
		src, err := s.resolveSource(cmd)
		if err != nil {
			fail(err)
			return
		}
		// Start may wait on the audio graph; keep reading so stop gets through
		go func() {
			if err := s.ctrl.Start(context.Background(), src); err != nil {
				fail(err)
				return
			}
			c.sendJSON(StatusMessage{Type: "status", Status: s.ctrl.Status()})
		}()
		return
	case CmdStop:
		s.cancelSequence()
		s.ctrl.Stop()
	case CmdTestVowel:
		weight := float32(1)
		if cmd.Weight != nil {
			weight = *cmd.Weight
		}
		if err := s.ctrl.TestVowel(cmd.Vowel, weight); err != nil {
			fail(err)
			return
		}
	case CmdTestSequence:
		s.runSequence(c)
	case CmdConfig:
		if err := s.ctrl.UpdateConfig(cmd.ConfigUpdate()); err != nil {
			fail(err)
			return
		}
	case CmdSetChannel:
		if !s.ctrl.SetChannel(cmd.Channel, cmd.Value) {
			fail(fmt.Errorf("unknown channel %q", cmd.Channel))
			return
		}
	case CmdStatus:
	default:
		fail(fmt.Errorf("unknown command %q", cmd.Type))
		return
	}

	c.sendJSON(StatusMessage{Type: "status", Status: s.ctrl.Status()})
}

func (s *Server) resolveSource(cmd Command) (audio.Source, error) {
	if cmd.Source == SourceStream {
		rate := cmd.SampleRate
		if rate <= 0 {
			rate = defaultStream
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		// the audio graph keeps the first source seen per ID
		if s.stream == nil || s.stream.SampleRate() != rate {
			s.stream = audio.NewStreamSource(fmt.Sprintf("%s@%d", streamID, rate), rate)
		}
		return s.stream, nil
	}
	if s.sources == nil {
		return nil, errors.New("no audio sources configured")
	}
	return s.sources(cmd.Source)
}

// ingest pushes 16-bit little-endian mono PCM into the socket stream source.
func (s *Server) ingest(c *client, data []byte) {
	s.mu.RLock()
	stream := s.stream
	s.mu.RUnlock()

	if stream == nil {
		c.sendJSON(ErrorMessage{Type: "error", Message: "no stream source started"})
		return
	}
	samples, err := audio.DecodePCM(data, 16)
	if err != nil {
		c.sendJSON(ErrorMessage{Type: "error", Message: err.Error()})
		return
	}
	stream.Push(samples)
}

func (s *Server) runSequence(c *client) {
	ctx, cancel := context.WithCancel(context.Background())
	s.seqMu.Lock()
	if s.seqCancel != nil {
		s.seqCancel()
	}
	s.seqCancel = cancel
	s.seqMu.Unlock()

	go func() {
		defer cancel()
		err := s.ctrl.RunTestSequence(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.sendJSON(ErrorMessage{Type: "error", Command: CmdTestSequence, Message: err.Error()})
		}
	}()
}

func (s *Server) cancelSequence() {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	if s.seqCancel != nil {
		s.seqCancel()
		s.seqCancel = nil
	}
}

func (s *Server) onFrame(e bus.Event) {
	msg := FrameMessage{Type: "frame"}
	msg.Volume, _ = e.Data["volume"].(float32)
	msg.Vowel, _ = e.Data["vowel"].(string)
	s.broadcast(msg)
}

func (s *Server) onLifecycle(bus.Event) {
	s.broadcast(StatusMessage{Type: "status", Status: s.ctrl.Status()})
}

func (s *Server) broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode broadcast")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		c.trySend(data)
	}
}
