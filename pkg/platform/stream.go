package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/perchlabs/perch/pkg/bus"
	"github.com/perchlabs/perch/pkg/logger"
)

// subscribedChannels is the fixed set of logical channels every connection
// subscribes to immediately after dialing.
var subscribedChannels = []string{
	"timeline:home",
	"timeline:global",
	"notifications",
	"mentions",
	"direct_messages",
}

// ErrReconnectExhausted is the terminal error after the reconnect attempt
// cap is exceeded. It requires external intervention (process restart).
var ErrReconnectExhausted = errors.New("stream: reconnect attempts exhausted")

// streamConn is the subset of *websocket.Conn the stream uses; injectable
// in tests.
type streamConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// DialFunc establishes one duplex connection.
type DialFunc func(ctx context.Context) (streamConn, error)

// Stream owns the persistent duplex connection to the platform. It
// classifies raw frames into typed events and publishes them on the bus.
// Event handling happens on bus subscriber goroutines, never on the read
// loop.
type Stream struct {
	dial           DialFunc
	bus            *bus.EventBus
	reconnectDelay time.Duration
	maxAttempts    int

	done     chan struct{}
	doneOnce sync.Once
	err      error
	mu       sync.Mutex
}

type StreamConfig struct {
	URL            string
	Token          string
	ReconnectDelay time.Duration
	MaxAttempts    int
}

func NewStream(cfg StreamConfig, eventBus *bus.EventBus) (*Stream, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("stream URL not configured")
	}
	dial := func(ctx context.Context) (streamConn, error) {
		header := http.Header{}
		if cfg.Token != "" {
			header.Set("Authorization", "Bearer "+cfg.Token)
		}
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return newStream(dial, cfg, eventBus), nil
}

func newStream(dial DialFunc, cfg StreamConfig, eventBus *bus.EventBus) *Stream {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Stream{
		dial:           dial,
		bus:            eventBus,
		reconnectDelay: delay,
		maxAttempts:    maxAttempts,
		done:           make(chan struct{}),
	}
}

// Run connects and reads until ctx is cancelled or the reconnect cap is
// exceeded. Consecutive failures count attempts; a successful read resets
// the counter. Run blocks; callers run it on its own goroutine.
func (s *Stream) Run(ctx context.Context) {
	attempts := 0

	for {
		if ctx.Err() != nil {
			s.finish(ctx.Err())
			return
		}

		conn, err := s.dial(ctx)
		if err != nil {
			attempts++
			logger.WarnCF("stream", "Connect failed", map[string]any{
				"attempt": attempts,
				"max":     s.maxAttempts,
				"error":   err.Error(),
			})
			if !s.backoff(ctx, attempts) {
				return
			}
			continue
		}

		if err := s.subscribe(conn); err != nil {
			_ = conn.Close()
			attempts++
			logger.WarnCF("stream", "Subscribe failed", map[string]any{
				"attempt": attempts,
				"error":   err.Error(),
			})
			if !s.backoff(ctx, attempts) {
				return
			}
			continue
		}

		logger.InfoCF("stream", "Connected", map[string]any{
			"channels": subscribedChannels,
		})

		attempts = s.readLoop(ctx, conn, attempts)
		_ = conn.Close()

		if ctx.Err() != nil {
			s.finish(ctx.Err())
			return
		}

		attempts++
		logger.WarnCF("stream", "Connection lost, scheduling reconnect", map[string]any{
			"attempt": attempts,
			"max":     s.maxAttempts,
		})
		if !s.backoff(ctx, attempts) {
			return
		}
	}
}

// subscribe sends one subscription frame per logical channel.
func (s *Stream) subscribe(conn streamConn) error {
	for _, channel := range subscribedChannels {
		msg := map[string]string{"action": "subscribe", "channel": channel}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}
	return nil
}

// readLoop reads frames until failure and returns the current attempt
// count (reset to zero once any frame arrives).
func (s *Stream) readLoop(ctx context.Context, conn streamConn, attempts int) int {
	for {
		if ctx.Err() != nil {
			return attempts
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return attempts
		}
		attempts = 0

		ev, err := ClassifyFrame(data)
		if err != nil {
			logger.WarnCF("stream", "Undecodable frame skipped", map[string]any{
				"error": err.Error(),
			})
			continue
		}
		if ev.ID == "" {
			logger.DebugC("stream", "Frame without event id skipped")
			continue
		}

		logger.DebugCF("stream", "Event received", map[string]any{
			"event_id": ev.ID,
			"kind":     string(ev.Kind),
		})
		s.bus.Publish(ctx, ev)
	}
}

// backoff sleeps the configured delay; it returns false once the attempt
// cap is exceeded, which puts the stream into its terminal state.
func (s *Stream) backoff(ctx context.Context, attempts int) bool {
	if attempts >= s.maxAttempts {
		logger.ErrorCF("stream", "Reconnect attempts exhausted, giving up", map[string]any{
			"attempts": attempts,
		})
		s.finish(ErrReconnectExhausted)
		return false
	}

	select {
	case <-ctx.Done():
		s.finish(ctx.Err())
		return false
	case <-time.After(s.reconnectDelay):
		return true
	}
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

// Done is closed when the stream has terminally stopped.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err reports why the stream stopped; nil while it is still running.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
