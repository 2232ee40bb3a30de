package platform

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchlabs/perch/pkg/bus"
)

// fakeConn serves a scripted sequence of frames, then fails.
type fakeConn struct {
	frames [][]byte
	idx    int
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	if c.idx >= len(c.frames) {
		return 0, nil, errors.New("connection reset")
	}
	data := c.frames[c.idx]
	c.idx++
	return 1, data, nil
}

func (c *fakeConn) WriteJSON(v any) error { return nil }
func (c *fakeConn) Close() error          { return nil }

func testStreamConfig() StreamConfig {
	return StreamConfig{
		URL:            "ws://test",
		ReconnectDelay: time.Millisecond,
		MaxAttempts:    3,
	}
}

func TestStreamReconnectCapIsTerminal(t *testing.T) {
	var dials atomic.Int32
	dial := func(ctx context.Context) (streamConn, error) {
		dials.Add(1)
		return nil, errors.New("refused")
	}

	s := newStream(dial, testStreamConfig(), bus.NewEventBus())
	go s.Run(context.Background())

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not reach terminal state")
	}
	assert.ErrorIs(t, s.Err(), ErrReconnectExhausted)
	assert.Equal(t, int32(3), dials.Load())
}

func TestStreamPublishesClassifiedEvents(t *testing.T) {
	frames := [][]byte{
		[]byte(`{"type":"mention","payload":{"id":"e1","author":{"id":"u1"},"text":"hi"}}`),
		[]byte(`{"type":"dm","payload":{"id":"e2"}}`),
		[]byte(`{"type":"mention","payload":{"text":"no id, skipped"}}`),
	}

	dialed := false
	dial := func(ctx context.Context) (streamConn, error) {
		if dialed {
			return nil, errors.New("refused")
		}
		dialed = true
		return &fakeConn{frames: frames}, nil
	}

	eventBus := bus.NewEventBus()
	received := make(chan bus.InboundEvent, 4)
	require.NoError(t, eventBus.SubscribeAll(func(_ context.Context, ev bus.InboundEvent) {
		received <- ev
	}))

	s := newStream(dial, testStreamConfig(), eventBus)
	go s.Run(context.Background())

	var got []bus.InboundEvent
	for len(got) < 2 {
		select {
		case ev := <-received:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, bus.KindMention, got[0].Kind)
	assert.Equal(t, "e2", got[1].ID)
	assert.Equal(t, bus.KindDirectMessage, got[1].Kind)

	// The id-less frame was skipped, never published.
	select {
	case ev := <-received:
		t.Fatalf("unexpected extra event %q", ev.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStreamAttemptCounterResetsAfterRead(t *testing.T) {
	// Each dial yields one good frame. With the counter resetting on every
	// successful read, the stream survives far more drops than MaxAttempts.
	var dials atomic.Int32
	dial := func(ctx context.Context) (streamConn, error) {
		dials.Add(1)
		return &fakeConn{frames: [][]byte{
			[]byte(`{"type":"mention","payload":{"id":"e1"}}`),
		}}, nil
	}

	s := newStream(dial, testStreamConfig(), bus.NewEventBus())
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	assert.Eventually(t, func() bool {
		return dials.Load() > 6
	}, 2*time.Second, time.Millisecond, "stream gave up despite successful reads")

	select {
	case <-s.Done():
		t.Fatal("stream terminated even though reads kept succeeding")
	default:
	}

	cancel()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("stream did not stop on cancel")
	}
	assert.ErrorIs(t, s.Err(), context.Canceled)
}

func TestStreamStopsOnContextCancel(t *testing.T) {
	dial := func(ctx context.Context) (streamConn, error) {
		return nil, errors.New("refused")
	}
	cfg := testStreamConfig()
	cfg.ReconnectDelay = time.Hour
	cfg.MaxAttempts = 100

	s := newStream(dial, cfg, bus.NewEventBus())
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("stream did not stop on cancel")
	}
}

func TestNewStreamRequiresURL(t *testing.T) {
	_, err := NewStream(StreamConfig{}, bus.NewEventBus())
	assert.Error(t, err)
}
