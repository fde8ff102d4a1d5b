package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dallo7/korosho/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (c *recordingConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.events = append(c.events, v.(Event))
	return nil
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestNewEvent_CompletedBody(t *testing.T) {
	e := NewEvent(EventPipelineCompleted, 4, "CORECU Ltd", map[string]interface{}{
		"success": 9, "failed": 1, "total": 10,
	})
	assert.Equal(t, "IPN: Transaction Complete", e.Subject)
	assert.Equal(t, "CORECU Ltd: Paid 9/10 farmers. (1 failed)", e.Body)
	assert.Equal(t, PriorityHigh, e.Priority)
}

func TestHub_BroadcastsToSubscribers(t *testing.T) {
	hub := NewHub(4, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := &recordingConn{}
	done := make(chan struct{})
	go func() {
		hub.Subscribe(ctx, conn)
		close(done)
	}()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, NewEvent(EventBatchAuthorized, 1, "LMCU Ltd", nil)))
	require.NoError(t, hub.Publish(ctx, NewEvent(EventPipelinePhase, 1, "LMCU Ltd", map[string]interface{}{"message": "x"})))

	require.Eventually(t, func() bool { return conn.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 0, hub.Subscribers())
}

func TestHub_DropsFailingSubscriber(t *testing.T) {
	hub := NewHub(1, logger.NewNop())
	conn := &recordingConn{fail: true}
	done := make(chan struct{})
	go func() {
		hub.Subscribe(context.Background(), conn)
		close(done)
	}()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), NewEvent(EventBatchSubmitted, 2, "TAMCU Ltd", nil)))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscriber was not dropped")
	}
	assert.Equal(t, 0, hub.Subscribers())
}

type failingSink struct{ calls int }

func (s *failingSink) Publish(context.Context, Event) error {
	s.calls++
	return errors.New("down")
}

func TestMulti_TriesEverySink(t *testing.T) {
	a, b := &failingSink{}, &failingSink{}
	err := Multi{a, nil, b, NewLogSink(logger.NewNop())}.Publish(context.Background(), NewEvent(EventBatchSubmitted, 1, "X", nil))
	assert.Error(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}
