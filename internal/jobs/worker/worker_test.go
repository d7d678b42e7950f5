package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/labtrace-backend/internal/jobs/runtime"
	apperr "github.com/yungbote/labtrace-backend/internal/pkg/errors"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
	"github.com/yungbote/labtrace-backend/internal/platform/redisq"
)

type fakeConsumer struct {
	mu      sync.Mutex
	pending map[string][]*redisq.Message
	acked   []string
	nacked  []string
	touched []string
	stale   map[string]int
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{pending: map[string][]*redisq.Message{}, stale: map[string]int{}}
}

func (f *fakeConsumer) push(msg *redisq.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[msg.Queue] = append(f.pending[msg.Queue], msg)
}

func (f *fakeConsumer) Pop(ctx context.Context, queue string) (*redisq.Message, error) {
	f.mu.Lock()
	if q := f.pending[queue]; len(q) > 0 {
		msg := q[0]
		f.pending[queue] = q[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Millisecond):
	}
	return nil, nil
}

func (f *fakeConsumer) Ack(_ context.Context, msg *redisq.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, msg.ID)
	return nil
}

func (f *fakeConsumer) Nack(_ context.Context, msg *redisq.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, msg.ID)
	return nil
}

func (f *fakeConsumer) Touch(_ context.Context, msg *redisq.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, msg.ID)
	return nil
}

func (f *fakeConsumer) RequeueStale(_ context.Context, queue string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stale[queue]++
	return 0, nil
}

func (f *fakeConsumer) snapshot() (acked, nacked []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...), append([]string(nil), f.nacked...)
}

func newWorker(t *testing.T, c Consumer, handlers ...runtime.Handler) *Worker {
	t.Helper()
	reg := runtime.NewRegistry()
	for _, h := range handlers {
		require.NoError(t, reg.Register(h))
	}
	w, err := NewWorker(logger.Nop(), c, reg, Config{Concurrency: 2, TaskTimeout: time.Second, MaxDeliveries: 3})
	require.NoError(t, err)
	return w
}

func msg(id, queue string, deliveries int) *redisq.Message {
	return &redisq.Message{ID: id, Queue: queue, Payload: []byte(`{}`), Deliveries: deliveries}
}

func TestHandleSettlesByOutcome(t *testing.T) {
	c := newFakeConsumer()
	h := runtime.HandlerFunc{Name: "q", Fn: func(ctx *runtime.Context) error {
		switch ctx.Msg.ID {
		case "ok":
			return nil
		case "flaky", "flaky-last":
			return apperr.Transient(errors.New("redis down"))
		case "bad":
			return errors.New("undecodable")
		default:
			panic("boom")
		}
	}}
	w := newWorker(t, c, h)
	ctx := context.Background()

	w.Handle(ctx, h, msg("ok", "q", 1))
	w.Handle(ctx, h, msg("flaky", "q", 1))
	w.Handle(ctx, h, msg("flaky-last", "q", 3))
	w.Handle(ctx, h, msg("bad", "q", 1))
	w.Handle(ctx, h, msg("panics", "q", 1))

	acked, nacked := c.snapshot()
	assert.Equal(t, []string{"ok", "flaky-last", "bad", "panics"}, acked)
	assert.Equal(t, []string{"flaky"}, nacked)
}

func TestHandleAppliesTaskTimeout(t *testing.T) {
	c := newFakeConsumer()
	var deadline time.Time
	h := runtime.HandlerFunc{Name: "q", Fn: func(ctx *runtime.Context) error {
		deadline, _ = ctx.Ctx.Deadline()
		return nil
	}}
	w := newWorker(t, c, h)
	w.Handle(context.Background(), h, msg("m", "q", 1))
	assert.False(t, deadline.IsZero())
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second)
}

func TestHandleRestartsVisibilityBeforeRunning(t *testing.T) {
	c := newFakeConsumer()
	var touchedFirst bool
	h := runtime.HandlerFunc{Name: "q", Fn: func(ctx *runtime.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		touchedFirst = len(c.touched) == 1 && c.touched[0] == ctx.Msg.ID
		return nil
	}}
	w := newWorker(t, c, h)
	w.Handle(context.Background(), h, msg("m", "q", 1))
	assert.True(t, touchedFirst, "claim must be touched when the task starts")
}

func TestConfigBudget(t *testing.T) {
	assert.Equal(t, 10*time.Minute+30*time.Second, Config{}.Budget())
	assert.Equal(t, 3*time.Minute, Config{TaskTimeout: 2 * time.Minute, DrainTimeout: time.Minute}.Budget())
}

func TestRunConsumesUntilCancelled(t *testing.T) {
	c := newFakeConsumer()
	var mu sync.Mutex
	seen := map[string]bool{}
	record := func(ctx *runtime.Context) error {
		mu.Lock()
		defer mu.Unlock()
		seen[ctx.Msg.Queue+"/"+ctx.Msg.ID] = true
		return nil
	}
	w := newWorker(t, c,
		runtime.HandlerFunc{Name: "report_tasks", Fn: record},
		runtime.HandlerFunc{Name: "raw_data_vectorization", Fn: record},
	)
	c.push(msg("a", "report_tasks", 1))
	c.push(msg("b", "raw_data_vectorization", 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		acked, _ := c.snapshot()
		return len(acked) == 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, seen["report_tasks/a"])
	assert.True(t, seen["raw_data_vectorization/b"])
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, 1, c.stale["report_tasks"])
}

func TestRunWithoutHandlers(t *testing.T) {
	w, err := NewWorker(logger.Nop(), newFakeConsumer(), runtime.NewRegistry(), Config{})
	require.NoError(t, err)
	assert.Error(t, w.Run(context.Background()))
}
