package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
)

// Message is one delivery of a queued payload.
type Message struct {
	ID         string          `json:"id"`
	Queue      string          `json:"-"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	TraceID    string          `json:"trace_id,omitempty"`
	// Deliveries counts how many times the message was handed out, including
	// this one.
	Deliveries int `json:"deliveries"`

	raw string
}

// Queue is a durable list-based work queue. Producers LPUSH, consumers
// BLMOVE the tail into "<queue>:processing", so a consumer that dies before
// Ack leaves the message recoverable by RequeueStale.
type Queue struct {
	log *logger.Logger
	rdb goredis.UniversalClient
	cfg Config
	now func() time.Time
}

func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
		// reads must outlive a blocking BLMOVE
		ReadTimeout: cfg.BlockTimeout + 5*time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func New(log *logger.Logger, rdb goredis.UniversalClient, cfg Config) (*Queue, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = defaultBlockTimeout
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = defaultVisibilityTimeout
	}
	return &Queue{log: log.With("service", "redisq.Queue"), rdb: rdb, cfg: cfg, now: time.Now}, nil
}

// VisibilityTimeout is how long a claim may go untouched before it is
// redelivered.
func (q *Queue) VisibilityTimeout() time.Duration { return q.cfg.VisibilityTimeout }

func ProcessingKey(queue string) string { return queue + ":processing" }
func inflightKey(queue string) string   { return queue + ":inflight" }

// Push enqueues v as JSON and returns the message id.
func (q *Queue) Push(ctx context.Context, queue string, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", queue, err)
	}
	msg := Message{
		ID:         uuid.NewString(),
		Payload:    payload,
		EnqueuedAt: q.now().UTC(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.TraceID = sc.TraceID().String()
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode %s envelope: %w", queue, err)
	}
	if err := q.rdb.LPush(ctx, queue, raw).Err(); err != nil {
		return "", fmt.Errorf("lpush %s: %w", queue, err)
	}
	return msg.ID, nil
}

// Pop blocks up to the configured block timeout and returns nil, nil when
// nothing arrived.
func (q *Queue) Pop(ctx context.Context, queue string) (*Message, error) {
	raw, err := q.rdb.BLMove(ctx, queue, ProcessingKey(queue), "RIGHT", "LEFT", q.cfg.BlockTimeout).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blmove %s: %w", queue, err)
	}
	msg, err := decode(queue, raw)
	if err != nil {
		// poison entries cannot be acked by id; drop them from processing
		q.log.Error("dropping undecodable queue entry", "queue", queue, "error", err)
		_ = q.rdb.LRem(ctx, ProcessingKey(queue), 1, raw).Err()
		return nil, err
	}
	if err := q.rdb.ZAdd(ctx, inflightKey(queue), goredis.Z{Score: float64(q.now().Unix()), Member: raw}).Err(); err != nil {
		// RequeueStale adopts processing entries without a claim time
		q.log.Warn("mark inflight failed", "queue", queue, "message_id", msg.ID, "error", err)
	}
	return msg, nil
}

// Touch restarts the visibility clock of a claimed message. Workers call it
// when a task actually starts, so time spent waiting for a pool slot does
// not count against the visibility timeout.
func (q *Queue) Touch(ctx context.Context, msg *Message) error {
	if msg == nil {
		return nil
	}
	if err := q.rdb.ZAddXX(ctx, inflightKey(msg.Queue), goredis.Z{Score: float64(q.now().Unix()), Member: msg.raw}).Err(); err != nil {
		return fmt.Errorf("touch %s/%s: %w", msg.Queue, msg.ID, err)
	}
	return nil
}

// Ack removes a handled message for good.
func (q *Queue) Ack(ctx context.Context, msg *Message) error {
	if msg == nil {
		return nil
	}
	_, err := q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.LRem(ctx, ProcessingKey(msg.Queue), 1, msg.raw)
		p.ZRem(ctx, inflightKey(msg.Queue), msg.raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack %s/%s: %w", msg.Queue, msg.ID, err)
	}
	return nil
}

// Nack returns a message to the head of its queue for immediate redelivery.
// A message already requeued by RequeueStale is left alone.
func (q *Queue) Nack(ctx context.Context, msg *Message) error {
	if msg == nil {
		return nil
	}
	moved, err := q.requeue(ctx, msg.Queue, msg.raw)
	if err != nil {
		return fmt.Errorf("nack %s/%s: %w", msg.Queue, msg.ID, err)
	}
	if !moved {
		q.log.Debug("nack found no claimed entry", "queue", msg.Queue, "message_id", msg.ID)
	}
	return nil
}

// adoptScript gives every processing entry without a claim time the current
// time, so a consumer that died between BLMOVE and ZADD cannot strand it.
var adoptScript = goredis.NewScript(`
local items = redis.call('LRANGE', KEYS[1], 0, -1)
local adopted = 0
for _, raw in ipairs(items) do
  if not redis.call('ZSCORE', KEYS[2], raw) then
    redis.call('ZADD', KEYS[2], ARGV[1], raw)
    adopted = adopted + 1
  end
end
return adopted
`)

// requeueScript pushes the next envelope only when it removed the claimed
// one, so racing requeues of one delivery produce a single redelivery.
var requeueScript = goredis.NewScript(`
local removed = redis.call('LREM', KEYS[1], 1, ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
if removed > 0 then
  redis.call('RPUSH', KEYS[3], ARGV[2])
end
return removed
`)

// RequeueStale moves messages claimed longer than the visibility timeout
// back onto the queue and returns how many were moved.
func (q *Queue) RequeueStale(ctx context.Context, queue string) (int, error) {
	keys := []string{ProcessingKey(queue), inflightKey(queue)}
	adopted, err := adoptScript.Run(ctx, q.rdb, keys, q.now().Unix()).Int()
	if err != nil {
		return 0, fmt.Errorf("adopt unclaimed %s: %w", queue, err)
	}
	if adopted > 0 {
		q.log.Warn("processing entries without claim time adopted", "queue", queue, "count", adopted)
	}

	cutoff := q.now().Add(-q.cfg.VisibilityTimeout).Unix()
	stale, err := q.rdb.ZRangeByScore(ctx, inflightKey(queue), &goredis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprint(cutoff),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan inflight %s: %w", queue, err)
	}
	moved := 0
	for _, raw := range stale {
		ok, err := q.requeue(ctx, queue, raw)
		if err != nil {
			return moved, err
		}
		if ok {
			moved++
		}
	}
	if moved > 0 {
		q.log.Warn("requeued stale messages", "queue", queue, "count", moved)
	}
	return moved, nil
}

// requeue reports whether raw was still claimed and got pushed back.
func (q *Queue) requeue(ctx context.Context, queue, raw string) (bool, error) {
	msg, err := decode(queue, raw)
	if err != nil {
		// undecodable claims are dropped rather than redelivered
		_ = q.rdb.ZRem(ctx, inflightKey(queue), raw).Err()
		_ = q.rdb.LRem(ctx, ProcessingKey(queue), 1, raw).Err()
		return false, err
	}
	msg.Deliveries++
	next, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("encode %s envelope: %w", queue, err)
	}
	removed, err := requeueScript.Run(ctx, q.rdb, []string{ProcessingKey(queue), inflightKey(queue), queue}, raw, next).Int()
	if err != nil {
		return false, fmt.Errorf("requeue %s/%s: %w", queue, msg.ID, err)
	}
	return removed > 0, nil
}

func (q *Queue) Depth(ctx context.Context, queue string) (int64, error) {
	n, err := q.rdb.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", queue, err)
	}
	return n, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func decode(queue, raw string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("decode %s envelope: %w", queue, err)
	}
	if strings.TrimSpace(msg.ID) == "" || len(msg.Payload) == 0 {
		return nil, fmt.Errorf("decode %s envelope: missing id or payload", queue)
	}
	msg.Queue = queue
	msg.raw = raw
	if msg.Deliveries == 0 {
		msg.Deliveries = 1
	}
	return &msg, nil
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if m == nil {
		return fmt.Errorf("nil message")
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Queue, err)
	}
	return nil
}
