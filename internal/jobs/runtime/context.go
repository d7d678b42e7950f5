package runtime

import (
	"context"
	"fmt"

	"github.com/yungbote/labtrace-backend/internal/pkg/ctxutil"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
	"github.com/yungbote/labtrace-backend/internal/platform/redisq"
)

/*
Context is the execution handle for a single queue delivery.
It wraps:
	- Ctx: the per-task context (deadline, cancellation, task data)
	- Msg: the delivery being handled
	- Log: a logger already scoped to the queue and message id
Handlers decode their input through Decode and never ack or nack themselves;
the worker settles the delivery from the returned error.
*/
type Context struct {
	Ctx context.Context
	Msg *redisq.Message
	Log *logger.Logger
}

/*
NewContext attaches task data (queue, message id, trace id) to ctx so repos
and clients further down can log it, and scopes log to the delivery.
*/
func NewContext(ctx context.Context, msg *redisq.Message, log *logger.Logger) *Context {
	c := &Context{Ctx: ctxutil.Default(ctx), Msg: msg, Log: log}
	if msg == nil {
		return c
	}
	td := &ctxutil.TaskData{Queue: msg.Queue, MessageID: msg.ID, TraceID: msg.TraceID}
	c.Ctx = ctxutil.WithTaskData(c.Ctx, td)
	if log != nil {
		c.Log = log.With(td.LogFields()...)
	}
	return c
}

// Decode unmarshals the delivery payload into v.
func (c *Context) Decode(v any) error {
	if c == nil || c.Msg == nil {
		return fmt.Errorf("no message in context")
	}
	return c.Msg.Decode(v)
}

// Delivery returns the 1-based delivery count of the message.
func (c *Context) Delivery() int {
	if c == nil || c.Msg == nil {
		return 1
	}
	return c.Msg.Deliveries
}
