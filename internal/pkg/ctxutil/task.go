package ctxutil

import "context"

type taskDataKey struct{}

// TaskData identifies the queue delivery a unit of work came from.
type TaskData struct {
	Queue     string
	MessageID string
	TraceID   string
}

func WithTaskData(ctx context.Context, td *TaskData) context.Context {
	return context.WithValue(Default(ctx), taskDataKey{}, td)
}

func GetTaskData(ctx context.Context) *TaskData {
	if ctx == nil {
		return nil
	}
	if td, ok := ctx.Value(taskDataKey{}).(*TaskData); ok {
		return td
	}
	return nil
}

// LogFields returns key/value pairs suitable for logger.With.
func (td *TaskData) LogFields() []interface{} {
	if td == nil {
		return nil
	}
	out := []interface{}{"queue", td.Queue, "message_id", td.MessageID}
	if td.TraceID != "" {
		out = append(out, "trace_id", td.TraceID)
	}
	return out
}
