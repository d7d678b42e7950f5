package ctxutil

import (
	"context"
	"testing"
)

func TestTaskDataRoundTrip(t *testing.T) {
	if GetTaskData(context.Background()) != nil {
		t.Fatalf("expected nil task data on empty context")
	}
	ctx := WithTaskData(nil, &TaskData{Queue: "report_tasks", MessageID: "m1"})
	td := GetTaskData(ctx)
	if td == nil || td.Queue != "report_tasks" || td.MessageID != "m1" {
		t.Fatalf("unexpected task data: %+v", td)
	}
	if got := len(td.LogFields()); got != 4 {
		t.Fatalf("log fields: want=4 got=%d", got)
	}
}
