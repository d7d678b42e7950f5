package gcp

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperr "github.com/yungbote/labtrace-backend/internal/pkg/errors"
)

// ClassifyRPCError tags provider failures so workers can tell an outage from
// a rejected document.
func ClassifyRPCError(err error) error {
	if err == nil {
		return nil
	}
	if IsTransientRPC(err) {
		return apperr.Transient(err)
	}
	return apperr.Permanent(err)
}

func IsTransientRPC(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	default:
		return false
	}
}
