package jobs

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	apperr "github.com/yungbote/labtrace-backend/internal/pkg/errors"
	"github.com/yungbote/labtrace-backend/internal/pkg/httpx"
	"github.com/yungbote/labtrace-backend/internal/platform/gcp"
)

// IsTransient reports whether err is an infrastructure fault worth another
// attempt. Explicit classification wins over inspection of the cause.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, apperr.ErrPermanent):
		return false
	case errors.Is(err, apperr.ErrTransient):
		return true
	case errors.Is(err, context.Canceled):
		return false
	}
	if isTransientPG(err) {
		return true
	}
	if gcp.IsTransientRPC(err) {
		return true
	}
	// covers openai http errors, qdrant OperationError and redis network faults
	return httpx.IsRetryableError(err)
}

func isTransientPG(err error) bool {
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "53300", "57P01", "57P02", "57P03":
		return true
	}
	// class 08: connection exceptions
	return len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
}
