package jobs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperr "github.com/yungbote/labtrace-backend/internal/pkg/errors"
)

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit transient", apperr.Transient(errors.New("x")), true},
		{"explicit permanent wins", apperr.Permanent(statusErr(503)), false},
		{"cancelled", fmt.Errorf("ocr: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, true},
		{"http 503", fmt.Errorf("llm: %w", statusErr(503)), true},
		{"http 429", statusErr(429), true},
		{"http 400", statusErr(400), false},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), true},
		{"grpc invalid", status.Error(codes.InvalidArgument, "bad"), false},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, true},
		{"pg connection", fmt.Errorf("q: %w", &pgconn.PgError{Code: "08006"}), true},
		{"pg unique", &pgconn.PgError{Code: "23505"}, false},
		{"net op", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}
