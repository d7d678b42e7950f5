package reports

import (
	"fmt"

	pkgerrors "github.com/yungbote/labtrace-backend/internal/pkg/errors"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusEnqueued  Status = "enqueued"
	StatusCompleted Status = "completed"
	StatusErrored   Status = "errored"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusEnqueued},
	StatusEnqueued: {StatusCompleted, StatusErrored, StatusPending},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusEnqueued, StatusCompleted, StatusErrored:
		return true
	default:
		return false
	}
}

// Terminal reports whether no worker should touch a report in this status again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusErrored
}

func (s Status) CanTransition(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an error wrapping ErrIllegalTransition when from -> to is not allowed.
func CheckTransition(from, to Status) error {
	if !from.Valid() || !to.Valid() || !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", pkgerrors.ErrIllegalTransition, from, to)
	}
	return nil
}
