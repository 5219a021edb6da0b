package history

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrStorage matches every durable read or write failure via errors.Is.
	ErrStorage = errors.New("history: storage failure")
	// ErrInvalidTurn is returned when a turn has an unknown role or an empty user id.
	ErrInvalidTurn = errors.New("history: invalid turn")
)

// StorageError reports a failed backend operation.
type StorageError struct {
	Op     string
	UserID string
	Err    error
}

func (e *StorageError) Error() string {
	if e.UserID == "" {
		return fmt.Sprintf("history %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("history %s user=%s: %v", e.Op, e.UserID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }
