package datasets

import (
	"errors"
	"fmt"

	"github.com/programme-lv/evalcore/internal/database"
)

// ErrActiveDataset is returned when deleting the dataset a task judges with.
var ErrActiveDataset = errors.New("dataset is active")

// ValidationError reports bad admin input. It is returned before
// anything is written.
type ValidationError struct {
	Title  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Title
	}
	return e.Title + ": " + e.Detail
}

func invalid(title, format string, args ...any) error {
	return &ValidationError{Title: title, Detail: fmt.Sprintf(format, args...)}
}

// OperationFailed reports a commit that lost a constraint check to a
// concurrent writer. Nothing was written; callers should reload before
// retrying.
type OperationFailed struct {
	Title string
	Err   error
}

func (e *OperationFailed) Error() string {
	return e.Title + ": " + e.Err.Error()
}

func (e *OperationFailed) Unwrap() error {
	return e.Err
}

// failed wraps conflicts in OperationFailed and passes other errors on.
func failed(title string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, database.ErrConflict) {
		return &OperationFailed{Title: title, Err: err}
	}
	return err
}
