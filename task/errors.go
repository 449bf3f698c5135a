package task

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-durable"
	"github.com/goliatone/go-durable/history"
)

// TaskFailedError is returned when an activity or sub-orchestration failed.
type TaskFailedError struct {
	TaskName string
	TaskID   int32
	Details  *history.FailureDetails
}

func (e *TaskFailedError) Error() string {
	msg := ""
	if e.Details != nil {
		msg = e.Details.ErrorMessage
	}
	return fmt.Sprintf("Task '%s' (#%d) failed with an unhandled exception: %s", e.TaskName, e.TaskID, msg)
}

// IsNonRetriable reports whether the remote failure asked not to be retried.
func (e *TaskFailedError) IsNonRetriable() bool {
	return e.Details != nil && e.Details.IsNonRetriable
}

// TaskCanceledError is returned when a wait was abandoned, typically because
// its timeout timer fired first.
type TaskCanceledError struct {
	TaskName string
	TaskID   int32
	Message  string
}

func (e *TaskCanceledError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("Task '%s' (#%d) was canceled", e.TaskName, e.TaskID)
}

// CompositeTaskFailedError aggregates the failures of an all-of in input
// order.
type CompositeTaskFailedError struct {
	Failures []error
	Total    int
}

func (e *CompositeTaskFailedError) Error() string {
	return fmt.Sprintf("%d out of %d tasks failed with an exception. See the exceptions list for details.", len(e.Failures), e.Total)
}

func (e *CompositeTaskFailedError) Unwrap() []error {
	return e.Failures
}

// NonRetriableError marks an activity failure that retry policies must not
// retry.
type NonRetriableError struct {
	Err error
}

func (e *NonRetriableError) Error() string {
	if e.Err == nil {
		return "non-retriable error"
	}
	return e.Err.Error()
}

func (e *NonRetriableError) Unwrap() error { return e.Err }

// NonRetriable wraps err so its failure details are flagged non-retriable.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetriableError{Err: err}
}

// NewFailureDetails converts err to its serializable form.
func NewFailureDetails(err error) *history.FailureDetails {
	if err == nil {
		return nil
	}

	details := &history.FailureDetails{
		ErrorType:    errorType(err),
		ErrorMessage: err.Error(),
	}

	var failed *TaskFailedError
	if stderrors.As(err, &failed) {
		details.InnerFailure = failed.Details
	}

	var p *durable.Panic
	if stderrors.As(err, &p) {
		details.StackTrace = p.Stack
	}

	var nonRetriable *NonRetriableError
	if stderrors.As(err, &nonRetriable) {
		details.IsNonRetriable = true
	}

	return details
}

func errorType(err error) string {
	if code := durable.ErrorCode(err); code != "" {
		return code
	}
	switch e := err.(type) {
	case *TaskFailedError:
		return "TaskFailedError"
	case *TaskCanceledError:
		return "TaskCanceledError"
	case *CompositeTaskFailedError:
		return "CompositeTaskFailedError"
	case *durable.Panic:
		return "panic"
	case *NonRetriableError:
		if e.Err != nil {
			return errorType(e.Err)
		}
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}
