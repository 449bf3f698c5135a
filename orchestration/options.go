package orchestration

import (
	"strings"
	"time"

	"github.com/goliatone/go-durable"
	"github.com/goliatone/go-durable/retry"
)

// Option configures an Executor.
type Option func(*Executor)

// WithConfig replaces the executor config.
func WithConfig(cfg Config) Option {
	return func(e *Executor) {
		e.config = cfg
	}
}

// WithLogger sets the executor logger.
func WithLogger(logger Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaximumTimerInterval overrides Config.MaximumTimerInterval.
func WithMaximumTimerInterval(d time.Duration) Option {
	return func(e *Executor) {
		e.config.MaximumTimerInterval = d
	}
}

// TaskOption configures a single activity or sub-orchestration call.
type TaskOption func(*taskOptions)

type taskOptions struct {
	policy     *retry.Policy
	handler    retry.Handler
	appID      string
	instanceID string
}

// WithRetryPolicy retries the call according to policy.
func WithRetryPolicy(policy *retry.Policy) TaskOption {
	return func(o *taskOptions) {
		o.policy = policy
	}
}

// WithRetryHandler retries the call while handler returns true.
func WithRetryHandler(handler retry.Handler) TaskOption {
	return func(o *taskOptions) {
		o.handler = handler
	}
}

// WithAppID routes the call to another application. Blank ids are ignored.
func WithAppID(appID string) TaskOption {
	return func(o *taskOptions) {
		o.appID = strings.TrimSpace(appID)
	}
}

// WithInstanceID sets the sub-orchestration instance id.
func WithInstanceID(instanceID string) TaskOption {
	return func(o *taskOptions) {
		o.instanceID = strings.TrimSpace(instanceID)
	}
}

func newTaskOptions(opts []TaskOption) (*taskOptions, error) {
	o := &taskOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.policy != nil && o.handler != nil {
		return nil, durable.NewError(durable.ErrInvalidOptions, "retry policy and retry handler are mutually exclusive", nil, nil)
	}
	if err := o.policy.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// ContinueAsNewOption configures ContinueAsNew.
type ContinueAsNewOption func(*continueAsNewOptions)

type continueAsNewOptions struct {
	preserveEvents bool
}

// WithPreserveUnprocessedEvents carries buffered external events into the
// next execution.
func WithPreserveUnprocessedEvents() ContinueAsNewOption {
	return func(o *continueAsNewOptions) {
		o.preserveEvents = true
	}
}
