package durable

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeNonDeterminism       = "DURABLE_NON_DETERMINISM"
	ErrCodeOrchestratorNotFound = "DURABLE_ORCHESTRATOR_NOT_FOUND"
	ErrCodeActivityNotFound     = "DURABLE_ACTIVITY_NOT_FOUND"
	ErrCodeInvalidOptions       = "DURABLE_INVALID_OPTIONS"
	ErrCodeInvalidConfig        = "DURABLE_INVALID_CONFIG"
	ErrCodeEmptyHistory         = "DURABLE_EMPTY_HISTORY"
	ErrCodeAwaitOutsideFlow     = "DURABLE_AWAIT_OUTSIDE_FLOW"
	ErrCodeInvalidHistory       = "DURABLE_INVALID_HISTORY"
	ErrCodeStore                = "DURABLE_STORE"
	ErrCodeAlreadyRegistered    = "DURABLE_ALREADY_REGISTERED"
)

var (
	ErrNonDeterminism = apperrors.New("non-deterministic orchestration", apperrors.CategoryConflict).
				WithTextCode(ErrCodeNonDeterminism)
	ErrOrchestratorNotFound = apperrors.New("orchestrator not found", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeOrchestratorNotFound)
	ErrActivityNotFound = apperrors.New("activity not found", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeActivityNotFound)
	ErrInvalidOptions = apperrors.New("invalid task options", apperrors.CategoryValidation).
				WithTextCode(ErrCodeInvalidOptions)
	ErrInvalidConfig = apperrors.New("invalid configuration", apperrors.CategoryValidation).
				WithTextCode(ErrCodeInvalidConfig)
	ErrEmptyHistory = apperrors.New("history is empty", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeEmptyHistory)
	ErrAwaitOutsideFlow = apperrors.New("task awaited outside the orchestration flow", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeAwaitOutsideFlow)
	ErrInvalidHistory = apperrors.New("invalid history", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInvalidHistory)
	ErrStore = apperrors.New("history store failure", apperrors.CategoryExternal).
			WithTextCode(ErrCodeStore)
	ErrAlreadyRegistered = apperrors.New("already registered", apperrors.CategoryConflict).
				WithTextCode(ErrCodeAlreadyRegistered)
)

// NewError clones base and overrides message, source and metadata when given.
func NewError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrInvalidHistory
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the text code of the first go-errors error in the chain.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// HasCode reports whether err carries the given text code.
func HasCode(err error, code string) bool {
	return code != "" && ErrorCode(err) == code
}
