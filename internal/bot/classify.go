package bot

import (
	"context"
	"errors"

	"github.com/usat-ai-lab/taklif/internal/backend"
	"github.com/usat-ai-lab/taklif/internal/feedback"
)

// ErrorCategory groups failures by what the user should be told.
type ErrorCategory string

const (
	ErrTimeout    ErrorCategory = "timeout"
	ErrNetwork    ErrorCategory = "network"
	ErrDuplicate  ErrorCategory = "duplicate"
	ErrValidation ErrorCategory = "validation"
	ErrUnknown    ErrorCategory = "unknown"
)

// Classification is the user-facing view of an error.
type Classification struct {
	Category    ErrorCategory
	ShouldRetry bool
}

// Classify maps an error from the feedback layer to a category.
func Classify(err error) Classification {
	switch {
	case errors.Is(err, feedback.ErrAlreadyRegistered), backend.IsKind(err, backend.KindDuplicate):
		return Classification{ErrDuplicate, false}
	case backend.IsKind(err, backend.KindValidation), backend.IsKind(err, backend.KindPayloadTooLarge):
		return Classification{ErrValidation, false}
	case backend.IsKind(err, backend.KindTimeout), errors.Is(err, context.DeadlineExceeded):
		return Classification{ErrTimeout, true}
	case backend.IsKind(err, backend.KindNetwork):
		return Classification{ErrNetwork, true}
	default:
		return Classification{ErrUnknown, true}
	}
}
