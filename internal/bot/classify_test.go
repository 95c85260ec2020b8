package bot

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/usat-ai-lab/taklif/internal/backend"
	"github.com/usat-ai-lab/taklif/internal/feedback"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{"already registered", fmt.Errorf("%w: %w", feedback.ErrAlreadyRegistered, &backend.Error{Kind: backend.KindDuplicate}), Classification{ErrDuplicate, false}},
		{"validation", &backend.Error{Kind: backend.KindValidation}, Classification{ErrValidation, false}},
		{"too large", &backend.Error{Kind: backend.KindPayloadTooLarge}, Classification{ErrValidation, false}},
		{"timeout", &backend.Error{Kind: backend.KindTimeout}, Classification{ErrTimeout, true}},
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), Classification{ErrTimeout, true}},
		{"network", &backend.Error{Kind: backend.KindNetwork}, Classification{ErrNetwork, true}},
		{"server", &backend.Error{Kind: backend.KindRequest, Status: 500}, Classification{ErrUnknown, true}},
		{"other", errors.New("disk full"), Classification{ErrUnknown, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestEveryCategoryHasText(t *testing.T) {
	for _, lang := range []Lang{Uzbek, Russian} {
		for _, c := range []ErrorCategory{ErrTimeout, ErrNetwork, ErrDuplicate, ErrValidation, ErrUnknown} {
			assert.NotEmpty(t, T(lang).Errors[c], "%s/%s", lang, c)
		}
		assert.Len(t, T(lang).Categories, 7)
	}
	assert.Same(t, T(Uzbek), T("de"))
}
