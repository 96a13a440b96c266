package errors_test

import (
	"fmt"
	"testing"

	"codeberg.org/mutker/smartrefresh/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	f := errors.New()

	assert.Equal(t, "Profile not found", f.New(errors.ErrProfileNotFound).Error())
	assert.Equal(t, "Profile not found: 42", f.WithData(errors.ErrProfileNotFound, 42).Error())
	assert.Equal(t, "custom", f.WithMessage(errors.ErrDriver, "custom").Error())
	assert.Equal(t, "Failed to apply refresh rate: boom", f.Wrap(errors.ErrDriver, fmt.Errorf("boom")).Error())
	assert.Equal(t, "made_up", errors.GetErrorMessage("made_up"))
}

func TestCodeOf(t *testing.T) {
	f := errors.New()
	inner := f.New(errors.ErrSampleUnavailable)
	wrapped := fmt.Errorf("tick: %w", inner)

	assert.Equal(t, errors.ErrSampleUnavailable, errors.CodeOf(wrapped))
	assert.Equal(t, errors.ErrInternal, errors.CodeOf(fmt.Errorf("plain")))
}

func TestHasCode(t *testing.T) {
	f := errors.New()
	err := f.Wrap(errors.ErrPersistence, f.New(errors.ErrTimeout))

	assert.True(t, errors.HasCode(err, errors.ErrPersistence))
	assert.True(t, errors.HasCode(err, errors.ErrTimeout))
	assert.False(t, errors.HasCode(err, errors.ErrDriver))
	assert.False(t, errors.HasCode(nil, errors.ErrDriver))
}
