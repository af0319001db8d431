package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfWrapped(t *testing.T) {
	err := fmt.Errorf("send: %w", ErrEmptyContent)

	assert.Equal(t, CodeInvalidArgument, CodeOf(err))
	assert.True(t, errors.Is(err, ErrEmptyContent))
	assert.False(t, errors.Is(err, ErrContentTooLong))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Unavailable("database unavailable", cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, Has(err, CodeUnavailable))
	assert.Equal(t, "database unavailable: connection refused", err.Error())
}
