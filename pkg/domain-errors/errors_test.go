package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfFindsOutermostCode(t *testing.T) {
	inner := New(CodeNotFound, "subject not found")
	outer := Wrap(inner, CodeInternal, "load failed")

	code, ok := CodeOf(outer)
	assert.True(t, ok)
	assert.Equal(t, CodeInternal, code)
	assert.True(t, HasCode(fmt.Errorf("ctx: %w", inner), CodeNotFound))
	assert.Equal(t, "subject not found", MessageOf(inner))
	assert.Equal(t, "load failed: subject not found", outer.Error())
}

func TestUncodedErrors(t *testing.T) {
	plain := errors.New("boom")
	_, ok := CodeOf(plain)
	assert.False(t, ok)
	assert.False(t, HasCode(plain, CodeInternal))
	assert.Equal(t, "boom", MessageOf(plain))
	assert.Empty(t, MessageOf(nil))
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := Wrap(errors.New("row locked"), CodeConflict, "subject busy")
	assert.ErrorIs(t, err, New(CodeConflict, "any message"))
	assert.NotErrorIs(t, err, New(CodeNotFound, "subject busy"))
}
