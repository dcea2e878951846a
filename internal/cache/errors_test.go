package cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheError_ErrorMessageIncludesKey(t *testing.T) {
	err := NewCacheError("Get", "quote:AAPL", CodeKeyNotFound, errors.New("boom"))
	assert.Contains(t, err.Error(), "quote:AAPL")
	assert.Contains(t, err.Error(), string(CodeKeyNotFound))
	assert.Contains(t, err.Error(), "boom")
}

func TestCacheError_ErrorMessageWithoutKey(t *testing.T) {
	err := NewCacheError("MSet", "", CodeOperationFailed, errors.New("boom"))
	msg := err.Error()
	assert.NotContains(t, msg, `key ""`)
	assert.Contains(t, msg, string(CodeOperationFailed))
}

func TestCacheError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewCacheError("Get", "k", CodeConnectionError, cause)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestCodeOf(t *testing.T) {
	err := NewCacheError("Get", "k", CodeValueTooLarge, errors.New("too big"))
	code, ok := CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, CodeValueTooLarge, code)

	_, ok = CodeOf(errors.New("plain error"))
	assert.False(t, ok)
}

func TestIsCode(t *testing.T) {
	err := NewCacheError("Get", "k", CodeServiceUnavailable, errors.New("down"))
	assert.True(t, IsCode(err, CodeServiceUnavailable))
	assert.False(t, IsCode(err, CodeKeyNotFound))
}

func TestCodeOf_WrappedError(t *testing.T) {
	inner := NewCacheError("Get", "k", CodeConnectionTimeout, errors.New("timeout"))
	wrapped := errors.New("outer: " + inner.Error())
	_, ok := CodeOf(wrapped)
	assert.False(t, ok, "plain string wrapping is not an errors.As chain")

	wrappedProperly := errWrap{inner}
	code, ok := CodeOf(wrappedProperly)
	assert.True(t, ok)
	assert.Equal(t, CodeConnectionTimeout, code)
}

type errWrap struct{ err error }

func (e errWrap) Error() string { return "wrap: " + e.err.Error() }
func (e errWrap) Unwrap() error { return e.err }
