package agenterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesWrappedKind(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindTransient, "request failed", cause)

	wrapped := fmt.Errorf("outer: %w", err)

	assert.True(t, Is(wrapped, KindTransient))
	assert.False(t, Is(wrapped, KindInternal))
}

func TestIs_FalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindTransient))
}

func TestError_MessageIncludesCause(t *testing.T) {
	err := Wrap(KindDecryptFailure, "bad tag", errors.New("cipher: message authentication failed"))
	assert.Contains(t, err.Error(), "decrypt_failure")
	assert.Contains(t, err.Error(), "bad tag")
	assert.Contains(t, err.Error(), "cipher: message authentication failed")
}

func TestUnwrap_ReachesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(KindInternal, "ctx", cause)
	assert.Same(t, cause, errors.Unwrap(err))
}
