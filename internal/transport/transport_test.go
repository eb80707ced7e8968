package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_StartsClosed(t *testing.T) {
	tr := New()
	assert.Equal(t, StateClosed, tr.ReadyState())
}

func TestClose_NilConnIsNoop(t *testing.T) {
	tr := New()
	assert.NoError(t, tr.Close(1000, "never opened"))
}

func TestOnCallbacks_AreStoredNotInvoked(t *testing.T) {
	tr := New()
	called := false
	tr.OnOpen(func() { called = true })
	tr.OnMessage(func([]byte) { called = true })
	tr.OnError(func(error) { called = true })
	tr.OnClose(func(CloseInfo) { called = true })

	assert.False(t, called)
}
