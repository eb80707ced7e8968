package bus

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestBus() *InProcessBus {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEmit_DeliversToAllSubscribers(t *testing.T) {
	b := newTestBus()
	var got1, got2 any
	b.On(TopicSessionUpdated, func(p any) { got1 = p })
	b.On(TopicSessionUpdated, func(p any) { got2 = p })

	b.Emit(TopicSessionUpdated, "payload")

	assert.Equal(t, "payload", got1)
	assert.Equal(t, "payload", got2)
}

func TestOnce_FiresExactlyOnce(t *testing.T) {
	b := newTestBus()
	count := 0
	b.Once(TopicDevicesUpdated, func(p any) { count++ })

	b.Emit(TopicDevicesUpdated, nil)
	b.Emit(TopicDevicesUpdated, nil)
	b.Emit(TopicDevicesUpdated, nil)

	assert.Equal(t, 1, count)
}

func TestOff_StopsDelivery(t *testing.T) {
	b := newTestBus()
	count := 0
	h := func(p any) { count++ }
	b.On(TopicPipeline1Push, h)
	b.Emit(TopicPipeline1Push, nil)
	b.Off(TopicPipeline1Push, h)
	b.Emit(TopicPipeline1Push, nil)

	assert.Equal(t, 1, count)
}

func TestUnsubscribe_ViaReturnedFunc(t *testing.T) {
	b := newTestBus()
	count := 0
	unsub := b.On(TopicPipeline1Push, func(p any) { count++ })
	b.Emit(TopicPipeline1Push, nil)
	unsub()
	b.Emit(TopicPipeline1Push, nil)

	assert.Equal(t, 1, count)
}

func TestEmit_PanickingHandlerDoesNotAbortOthers(t *testing.T) {
	b := newTestBus()
	secondRan := false
	b.On(TopicSessionUpdated, func(p any) { panic("boom") })
	b.On(TopicSessionUpdated, func(p any) { secondRan = true })

	assert.NotPanics(t, func() {
		b.Emit(TopicSessionUpdated, nil)
	})
	assert.True(t, secondRan)
}
