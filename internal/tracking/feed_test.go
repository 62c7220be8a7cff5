package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/OCAP2/bodytrack/pkg/core"
)

func TestFeed_DeliversInSubscriptionOrder(t *testing.T) {
	f := NewFeed()
	var got []string
	f.Subscribe(func(core.BodiesChanged) { got = append(got, "a") })
	f.Subscribe(func(core.BodiesChanged) { got = append(got, "b") })

	f.Publish(core.BodiesChanged{Frame: 1})

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 2, f.Subscribers())
}

func TestFeed_Unsubscribe(t *testing.T) {
	f := NewFeed()
	var frames []uint64
	sub := f.Subscribe(func(ev core.BodiesChanged) { frames = append(frames, ev.Frame) })

	f.Publish(core.BodiesChanged{Frame: 1})
	sub.Unsubscribe()
	sub.Unsubscribe()
	f.Publish(core.BodiesChanged{Frame: 2})

	assert.Equal(t, []uint64{1}, frames)
	assert.Equal(t, 0, f.Subscribers())
}

func TestFeed_UnsubscribeOnlyRemovesOwnHandler(t *testing.T) {
	f := NewFeed()
	calls := map[string]int{}
	a := f.Subscribe(func(core.BodiesChanged) { calls["a"]++ })
	f.Subscribe(func(core.BodiesChanged) { calls["b"]++ })

	a.Unsubscribe()
	f.Publish(core.BodiesChanged{})

	assert.Equal(t, 0, calls["a"])
	assert.Equal(t, 1, calls["b"])
}

func TestFeed_HandlerMayUnsubscribeDuringPublish(t *testing.T) {
	f := NewFeed()
	count := 0
	var sub Subscription
	sub = f.Subscribe(func(core.BodiesChanged) {
		count++
		sub.Unsubscribe()
	})

	f.Publish(core.BodiesChanged{})
	f.Publish(core.BodiesChanged{})

	assert.Equal(t, 1, count)
}
