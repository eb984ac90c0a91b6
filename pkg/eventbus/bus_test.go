package eventbus_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aussiebroadwan/authkit/pkg/eventbus"
	"github.com/stretchr/testify/require"
)

type kind int

const (
	kindA kind = iota
	kindB
)

func TestSubscribeEmitOrder(t *testing.T) {
	t.Parallel()

	bus := eventbus.New[kind, string]()
	var got []string

	_, err := bus.Subscribe(kindA, func(s string) { got = append(got, "first:"+s) })
	require.NoError(t, err)
	_, err = bus.Subscribe(kindA, func(s string) { got = append(got, "second:"+s) })
	require.NoError(t, err)
	_, err = bus.Subscribe(kindB, func(s string) { got = append(got, "other:"+s) })
	require.NoError(t, err)

	require.Equal(t, 2, bus.Emit(kindA, "x"))
	require.Equal(t, []string{"first:x", "second:x"}, got)
}

func TestUnsubscribeRemovesOnlyThatListener(t *testing.T) {
	t.Parallel()

	bus := eventbus.New[kind, int]()
	var a, b int

	unsubA, err := bus.Subscribe(kindA, func(int) { a++ })
	require.NoError(t, err)
	_, err = bus.Subscribe(kindA, func(int) { b++ })
	require.NoError(t, err)

	bus.Emit(kindA, 0)
	unsubA()
	unsubA() // idempotent
	bus.Emit(kindA, 0)

	require.Equal(t, 1, a)
	require.Equal(t, 2, b)
	require.Equal(t, 1, bus.ListenerCount(kindA))
}

func TestSubscribeOnce(t *testing.T) {
	t.Parallel()

	bus := eventbus.New[kind, int]()
	var calls int

	_, err := bus.SubscribeOnce(kindA, func(int) { calls++ })
	require.NoError(t, err)

	bus.Emit(kindA, 1)
	bus.Emit(kindA, 2)
	require.Equal(t, 1, calls)
	require.Zero(t, bus.ListenerCount(kindA))

	t.Run("unsubscribed before firing", func(t *testing.T) {
		var fired bool
		unsub, err := bus.SubscribeOnce(kindB, func(int) { fired = true })
		require.NoError(t, err)
		unsub()
		bus.Emit(kindB, 0)
		require.False(t, fired)
	})
}

func TestSubscribeOnceConcurrentEmit(t *testing.T) {
	t.Parallel()

	bus := eventbus.New[kind, int]()
	var calls atomic.Int32
	_, err := bus.SubscribeOnce(kindA, func(int) { calls.Add(1) })
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(kindA, 0)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
}

func TestMaxListeners(t *testing.T) {
	t.Parallel()

	bus := eventbus.New[kind, int]()
	bus.SetMaxListeners(1)

	unsub, err := bus.Subscribe(kindA, func(int) {})
	require.NoError(t, err)

	_, err = bus.Subscribe(kindA, func(int) {})
	require.ErrorIs(t, err, eventbus.ErrListenerLimitExceeded)

	// Other keys have their own budget.
	_, err = bus.Subscribe(kindB, func(int) {})
	require.NoError(t, err)

	unsub()
	_, err = bus.Subscribe(kindA, func(int) {})
	require.NoError(t, err)
}

func TestNilListener(t *testing.T) {
	t.Parallel()

	bus := eventbus.New[kind, int]()
	_, err := bus.Subscribe(kindA, nil)
	require.ErrorIs(t, err, eventbus.ErrNilListener)
}

func TestUnsubscribeAll(t *testing.T) {
	t.Parallel()

	bus := eventbus.New[kind, int]()
	for _, k := range []kind{kindA, kindA, kindB} {
		_, err := bus.Subscribe(k, func(int) {})
		require.NoError(t, err)
	}

	bus.UnsubscribeAll(kindA)
	require.Zero(t, bus.ListenerCount(kindA))
	require.Equal(t, 1, bus.ListenerCount(kindB))

	bus.UnsubscribeAll()
	require.Zero(t, bus.Emit(kindB, 0))
}

func TestListenerMaySubscribeDuringEmit(t *testing.T) {
	t.Parallel()

	bus := eventbus.New[kind, int]()
	var inner int
	_, err := bus.Subscribe(kindA, func(int) {
		_, _ = bus.Subscribe(kindB, func(int) { inner++ })
	})
	require.NoError(t, err)

	bus.Emit(kindA, 0)
	bus.Emit(kindB, 0)
	require.Equal(t, 1, inner)
}
