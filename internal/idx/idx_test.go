package idx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPutRoundTrip(t *testing.T) {
	a := New()
	require.Equal(t, Count, a.Available())

	ctx := context.Background()
	e, err := a.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, Count-1, a.Available())

	a.Put(e)
	assert.Equal(t, Count, a.Available())
}

func TestSaturationBlocksUntilPut(t *testing.T) {
	a := New()
	ctx := context.Background()

	held := make([]*Entry, 0, Count)
	for i := 0; i < Count; i++ {
		e, err := a.Get(ctx)
		require.NoError(t, err)
		held = append(held, e)
	}
	assert.Equal(t, 0, a.Available())

	// The 257th request must block until a prior Put.
	done := make(chan *Entry, 1)
	go func() {
		e, err := a.Get(ctx)
		require.NoError(t, err)
		done <- e
	}()

	select {
	case <-done:
		t.Fatal("Get returned before any index was freed")
	case <-time.After(20 * time.Millisecond):
	}

	a.Put(held[0])

	select {
	case e := <-done:
		assert.NotNil(t, e)
	case <-time.After(time.Second):
		t.Fatal("Get did not unblock after Put")
	}
}

func TestGetDeadlineExpires(t *testing.T) {
	a := New()
	ctx := context.Background()
	for i := 0; i < Count; i++ {
		_, err := a.Get(ctx)
		require.NoError(t, err)
	}

	shortCtx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := a.Get(shortCtx)
	assert.Error(t, err)
}

func TestPutNotHeldPanics(t *testing.T) {
	a := New()
	assert.Panics(t, func() {
		a.Put(&Entry{Idx: 5, Waiter: make(chan struct{}, 1)})
	})
}
