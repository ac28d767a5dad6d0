package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPutAvailability(t *testing.T) {
	p := New(4)
	assert.Equal(t, 4, p.Available())

	e, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, p.Available())
	assert.Len(t, e.Data, EntrySize)

	p.Put(e)
	assert.Equal(t, 4, p.Available())
}

func TestGetBlocksWhenEmpty(t *testing.T) {
	p := New(1)
	e, err := p.Get(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Get(ctx)
	assert.Error(t, err)

	p.Put(e)
}

func TestPutHeadOrdering(t *testing.T) {
	p := New(3)
	a, _ := p.Get(context.Background())
	b, _ := p.Get(context.Background())
	p.Put(a)
	p.PutHead(b)

	first, _ := p.TryGet()
	assert.Same(t, b, first)
}
