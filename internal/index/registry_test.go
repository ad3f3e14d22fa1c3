package index

import (
	"context"
	"testing"

	"evalgo.org/gridstore/internal/storage"
	"evalgo.org/gridstore/models"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, max int) (*Registry, *Metrics) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	m := NewMetrics(prometheus.NewRegistry())
	r, err := NewRegistry(storage.NewMemory(), max, logger, m, WithPageSize(10))
	require.NoError(t, err)
	return r, m
}

func TestRegistryReturnsSameIndex(t *testing.T) {
	r, m := newTestRegistry(t, 4)
	a, b := uuid.New(), uuid.New()

	assert.Same(t, r.Index(a), r.Index(a))
	assert.NotSame(t, r.Index(a), r.Index(b))
	assert.Equal(t, a, r.Index(a).Network())
	assert.Equal(t, 10, r.Index(a).pageSize)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.networks))
}

func TestRegistryEvictsLeastRecentlyUsed(t *testing.T) {
	r, m := newTestRegistry(t, 2)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	first := r.Index(a)
	r.Index(b)
	r.Index(a)
	r.Index(c)

	assert.ElementsMatch(t, []uuid.UUID{a, c}, r.Networks())
	_, ok := r.Lookup(b)
	assert.False(t, ok)
	assert.Same(t, first, r.Index(a))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.networks))
}

func TestRegistryDrop(t *testing.T) {
	r, m := newTestRegistry(t, 4)
	network := uuid.New()
	ctx := context.Background()

	idx := r.Index(network)
	_, err := idx.Create(ctx, substation("s1"))
	require.NoError(t, err)

	r.Drop(network)
	assert.Equal(t, 0, idx.Stats().Records)
	assert.Empty(t, r.Networks())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.networks))

	// a new index is built on the next access and reads through to the store
	got, err := r.Index(network).Get(ctx, models.KindSubstation, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
}

func TestRegistryInvalidateAll(t *testing.T) {
	r, _ := newTestRegistry(t, 4)
	ctx := context.Background()

	var held []*Index
	for n := 0; n < 3; n++ {
		idx := r.Index(uuid.New())
		_, err := idx.Create(ctx, substation("s1"))
		require.NoError(t, err)
		held = append(held, idx)
	}

	r.InvalidateAll()
	for _, idx := range held {
		assert.Equal(t, Stats{}, idx.Stats())
	}
}

func TestNetworksAreIsolated(t *testing.T) {
	r, _ := newTestRegistry(t, 4)
	ctx := context.Background()
	a, b := r.Index(uuid.New()), r.Index(uuid.New())

	_, err := a.Create(ctx, substation("s1"))
	require.NoError(t, err)

	_, err = b.Get(ctx, models.KindSubstation, "s1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = b.Create(ctx, substation("s1"))
	assert.NoError(t, err)
}
