package index

import (
	"context"
	"sync"
	"testing"
	"time"

	"evalgo.org/gridstore/internal/storage"
	"evalgo.org/gridstore/models"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, opts ...Option) (*Index, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	logger, _ := test.NewNullLogger()
	opts = append([]Option{WithLogger(logger)}, opts...)
	return New(uuid.New(), mem, opts...), mem
}

func substation(id string) *models.Resource {
	return &models.Resource{ID: id, Kind: models.KindSubstation, Attributes: &models.SubstationAttributes{
		Country: "FR",
		TSO:     "RTE",
	}}
}

func voltageLevel(id, substationID string) *models.Resource {
	return &models.Resource{ID: id, Kind: models.KindVoltageLevel, Attributes: &models.VoltageLevelAttributes{
		SubstationID: substationID,
		NominalV:     400,
		TopologyKind: "NODE_BREAKER",
	}}
}

func breaker(id, vl string) *models.Resource {
	return &models.Resource{ID: id, Kind: models.KindSwitch, Attributes: &models.SwitchAttributes{
		VoltageLevelID: vl,
		SwitchKind:     "BREAKER",
		Node1:          1,
		Node2:          2,
	}}
}

func line(id, vl1, vl2 string) *models.Resource {
	return &models.Resource{ID: id, Kind: models.KindLine, Attributes: &models.LineAttributes{
		VoltageLevelID1: vl1,
		VoltageLevelID2: vl2,
		R:               1,
		X:               10,
	}}
}

func ids(resources []*models.Resource) []string {
	out := make([]string, 0, len(resources))
	for _, r := range resources {
		out = append(out, r.ID)
	}
	return out
}

// seed writes records straight into the store, bypassing the index.
func seed(t *testing.T, idx *Index, mem *storage.Memory, resources ...*models.Resource) {
	t.Helper()
	for _, r := range resources {
		require.NoError(t, mem.CreateBatch(context.Background(), idx.Network(), r.Kind, []*models.Resource{r}))
	}
	mem.ResetCalls()
}

func TestGetCachesFetchedRecord(t *testing.T) {
	idx, mem := newTestIndex(t)
	seed(t, idx, mem, substation("s1"))
	ctx := context.Background()

	first, err := idx.Get(ctx, models.KindSubstation, "s1")
	require.NoError(t, err)
	second, err := idx.Get(ctx, models.KindSubstation, "s1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, mem.Calls(storage.OpFetchOne))
}

func TestGetNotFoundIsNotCached(t *testing.T) {
	idx, mem := newTestIndex(t)
	ctx := context.Background()

	_, err := idx.Get(ctx, models.KindSubstation, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = idx.Get(ctx, models.KindSubstation, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Equal(t, 2, mem.Calls(storage.OpFetchOne))
	assert.Equal(t, 0, idx.Stats().Records)
}

func TestGetUnknownKind(t *testing.T) {
	idx, mem := newTestIndex(t)

	_, err := idx.Get(context.Background(), models.Kind("TRANSFORMER"), "t1")
	assert.ErrorIs(t, err, models.ErrValidationFailed)
	assert.Equal(t, 0, mem.Calls(storage.OpFetchOne))
}

func TestGetReturnsCopies(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()
	_, err := idx.Create(ctx, substation("s1"))
	require.NoError(t, err)

	got, err := idx.Get(ctx, models.KindSubstation, "s1")
	require.NoError(t, err)
	got.Attributes.(*models.SubstationAttributes).TSO = "changed"

	again, err := idx.Get(ctx, models.KindSubstation, "s1")
	require.NoError(t, err)
	assert.Equal(t, "RTE", again.Attributes.(*models.SubstationAttributes).TSO)
}

func TestConcurrentGetsShareOneFetch(t *testing.T) {
	idx, mem := newTestIndex(t)
	seed(t, idx, mem, substation("s1"))

	release := make(chan struct{})
	mem.SetHook(func(ctx context.Context, op storage.Op, kind models.Kind) error {
		if op == storage.OpFetchOne {
			<-release
		}
		return nil
	})

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*models.Resource, callers)
	errs := make([]error, callers)
	for n := 0; n < callers; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = idx.Get(context.Background(), models.KindSubstation, "s1")
		}(n)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for n := 0; n < callers; n++ {
		require.NoError(t, errs[n])
		assert.Equal(t, results[0], results[n])
	}
	assert.Equal(t, 1, mem.Calls(storage.OpFetchOne))
}

func TestAbandonedCallerDoesNotCancelSharedFetch(t *testing.T) {
	idx, mem := newTestIndex(t)
	seed(t, idx, mem, substation("s1"))

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	mem.SetHook(func(ctx context.Context, op storage.Op, kind models.Kind) error {
		if op == storage.OpFetchOne {
			once.Do(func() { close(started) })
			<-release
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan error, 1)
	go func() {
		_, err := idx.Get(ctx, models.KindSubstation, "s1")
		abandoned <- err
	}()
	<-started

	waiting := make(chan error, 1)
	go func() {
		_, err := idx.Get(context.Background(), models.KindSubstation, "s1")
		waiting <- err
	}()

	cancel()
	assert.ErrorIs(t, <-abandoned, context.Canceled)

	close(release)
	require.NoError(t, <-waiting)

	_, err := idx.Get(context.Background(), models.KindSubstation, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Calls(storage.OpFetchOne))
}

func TestChildrenLoadsOnce(t *testing.T) {
	idx, mem := newTestIndex(t)
	seed(t, idx, mem, voltageLevel("vl1", "s1"), voltageLevel("vl2", "s2"), voltageLevel("vl3", "s1"))
	ctx := context.Background()

	first, err := idx.Children(ctx, "s1", models.KindVoltageLevel)
	require.NoError(t, err)
	second, err := idx.Children(ctx, "s1", models.KindVoltageLevel)
	require.NoError(t, err)

	assert.Equal(t, []string{"vl1", "vl3"}, ids(first))
	assert.Equal(t, ids(first), ids(second))
	assert.Equal(t, 1, mem.Calls(storage.OpFetchMany))

	// loaded children are served without point fetches
	_, err = idx.Get(ctx, models.KindVoltageLevel, "vl3")
	require.NoError(t, err)
	assert.Equal(t, 0, mem.Calls(storage.OpFetchOne))
}

func TestChildrenEmptyContainerIsLoaded(t *testing.T) {
	idx, mem := newTestIndex(t)
	ctx := context.Background()

	for n := 0; n < 3; n++ {
		got, err := idx.Children(ctx, "empty", models.KindVoltageLevel)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
	assert.True(t, idx.IsLoaded("empty", models.KindVoltageLevel))
	assert.Equal(t, 1, mem.Calls(storage.OpFetchMany))
}

func TestChildrenPagesThroughStore(t *testing.T) {
	idx, mem := newTestIndex(t, WithPageSize(2))
	seed(t, idx, mem,
		breaker("sw1", "vl1"), breaker("sw2", "vl1"), breaker("sw3", "vl1"),
		breaker("sw4", "vl1"), breaker("sw5", "vl1"))

	got, err := idx.Children(context.Background(), "vl1", models.KindSwitch)
	require.NoError(t, err)

	assert.Equal(t, []string{"sw1", "sw2", "sw3", "sw4", "sw5"}, ids(got))
	assert.Equal(t, 3, mem.Calls(storage.OpFetchMany))
}

func TestLineIsChildOfBothVoltageLevels(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()
	_, err := idx.Create(ctx, line("l1", "vl1", "vl2"))
	require.NoError(t, err)

	for _, vl := range []string{"vl1", "vl2"} {
		got, err := idx.Children(ctx, vl, models.KindLine)
		require.NoError(t, err)
		assert.Equal(t, []string{"l1"}, ids(got), vl)
	}
}

func TestAllServesContainerListsAndMisses(t *testing.T) {
	idx, mem := newTestIndex(t)
	seed(t, idx, mem, breaker("sw1", "vl1"), breaker("sw2", "vl2"), breaker("sw3", "vl1"))
	ctx := context.Background()

	all, err := idx.All(ctx, models.KindSwitch)
	require.NoError(t, err)
	assert.Equal(t, []string{"sw1", "sw2", "sw3"}, ids(all))

	children, err := idx.Children(ctx, "vl1", models.KindSwitch)
	require.NoError(t, err)
	assert.Equal(t, []string{"sw1", "sw3"}, ids(children))

	_, err = idx.Get(ctx, models.KindSwitch, "sw9")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Equal(t, 1, mem.Calls(storage.OpFetchMany))
	assert.Equal(t, 0, mem.Calls(storage.OpFetchOne))
}

func TestChildrenFetchFailure(t *testing.T) {
	idx, mem := newTestIndex(t)
	mem.SetHook(func(ctx context.Context, op storage.Op, kind models.Kind) error {
		return models.Unavailable(string(op), assert.AnError)
	})

	_, err := idx.Children(context.Background(), "s1", models.KindVoltageLevel)
	assert.ErrorIs(t, err, models.ErrBackingStoreUnavailable)
	assert.False(t, idx.IsLoaded("s1", models.KindVoltageLevel))
}

func TestInvalidateForcesRefetch(t *testing.T) {
	idx, mem := newTestIndex(t)
	seed(t, idx, mem, voltageLevel("vl1", "s1"), voltageLevel("vl2", "s1"))
	ctx := context.Background()

	_, err := idx.Children(ctx, "s1", models.KindVoltageLevel)
	require.NoError(t, err)

	idx.Invalidate(models.KindVoltageLevel, "vl1")
	assert.False(t, idx.IsLoaded("s1", models.KindVoltageLevel))

	_, err = idx.Get(ctx, models.KindVoltageLevel, "vl1")
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Calls(storage.OpFetchOne))

	got, err := idx.Children(ctx, "s1", models.KindVoltageLevel)
	require.NoError(t, err)
	assert.Equal(t, []string{"vl1", "vl2"}, ids(got))
	assert.Equal(t, 2, mem.Calls(storage.OpFetchMany))
}

func TestInvalidateShowsRecordCreatedOutOfBand(t *testing.T) {
	idx, mem := newTestIndex(t)
	seed(t, idx, mem, voltageLevel("vl1", "s1"))
	ctx := context.Background()

	_, err := idx.All(ctx, models.KindVoltageLevel)
	require.NoError(t, err)
	_, err = idx.Children(ctx, "s1", models.KindVoltageLevel)
	require.NoError(t, err)

	// another writer creates vl2; its change is reported by id only
	seed(t, idx, mem, voltageLevel("vl2", "s1"))
	idx.Invalidate(models.KindVoltageLevel, "vl2")

	assert.False(t, idx.IsLoaded("", models.KindVoltageLevel))
	assert.False(t, idx.IsLoaded("s1", models.KindVoltageLevel))

	got, err := idx.Get(ctx, models.KindVoltageLevel, "vl2")
	require.NoError(t, err)
	assert.Equal(t, "vl2", got.ID)

	children, err := idx.Children(ctx, "s1", models.KindVoltageLevel)
	require.NoError(t, err)
	assert.Equal(t, []string{"vl1", "vl2"}, ids(children))
}

func TestInvalidateShowsRecordMovedOutOfBand(t *testing.T) {
	idx, mem := newTestIndex(t)
	seed(t, idx, mem, voltageLevel("vl1", "s1"), voltageLevel("vl3", "s2"))
	ctx := context.Background()

	_, err := idx.Children(ctx, "s1", models.KindVoltageLevel)
	require.NoError(t, err)
	before, err := idx.Children(ctx, "s2", models.KindVoltageLevel)
	require.NoError(t, err)
	require.Equal(t, []string{"vl3"}, ids(before))

	require.NoError(t, mem.UpdateBatch(ctx, idx.Network(), models.KindVoltageLevel, []*models.Resource{voltageLevel("vl1", "s2")}))
	idx.Invalidate(models.KindVoltageLevel, "vl1")

	s1, err := idx.Children(ctx, "s1", models.KindVoltageLevel)
	require.NoError(t, err)
	assert.Empty(t, s1)

	s2, err := idx.Children(ctx, "s2", models.KindVoltageLevel)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"vl1", "vl3"}, ids(s2))
}

func TestInvalidateKeepsOtherRecordsCached(t *testing.T) {
	idx, mem := newTestIndex(t)
	seed(t, idx, mem, voltageLevel("vl1", "s1"), voltageLevel("vl2", "s1"))
	ctx := context.Background()

	_, err := idx.Children(ctx, "s1", models.KindVoltageLevel)
	require.NoError(t, err)
	mem.ResetCalls()

	idx.Invalidate(models.KindVoltageLevel, "vl9")

	_, err = idx.Get(ctx, models.KindVoltageLevel, "vl1")
	require.NoError(t, err)
	assert.Zero(t, mem.Calls(storage.OpFetchOne))
}

// listingClient lists from the store, then waits for the test before
// returning so the store can change under a listing in flight.
type listingClient struct {
	*storage.Memory
	read chan struct{}
	gate chan struct{}
}

func (c *listingClient) FetchMany(ctx context.Context, network uuid.UUID, kind models.Kind, q storage.Query) (*storage.Page, error) {
	page, err := c.Memory.FetchMany(ctx, network, kind, q)
	c.read <- struct{}{}
	<-c.gate
	return page, err
}

func TestInvalidateDuringListingDiscardsList(t *testing.T) {
	logger, _ := test.NewNullLogger()
	client := &listingClient{Memory: storage.NewMemory(), read: make(chan struct{}, 4), gate: make(chan struct{})}
	idx := New(uuid.New(), client, WithLogger(logger))
	seed(t, idx, client.Memory, voltageLevel("vl1", "s1"))
	ctx := context.Background()

	done := make(chan []*models.Resource, 1)
	go func() {
		got, err := idx.Children(ctx, "s1", models.KindVoltageLevel)
		assert.NoError(t, err)
		done <- got
	}()
	<-client.read

	seed(t, idx, client.Memory, voltageLevel("vl2", "s1"))
	idx.Invalidate(models.KindVoltageLevel, "vl2")
	close(client.gate)

	assert.Equal(t, []string{"vl1"}, ids(<-done))
	assert.False(t, idx.IsLoaded("s1", models.KindVoltageLevel))

	got, err := idx.Children(ctx, "s1", models.KindVoltageLevel)
	require.NoError(t, err)
	assert.Equal(t, []string{"vl1", "vl2"}, ids(got))
}

func TestInvalidateAllEmptiesCache(t *testing.T) {
	idx, mem := newTestIndex(t)
	seed(t, idx, mem, voltageLevel("vl1", "s1"))
	ctx := context.Background()

	_, err := idx.Children(ctx, "s1", models.KindVoltageLevel)
	require.NoError(t, err)
	require.Equal(t, Stats{Records: 1, Lists: 1}, idx.Stats())

	idx.InvalidateAll()
	assert.Equal(t, Stats{}, idx.Stats())

	_, err = idx.Get(ctx, models.KindVoltageLevel, "vl1")
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Calls(storage.OpFetchOne))
}

func TestInvalidateAllDuringFetchDiscardsResult(t *testing.T) {
	idx, mem := newTestIndex(t)
	seed(t, idx, mem, substation("s1"))

	started := make(chan struct{})
	release := make(chan struct{})
	mem.SetHook(func(ctx context.Context, op storage.Op, kind models.Kind) error {
		close(started)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := idx.Get(context.Background(), models.KindSubstation, "s1")
		done <- err
	}()
	<-started
	idx.InvalidateAll()
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, 0, idx.Stats().Records)
}

// gatedClient reads from the store, then waits for the test before returning
// so local mutations can land while a fetch holds stale data.
type gatedClient struct {
	*storage.Memory
	read chan struct{}
	gate chan struct{}
}

func (c *gatedClient) FetchOne(ctx context.Context, network uuid.UUID, kind models.Kind, id string) (*models.Resource, error) {
	res, err := c.Memory.FetchOne(ctx, network, kind, id)
	c.read <- struct{}{}
	<-c.gate
	return res, err
}

func newGatedIndex(t *testing.T) (*Index, *gatedClient) {
	t.Helper()
	client := &gatedClient{
		Memory: storage.NewMemory(),
		read:   make(chan struct{}, 1),
		gate:   make(chan struct{}),
	}
	logger, _ := test.NewNullLogger()
	return New(uuid.New(), client, WithLogger(logger)), client
}

func TestStaleFetchDoesNotResurrectRemovedRecord(t *testing.T) {
	idx, client := newGatedIndex(t)
	ctx := context.Background()
	require.NoError(t, client.Memory.CreateBatch(ctx, idx.Network(), models.KindSwitch, []*models.Resource{breaker("sw1", "vl1")}))

	done := make(chan error, 1)
	go func() {
		_, err := idx.Get(ctx, models.KindSwitch, "sw1")
		done <- err
	}()
	<-client.read

	require.NoError(t, idx.Remove(ctx, models.KindSwitch, "sw1"))
	close(client.gate)

	assert.ErrorIs(t, <-done, models.ErrNotFound)
	assert.Equal(t, 0, idx.Stats().Records)
}

func TestStaleFetchYieldsToLocalCreate(t *testing.T) {
	idx, client := newGatedIndex(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := idx.Get(ctx, models.KindSwitch, "sw1")
		done <- err
	}()
	<-client.read

	_, err := idx.Create(ctx, breaker("sw1", "vl1"))
	require.NoError(t, err)
	close(client.gate)

	// the fetch saw no record but the create is already visible
	require.NoError(t, <-done)
	assert.Equal(t, 1, idx.Stats().Records)
}

func TestLoadedSnapshot(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()
	_, err := idx.CreateAll(ctx, models.KindSwitch, []*models.Resource{breaker("b", "vl1"), breaker("a", "vl1")})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, ids(idx.Loaded(models.KindSwitch)))
	assert.Empty(t, idx.Loaded(models.KindLoad))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	idx, mem := newTestIndex(t, WithMetrics(m))
	seed(t, idx, mem, substation("s1"))
	ctx := context.Background()

	_, err := idx.Get(ctx, models.KindSubstation, "s1")
	require.NoError(t, err)
	_, err = idx.Get(ctx, models.KindSubstation, "s1")
	require.NoError(t, err)
	_, err = idx.Get(ctx, models.KindSubstation, "s2")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.hits.WithLabelValues("get")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.misses.WithLabelValues("get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backend.WithLabelValues("fetchOne", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backend.WithLabelValues("fetchOne", "not_found")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.hit("get")
		m.miss("get")
		m.call(storage.OpFetchOne, nil)
		m.setNetworks(3)
	})
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{models.NotFound(models.KindLoad, "x"), "not_found"},
		{models.DuplicateID(models.KindLoad, "x"), "duplicate"},
		{models.Unavailable("fetchOne", assert.AnError), "unavailable"},
		{assert.AnError, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, outcome(tt.err))
		})
	}
}
