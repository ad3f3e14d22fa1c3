package index

import (
	"context"
	"strings"
	"testing"
	"time"

	"evalgo.org/gridstore/internal/storage"
	"evalgo.org/gridstore/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateThenGetRoundTrip(t *testing.T) {
	idx, mem := newTestIndex(t)
	ctx := context.Background()

	in := substation("bar")
	in.Attributes.(*models.SubstationAttributes).GeographicalTags = []string{"north"}
	created, err := idx.Create(ctx, in)
	require.NoError(t, err)

	got, err := idx.Get(ctx, models.KindSubstation, "bar")
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.Equal(t, in.Attributes, got.Attributes)
	assert.Equal(t, 0, mem.Calls(storage.OpFetchOne))

	stored, err := mem.FetchOne(ctx, idx.Network(), models.KindSubstation, "bar")
	require.NoError(t, err)
	assert.Equal(t, in.Attributes, stored.Attributes)
}

func TestCreateGeneratesID(t *testing.T) {
	idx, _ := newTestIndex(t)

	created, err := idx.Create(context.Background(), substation(""))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.ID, "substation-"), created.ID)
}

func TestCreateDuplicate(t *testing.T) {
	t.Run("cached", func(t *testing.T) {
		idx, mem := newTestIndex(t)
		ctx := context.Background()
		_, err := idx.Create(ctx, substation("s1"))
		require.NoError(t, err)

		_, err = idx.Create(ctx, substation("s1"))
		assert.ErrorIs(t, err, models.ErrDuplicateID)
		assert.Equal(t, 1, mem.Calls(storage.OpCreateBatch))
	})

	t.Run("only in store", func(t *testing.T) {
		idx, mem := newTestIndex(t)
		seed(t, idx, mem, substation("s1"))

		_, err := idx.Create(context.Background(), substation("s1"))
		assert.ErrorIs(t, err, models.ErrDuplicateID)
		assert.Equal(t, 0, idx.Stats().Records)
	})

	t.Run("within batch", func(t *testing.T) {
		idx, _ := newTestIndex(t)

		_, err := idx.CreateAll(context.Background(), models.KindSubstation, []*models.Resource{substation("s1"), substation("s1")})
		assert.ErrorIs(t, err, models.ErrDuplicateID)
		assert.Equal(t, 0, idx.Stats().Records)
	})
}

func TestCreateValidation(t *testing.T) {
	idx, mem := newTestIndex(t)
	ctx := context.Background()

	bad := voltageLevel("vl1", "")
	_, err := idx.Create(ctx, bad)
	require.ErrorIs(t, err, models.ErrValidationFailed)

	var merr *models.Error
	require.ErrorAs(t, err, &merr)
	assert.Contains(t, merr.Fields, "attributes.substationId")

	_, err = idx.CreateAll(ctx, models.KindSwitch, []*models.Resource{voltageLevel("vl2", "s1")})
	assert.ErrorIs(t, err, models.ErrValidationFailed)

	assert.Equal(t, 0, mem.Calls(storage.OpCreateBatch))
}

func TestCreateAllIsAtomic(t *testing.T) {
	idx, mem := newTestIndex(t)
	seed(t, idx, mem, breaker("sw2", "vl1"))
	ctx := context.Background()

	_, err := idx.CreateAll(ctx, models.KindSwitch, []*models.Resource{breaker("sw1", "vl1"), breaker("sw2", "vl1")})
	assert.ErrorIs(t, err, models.ErrDuplicateID)

	_, err = mem.FetchOne(ctx, idx.Network(), models.KindSwitch, "sw1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, 0, idx.Stats().Records)
}

func TestCreateAppendsToLoadedChildren(t *testing.T) {
	idx, mem := newTestIndex(t)
	seed(t, idx, mem, breaker("sw1", "vl1"))
	ctx := context.Background()

	_, err := idx.Children(ctx, "vl1", models.KindSwitch)
	require.NoError(t, err)

	_, err = idx.Create(ctx, breaker("sw2", "vl1"))
	require.NoError(t, err)

	got, err := idx.Children(ctx, "vl1", models.KindSwitch)
	require.NoError(t, err)
	assert.Equal(t, []string{"sw1", "sw2"}, ids(got))
	assert.Equal(t, 1, mem.Calls(storage.OpFetchMany))
}

func TestMoveVoltageLevelBetweenSubstations(t *testing.T) {
	idx, mem := newTestIndex(t)
	ctx := context.Background()

	_, err := idx.Create(ctx, substation("bar"))
	require.NoError(t, err)
	_, err = idx.Create(ctx, voltageLevel("baz", "bar"))
	require.NoError(t, err)

	got, err := idx.Children(ctx, "bar", models.KindVoltageLevel)
	require.NoError(t, err)
	assert.Equal(t, []string{"baz"}, ids(got))

	_, err = idx.Create(ctx, substation("bar2"))
	require.NoError(t, err)
	_, err = idx.Update(ctx, models.KindVoltageLevel, "baz", func(r *models.Resource) error {
		r.Attributes.(*models.VoltageLevelAttributes).SubstationID = "bar2"
		return nil
	})
	require.NoError(t, err)

	got, err = idx.Children(ctx, "bar", models.KindVoltageLevel)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = idx.Children(ctx, "bar2", models.KindVoltageLevel)
	require.NoError(t, err)
	assert.Equal(t, []string{"baz"}, ids(got))

	// the store agrees with the cache
	page, err := mem.FetchMany(ctx, idx.Network(), models.KindVoltageLevel, storage.Query{ContainerID: "bar2"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalCount)
}

func TestMoveKeepsListingOrder(t *testing.T) {
	idx, mem := newTestIndex(t)
	seed(t, idx, mem, breaker("sw1", "vl1"), breaker("sw2", "vl2"), breaker("sw3", "vl1"))
	ctx := context.Background()

	_, err := idx.All(ctx, models.KindSwitch)
	require.NoError(t, err)
	_, err = idx.Children(ctx, "vl1", models.KindSwitch)
	require.NoError(t, err)

	_, err = idx.Update(ctx, models.KindSwitch, "sw2", func(r *models.Resource) error {
		r.Attributes.(*models.SwitchAttributes).VoltageLevelID = "vl1"
		return nil
	})
	require.NoError(t, err)

	got, err := idx.Children(ctx, "vl1", models.KindSwitch)
	require.NoError(t, err)
	assert.Equal(t, []string{"sw1", "sw2", "sw3"}, ids(got))

	got, err = idx.Children(ctx, "vl2", models.KindSwitch)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, mem.Calls(storage.OpFetchMany))
}

func TestMoveIntoUnorderedListReloads(t *testing.T) {
	idx, mem := newTestIndex(t)
	seed(t, idx, mem, breaker("sw1", "vl2"), breaker("sw2", "vl1"))
	ctx := context.Background()

	_, err := idx.Children(ctx, "vl2", models.KindSwitch)
	require.NoError(t, err)
	_, err = idx.Children(ctx, "vl1", models.KindSwitch)
	require.NoError(t, err)

	_, err = idx.Update(ctx, models.KindSwitch, "sw1", func(r *models.Resource) error {
		r.Attributes.(*models.SwitchAttributes).VoltageLevelID = "vl1"
		return nil
	})
	require.NoError(t, err)
	assert.False(t, idx.IsLoaded("vl1", models.KindSwitch))

	got, err := idx.Children(ctx, "vl1", models.KindSwitch)
	require.NoError(t, err)
	assert.Equal(t, []string{"sw1", "sw2"}, ids(got))
}

func TestUpdateSwitchOpen(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()
	_, err := idx.Create(ctx, breaker("sw1", "vl1"))
	require.NoError(t, err)

	_, err = idx.Update(ctx, models.KindSwitch, "sw1", func(r *models.Resource) error {
		r.Attributes.(*models.SwitchAttributes).Open = true
		return nil
	})
	require.NoError(t, err)

	got, err := idx.Get(ctx, models.KindSwitch, "sw1")
	require.NoError(t, err)
	attrs := got.Attributes.(*models.SwitchAttributes)
	assert.True(t, attrs.Open)
	assert.Equal(t, 1, attrs.Node1)
	assert.Equal(t, 2, attrs.Node2)
	assert.Equal(t, "BREAKER", attrs.SwitchKind)
}

func TestUpdateGeneratorRegulatingTerminal(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()
	gen := &models.Resource{ID: "gen1", Kind: models.KindGenerator, Attributes: &models.GeneratorAttributes{
		InjectionAttributes: models.InjectionAttributes{VoltageLevelID: "vl1", Node: 4},
		EnergySource:        "HYDRO",
		MinP:                -20,
		MaxP:                100,
		TargetP:             50,
		TargetV:             400,
		VoltageRegulatorOn:  true,
		RegulatingTerminal:  &models.TerminalRef{ConnectableID: "idEq", Side: "ONE"},
	}}
	_, err := idx.Create(ctx, gen)
	require.NoError(t, err)

	_, err = idx.Update(ctx, models.KindGenerator, "gen1", func(r *models.Resource) error {
		rt := r.Attributes.(*models.GeneratorAttributes).RegulatingTerminal
		rt.ConnectableID = "idEq2"
		rt.Side = "TWO"
		return nil
	})
	require.NoError(t, err)

	got, err := idx.Get(ctx, models.KindGenerator, "gen1")
	require.NoError(t, err)
	attrs := got.Attributes.(*models.GeneratorAttributes)
	assert.Equal(t, &models.TerminalRef{ConnectableID: "idEq2", Side: "TWO"}, attrs.RegulatingTerminal)
	assert.Equal(t, 50.0, attrs.TargetP)
	assert.Equal(t, 400.0, attrs.TargetV)
	assert.Equal(t, 4, attrs.Node)
	assert.True(t, attrs.VoltageRegulatorOn)
}

func TestUpdateSequenceKeepsLast(t *testing.T) {
	idx, mem := newTestIndex(t)
	ctx := context.Background()
	_, err := idx.Create(ctx, substation("s1"))
	require.NoError(t, err)

	for _, tso := range []string{"A", "B", "C"} {
		_, err := idx.Update(ctx, models.KindSubstation, "s1", func(r *models.Resource) error {
			r.Attributes.(*models.SubstationAttributes).TSO = tso
			return nil
		})
		require.NoError(t, err)
	}

	got, err := idx.Get(ctx, models.KindSubstation, "s1")
	require.NoError(t, err)
	assert.Equal(t, "C", got.Attributes.(*models.SubstationAttributes).TSO)
	assert.Equal(t, 3, mem.Calls(storage.OpUpdateBatch))
}

func TestUpdateErrors(t *testing.T) {
	idx, mem := newTestIndex(t)
	ctx := context.Background()
	_, err := idx.Create(ctx, breaker("sw1", "vl1"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		id     string
		mutate func(*models.Resource) error
		want   error
	}{
		{
			name:   "missing",
			id:     "sw9",
			mutate: func(*models.Resource) error { return nil },
			want:   models.ErrNotFound,
		},
		{
			name:   "id change",
			id:     "sw1",
			mutate: func(r *models.Resource) error { r.ID = "sw2"; return nil },
			want:   models.ErrUnsupportedMutation,
		},
		{
			name: "invalid result",
			id:   "sw1",
			mutate: func(r *models.Resource) error {
				r.Attributes.(*models.SwitchAttributes).SwitchKind = "FUSE"
				return nil
			},
			want: models.ErrValidationFailed,
		},
		{
			name:   "mutator error",
			id:     "sw1",
			mutate: func(*models.Resource) error { return models.UnsupportedMutation(models.KindSwitch, "sw1", "test") },
			want:   models.ErrUnsupportedMutation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := idx.Update(ctx, models.KindSwitch, tt.id, tt.mutate)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, 0, mem.Calls(storage.OpUpdateBatch))
	got, err := idx.Get(ctx, models.KindSwitch, "sw1")
	require.NoError(t, err)
	assert.Equal(t, "BREAKER", got.Attributes.(*models.SwitchAttributes).SwitchKind)
}

func TestUpdateAllIsAtomic(t *testing.T) {
	idx, mem := newTestIndex(t)
	ctx := context.Background()
	_, err := idx.CreateAll(ctx, models.KindSwitch, []*models.Resource{breaker("sw1", "vl1"), breaker("sw2", "vl1")})
	require.NoError(t, err)

	open := func(r *models.Resource) error {
		r.Attributes.(*models.SwitchAttributes).Open = true
		return nil
	}
	_, err = idx.UpdateAll(ctx, models.KindSwitch, []Patch{
		{ID: "sw1", Apply: open},
		{ID: "sw2", Apply: func(r *models.Resource) error {
			r.Attributes.(*models.SwitchAttributes).VoltageLevelID = ""
			return nil
		}},
	})
	assert.ErrorIs(t, err, models.ErrValidationFailed)
	assert.Equal(t, 0, mem.Calls(storage.OpUpdateBatch))

	out, err := idx.UpdateAll(ctx, models.KindSwitch, []Patch{{ID: "sw1", Apply: open}, {ID: "sw2", Apply: open}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, r := range out {
		assert.True(t, r.Attributes.(*models.SwitchAttributes).Open)
	}
}

func TestUpdateUnavailableDropsRecord(t *testing.T) {
	idx, mem := newTestIndex(t)
	ctx := context.Background()
	_, err := idx.Create(ctx, breaker("sw1", "vl1"))
	require.NoError(t, err)

	mem.SetHook(func(ctx context.Context, op storage.Op, kind models.Kind) error {
		if op == storage.OpUpdateBatch {
			return models.Unavailable(string(op), assert.AnError)
		}
		return nil
	})
	_, err = idx.Update(ctx, models.KindSwitch, "sw1", func(r *models.Resource) error {
		r.Attributes.(*models.SwitchAttributes).Open = true
		return nil
	})
	assert.ErrorIs(t, err, models.ErrBackingStoreUnavailable)
	assert.Equal(t, 0, idx.Stats().Records)

	got, err := idx.Get(ctx, models.KindSwitch, "sw1")
	require.NoError(t, err)
	assert.False(t, got.Attributes.(*models.SwitchAttributes).Open)
}

func TestWriteIgnoresCallerCancellation(t *testing.T) {
	idx, mem := newTestIndex(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := idx.Create(ctx, substation("s1"))
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Calls(storage.OpCreateBatch))
}

func TestRemove(t *testing.T) {
	idx, mem := newTestIndex(t)
	seed(t, idx, mem, voltageLevel("vl1", "s1"), voltageLevel("vl2", "s1"))
	ctx := context.Background()

	_, err := idx.Children(ctx, "s1", models.KindVoltageLevel)
	require.NoError(t, err)

	require.NoError(t, idx.Remove(ctx, models.KindVoltageLevel, "vl1"))

	_, err = idx.Get(ctx, models.KindVoltageLevel, "vl1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	got, err := idx.Children(ctx, "s1", models.KindVoltageLevel)
	require.NoError(t, err)
	assert.Equal(t, []string{"vl2"}, ids(got))
	assert.Equal(t, 1, mem.Calls(storage.OpFetchMany))

	err = idx.Remove(ctx, models.KindVoltageLevel, "vl1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRemoveDoesNotCascadeReferences(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()
	_, err := idx.Create(ctx, voltageLevel("vl1", "s1"))
	require.NoError(t, err)
	_, err = idx.Create(ctx, breaker("sw1", "vl1"))
	require.NoError(t, err)

	require.NoError(t, idx.Remove(ctx, models.KindVoltageLevel, "vl1"))

	got, err := idx.Get(ctx, models.KindSwitch, "sw1")
	require.NoError(t, err)
	assert.Equal(t, "vl1", got.Attributes.(*models.SwitchAttributes).VoltageLevelID)
}

func TestRemoveEmpty(t *testing.T) {
	idx, mem := newTestIndex(t)
	seed(t, idx, mem, substation("s1"), substation("s2"), voltageLevel("vl1", "s1"))
	ctx := context.Background()

	err := idx.RemoveEmpty(ctx, models.KindSubstation, "s1", models.KindVoltageLevel)
	assert.ErrorIs(t, err, models.ErrUnsupportedMutation)
	_, err = idx.Get(ctx, models.KindSubstation, "s1")
	assert.NoError(t, err)

	require.NoError(t, idx.RemoveEmpty(ctx, models.KindSubstation, "s2", models.KindVoltageLevel))
	_, err = idx.Get(ctx, models.KindSubstation, "s2")
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = idx.RemoveEmpty(ctx, models.KindSubstation, "s1", models.KindSwitch)
	assert.ErrorIs(t, err, models.ErrValidationFailed)
}

func TestRemoveEmptyHoldsOffNewChildren(t *testing.T) {
	logger, _ := test.NewNullLogger()
	client := &listingClient{Memory: storage.NewMemory(), read: make(chan struct{}, 4), gate: make(chan struct{})}
	idx := New(uuid.New(), client, WithLogger(logger))
	seed(t, idx, client.Memory, substation("s1"))
	ctx := context.Background()

	removed := make(chan error, 1)
	go func() {
		removed <- idx.RemoveEmpty(ctx, models.KindSubstation, "s1", models.KindVoltageLevel)
	}()
	<-client.read

	created := make(chan error, 1)
	go func() {
		_, err := idx.Create(ctx, voltageLevel("vl1", "s1"))
		created <- err
	}()
	select {
	case err := <-created:
		t.Fatalf("Create finished while the removal was checking: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(client.gate)
	require.NoError(t, <-removed)
	require.NoError(t, <-created)

	_, err := idx.Get(ctx, models.KindSubstation, "s1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	got, err := idx.Children(ctx, "s1", models.KindVoltageLevel)
	require.NoError(t, err)
	assert.Equal(t, []string{"vl1"}, ids(got))
}

func TestHoldKeysSortAfterRecordKeys(t *testing.T) {
	hold := holdKey(models.KindSubstation, "a")
	for _, kind := range models.Kinds() {
		assert.Less(t, recordKey{kind, "zzz"}.String(), hold, kind)
	}
	assert.Empty(t, holds(models.KindSubstation, []*models.Resource{substation("s1")}))
	assert.Equal(t, []string{holdKey(models.KindVoltageLevel, "vl1"), holdKey(models.KindVoltageLevel, "vl2")},
		holds(models.KindLine, []*models.Resource{line("l1", "vl1", "vl2")}))
}

func TestExtensions(t *testing.T) {
	idx, mem := newTestIndex(t)
	ctx := context.Background()
	_, err := idx.Create(ctx, substation("s1"))
	require.NoError(t, err)

	_, err = idx.Extension(ctx, models.KindSubstation, "s1", models.ExtensionEntsoeArea)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = idx.AddExtension(ctx, models.KindSubstation, "s1", &models.EntsoeArea{Code: "FR"})
	require.NoError(t, err)
	_, err = idx.AddExtension(ctx, models.KindSubstation, "s1", &models.EntsoeArea{Code: "BE"})
	require.NoError(t, err)

	ext, err := idx.Extension(ctx, models.KindSubstation, "s1", models.ExtensionEntsoeArea)
	require.NoError(t, err)
	assert.Equal(t, &models.EntsoeArea{Code: "BE"}, ext)

	// one point fetch returns the owner with its extensions
	fresh := New(idx.Network(), mem)
	got, err := fresh.Get(ctx, models.KindSubstation, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{models.ExtensionEntsoeArea}, got.ExtensionNames())

	_, err = idx.RemoveExtension(ctx, models.KindSubstation, "s1", models.ExtensionEntsoeArea)
	require.NoError(t, err)
	_, err = idx.Extension(ctx, models.KindSubstation, "s1", models.ExtensionEntsoeArea)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = idx.RemoveExtension(ctx, models.KindSubstation, "s1", models.ExtensionEntsoeArea)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAddExtensionRejected(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()
	_, err := idx.Create(ctx, substation("s1"))
	require.NoError(t, err)

	_, err = idx.AddExtension(ctx, models.KindSubstation, "s1", &models.LoadDetail{})
	assert.ErrorIs(t, err, models.ErrValidationFailed)

	_, err = idx.AddExtension(ctx, models.KindSubstation, "s1", &models.EntsoeArea{})
	assert.ErrorIs(t, err, models.ErrValidationFailed)
}

func TestListenersSeeMutations(t *testing.T) {
	var events []Event
	idx, _ := newTestIndex(t, WithListener(func(ev Event) { events = append(events, ev) }))
	ctx := context.Background()

	_, err := idx.Create(ctx, breaker("sw1", "vl1"))
	require.NoError(t, err)
	_, err = idx.Update(ctx, models.KindSwitch, "sw1", func(r *models.Resource) error {
		r.Attributes.(*models.SwitchAttributes).Retained = true
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, idx.Remove(ctx, models.KindSwitch, "sw1"))
	idx.Invalidate(models.KindSwitch, "sw1")

	require.Len(t, events, 4)
	types := []EventType{events[0].Type, events[1].Type, events[2].Type, events[3].Type}
	assert.Equal(t, []EventType{EventCreated, EventUpdated, EventRemoved, EventInvalidated}, types)
	for _, ev := range events {
		assert.Equal(t, idx.Network(), ev.Network)
		assert.Equal(t, "sw1", ev.ID)
	}
	assert.True(t, events[1].Resource.Attributes.(*models.SwitchAttributes).Retained)
	assert.Nil(t, events[2].Resource)
}
